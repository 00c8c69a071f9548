package untrunc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoOutput is returned when neither output location holds a file.
var ErrNoOutput = errors.New("untrunc produced no output")

// Source says where the repaired file was found.
type Source int

const (
	// SourceDst is the path passed with -dst.
	SourceDst Source = iota + 1
	// SourceFallback is the tool's own <stem>_fixed<ext> next to the input.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceDst:
		return "dst"
	case SourceFallback:
		return "fallback"
	}
	return "none"
}

// OutputPolicy locates the repaired file in two steps: the -dst path, then
// the tool's default name beside the input. A fallback hit is moved to the
// -dst path so callers only ever deal with one location.
type OutputPolicy struct{}

// FallbackPath returns <dir>/<stem>_fixed<ext> for input.
func FallbackPath(input string) string {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(filepath.Base(input), ext)
	return filepath.Join(filepath.Dir(input), stem+"_fixed"+ext)
}

// Resolve returns the source and size of the repaired file, which is at dst
// on success.
func (OutputPolicy) Resolve(input, dst string) (Source, int64, error) {
	if info, err := os.Stat(dst); err == nil && info.Mode().IsRegular() {
		return SourceDst, info.Size(), nil
	}

	fallback := FallbackPath(input)
	info, err := os.Stat(fallback)
	if err != nil || !info.Mode().IsRegular() {
		return 0, 0, fmt.Errorf("%w at %s or %s", ErrNoOutput, dst, fallback)
	}
	if err := os.Rename(fallback, dst); err != nil {
		return 0, 0, fmt.Errorf("move %s to %s: %w", fallback, dst, err)
	}
	return SourceFallback, info.Size(), nil
}
