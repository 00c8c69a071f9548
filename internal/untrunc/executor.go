// Package untrunc runs the external untrunc repair tool and locates the
// file it produced.
//
// The tool's contract is fixed:
//
//	untrunc -n -s -dst <output> <reference> <input>
//
// -n disables prompts and -s steps over unknown sequences. Exit status 0
// does not guarantee a usable output; callers must check what OutputPolicy
// finds.
package untrunc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single repair invocation.
const DefaultTimeout = time.Hour

// waitDelay caps how long Run waits for output pipes after a kill.
const waitDelay = 2 * time.Second

// maxOutputChars is how much combined tool output is kept on failure.
const maxOutputChars = 500

// fallbackPaths are searched when untrunc is not on PATH.
var fallbackPaths = []string{
	"/usr/local/bin/untrunc",
	"/usr/bin/untrunc",
	"/app/bin/untrunc",
}

// ErrBinaryNotFound is returned when no untrunc executable can be located.
var ErrBinaryNotFound = errors.New("untrunc binary not found")

// FindBinary returns the path of the untrunc executable.
func FindBinary() (string, error) {
	if path, err := exec.LookPath("untrunc"); err == nil {
		return path, nil
	}
	for _, p := range fallbackPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return p, nil
		}
	}
	return "", ErrBinaryNotFound
}

// ExitError reports a non-zero exit or a timeout. Output is the tail of the
// tool's combined stdout and stderr.
type ExitError struct {
	Code     int
	Output   string
	TimedOut bool
}

func (e *ExitError) Error() string {
	if e.TimedOut {
		return "untrunc timed out"
	}
	if e.Output == "" {
		return fmt.Sprintf("untrunc exited with code %d", e.Code)
	}
	return fmt.Sprintf("untrunc exited with code %d: %s", e.Code, e.Output)
}

// Executor invokes the repair tool.
type Executor struct {
	Binary  string
	Timeout time.Duration
}

// NewExecutor returns an executor for binary. A zero timeout means
// DefaultTimeout.
func NewExecutor(binary string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{Binary: binary, Timeout: timeout}
}

// BuildArgs returns the argument list for one repair.
func BuildArgs(reference, input, dst string) []string {
	return []string{"-n", "-s", "-dst", dst, reference, input}
}

// Run repairs input using reference, asking the tool to write dst. It
// returns the tool's combined output. A non-zero exit or a timeout returns
// an *ExitError.
func (e *Executor) Run(ctx context.Context, reference, input, dst string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	args := BuildArgs(reference, input, dst)
	log.Debug().
		Str("binary", e.Binary).
		Strs("args", args).
		Dur("timeout", e.Timeout).
		Msg("Running untrunc")

	start := time.Now()
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	// Children of a killed tool can hold the output pipe open.
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	duration := time.Since(start)

	if err == nil {
		log.Debug().
			Str("input", input).
			Dur("duration", duration).
			Int("outputLen", len(output)).
			Msg("untrunc finished")
		return output, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, &ExitError{Code: -1, Output: Truncate(output, maxOutputChars), TimedOut: true}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Warn().
			Str("input", input).
			Int("exitCode", exitErr.ExitCode()).
			Str("output", Truncate(output, maxOutputChars)).
			Msg("untrunc failed")
		return output, &ExitError{Code: exitErr.ExitCode(), Output: Truncate(output, maxOutputChars)}
	}
	return output, fmt.Errorf("start untrunc: %w", err)
}

// Truncate keeps at most the last n bytes of s, where tool diagnostics
// usually are. The cut moves forward to a rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
