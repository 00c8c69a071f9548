package batch

import (
	"regexp"
	"strings"
)

var (
	bucketRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)
	keyRegex    = regexp.MustCompile(`^[\w\-./ ]+$`)
)

// ValidateBucket checks an S3 bucket name.
func ValidateBucket(bucket string) error {
	if !bucketRegex.MatchString(bucket) {
		return Errorf(KindInvalidRequest, "invalid bucket name %q", bucket)
	}
	return nil
}

// ValidatePrefix checks a key prefix. Empty prefixes are allowed here; the
// dispatcher decides whether one is required.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if strings.Contains(prefix, "..") || !keyRegex.MatchString(prefix) {
		return Errorf(KindInvalidRequest, "invalid key or prefix %q", prefix)
	}
	return nil
}

// NormalizePrefix trims surrounding slashes and whitespace.
func NormalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}
