// Package jobs names repair jobs and parses job URLs.
package jobs

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// IDPrefix starts every job ID.
const IDPrefix = "untrunc-"

// idHexLen is the number of random hex characters after the prefix.
const idHexLen = 12

var idPattern = regexp.MustCompile(`^untrunc-[0-9a-f]{12}$`)

// GenerateID returns a new job ID: IDPrefix followed by 12 hex characters
// of a random UUID.
func GenerateID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return IDPrefix + hex[:idHexLen]
}

// ValidID reports whether id has the GenerateID format.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
