// Package validation checks identifiers that end up in file paths or URLs.
package validation

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxSessionIDLength bounds session identifiers accepted from the service.
const MaxSessionIDLength = 128

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSessionID rejects identifiers that are empty, too long, or contain
// characters that are unsafe in a file name (path separators, dots, spaces).
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID is empty")
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("session ID is longer than %d characters", MaxSessionIDLength)
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session ID %q contains invalid characters", id)
	}
	return nil
}
