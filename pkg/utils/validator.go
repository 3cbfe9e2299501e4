package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength bounds a single chat message, clinical notes included
const MaxMessageLength = 20000

var (
	controlChars     = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	patientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)
)

// ValidateMessage validates a user chat message
func ValidateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("message must not be empty")
	}
	if n := utf8.RuneCountInString(msg); n > MaxMessageLength {
		return fmt.Errorf("message exceeds maximum length: %d > %d", n, MaxMessageLength)
	}
	return nil
}

// ValidatePatientID validates an externally supplied patient identifier.
// An empty id is allowed.
func ValidatePatientID(id string) error {
	if id == "" {
		return nil
	}
	if !patientIDPattern.MatchString(id) {
		return fmt.Errorf("invalid patient id: %q", id)
	}
	return nil
}

// SanitizeString removes control characters, keeping tabs and line breaks
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
