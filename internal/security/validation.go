package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// AMFI scheme codes are short numeric identifiers.
var amfiPattern = regexp.MustCompile(`^[0-9]{1,10}$`)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidateAMFI checks an AMFI scheme code.
func ValidateAMFI(code string) error {
	if code == "" {
		return &ValidationError{Field: "amfi", Value: code, Message: "amfi code cannot be empty"}
	}
	if !amfiPattern.MatchString(code) {
		return &ValidationError{Field: "amfi", Value: code, Message: "amfi code must be numeric"}
	}
	return nil
}

// ValidateStatementID checks a statement id assigned at ingestion.
func ValidateStatementID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "statement_id", Value: id, Message: "statement id must be a uuid"}
	}
	return nil
}

// SanitizeAMFI trims whitespace around a scheme code.
func SanitizeAMFI(code string) string {
	return strings.TrimSpace(code)
}
