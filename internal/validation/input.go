// input.go validates free-text and identifier inputs of the grant workflow.
package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/access"
)

// MaxReasonLength is the longest request, decision or revocation reason accepted.
const MaxReasonLength = 1000

// Reason trims s and enforces MaxReasonLength. When required is true an
// empty result is a validation error.
func Reason(field, s string, required bool) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return "", access.Validationf("%s is required", field)
		}
		return "", nil
	}
	if n := utf8.RuneCountInString(s); n > MaxReasonLength {
		return "", access.Validationf("%s must be at most %d characters", field, MaxReasonLength)
	}
	return s, nil
}

// OptionalReason is Reason for optional fields, returning nil when empty.
func OptionalReason(field, s string) (*string, error) {
	r, err := Reason(field, s, false)
	if err != nil || r == "" {
		return nil, err
	}
	return &r, nil
}

// ID parses a UUID-valued field.
func ID(field, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, access.Validationf("%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, access.Validationf("%s must be a UUID", field)
	}
	return id, nil
}
