package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/access"
)

func TestReason(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		required bool
		want     string
		wantErr  bool
	}{
		{"trimmed", "  audit Q3 ledger  ", true, "audit Q3 ledger", false},
		{"whitespace only required", " \t\n ", true, "", true},
		{"empty optional", "", false, "", false},
		{"at limit", strings.Repeat("a", MaxReasonLength), true, strings.Repeat("a", MaxReasonLength), false},
		{"over limit", strings.Repeat("a", MaxReasonLength+1), true, "", true},
		{"multibyte at limit", strings.Repeat("é", MaxReasonLength), true, strings.Repeat("é", MaxReasonLength), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reason("reason", tt.in, tt.required)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reason() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, access.ErrValidation) {
				t.Errorf("error %v is not a validation error", err)
			}
			if got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionalReason(t *testing.T) {
	if r, err := OptionalReason("comment", "   "); err != nil || r != nil {
		t.Errorf("OptionalReason(blank) = %v, %v; want nil, nil", r, err)
	}
	r, err := OptionalReason("comment", " ok ")
	if err != nil || r == nil || *r != "ok" {
		t.Errorf("OptionalReason() = %v, %v", r, err)
	}
}

func TestID(t *testing.T) {
	id := uuid.New()
	got, err := ID("tenantId", " "+id.String()+" ")
	if err != nil || got != id {
		t.Errorf("ID() = %v, %v; want %v", got, err, id)
	}

	for _, bad := range []string{"", "9", "not-a-uuid", uuid.Nil.String()} {
		if _, err := ID("tenantId", bad); !errors.Is(err, access.ErrValidation) {
			t.Errorf("ID(%q) error = %v, want validation error", bad, err)
		}
	}
}
