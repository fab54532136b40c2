package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateSecureHex(t *testing.T) {
	tests := []struct {
		name  string
		bytes int
		want  int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 4, 8},
		{"token length", SessionTokenBytes, 32},
		{"large length", 64, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateSecureHex(tt.bytes)
			if err != nil {
				t.Fatalf("GenerateSecureHex() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("GenerateSecureHex() length = %v, want %v", len(got), tt.want)
			}
			if tt.want > 0 && !isValidHex(got) {
				t.Errorf("GenerateSecureHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateSessionTokenUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		tok, err := GenerateSessionToken()
		if err != nil {
			t.Fatalf("GenerateSessionToken() error = %v", err)
		}
		if seen[tok] {
			t.Errorf("GenerateSessionToken() generated duplicate: %v", tok)
		}
		seen[tok] = true
	}
}

func TestGenerateMessageID(t *testing.T) {
	got := GenerateMessageID()
	if !strings.HasPrefix(got, "m_") {
		t.Errorf("GenerateMessageID() = %v, want prefix m_", got)
	}
	if _, err := uuid.Parse(got[2:]); err != nil {
		t.Errorf("GenerateMessageID() suffix is not a UUID: %v", err)
	}
}

func TestGenerateAnonymousUserID(t *testing.T) {
	a, b := GenerateAnonymousUserID(), GenerateAnonymousUserID()
	if !strings.HasPrefix(a, "u_") {
		t.Errorf("GenerateAnonymousUserID() = %v, want prefix u_", a)
	}
	if a == b {
		t.Errorf("GenerateAnonymousUserID() generated duplicate: %v", a)
	}
}

// Helper function to validate hex strings
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
