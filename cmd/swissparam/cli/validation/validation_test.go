package validation

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"numeric", "1234567", false},
		{"alphanumeric", "abc123", false},
		{"dash and underscore", "job_42-a", false},
		{"empty", "", true},
		{"path traversal", "../etc", true},
		{"slash", "a/b", true},
		{"space", "abc 123", true},
		{"quote", `abc"`, true},
		{"too long", strings.Repeat("a", MaxSessionIDLength+1), true},
		{"max length", strings.Repeat("a", MaxSessionIDLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSessionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
