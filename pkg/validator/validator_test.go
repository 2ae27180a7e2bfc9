package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

func TestValidateInvite(t *testing.T) {
	valid := []string{"abc123", "Gx7-yZ", "discord-dev"}
	invalid := []string{"", "a", "evil.com/path", "x?y=1", strings.Repeat("a", 65)}

	for _, code := range valid {
		if err := ValidateInvite(code); err != nil {
			t.Errorf("ValidateInvite(%q) = %v, want nil", code, err)
		}
	}
	for _, code := range invalid {
		if err := ValidateInvite(code); !errors.Is(err, ErrInvalid) {
			t.Errorf("ValidateInvite(%q) = %v, want ErrInvalid", code, err)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"handle", "alice#1234", true},
		{"unicode", "ナナ", true},
		{"blank", "   ", false},
		{"too long", strings.Repeat("x", 101), false},
		{"control chars", "bad\x07name", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName("handle", tt.input)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateName(%q) = %v, want ok=%v", tt.input, err, tt.ok)
			}
		})
	}
}

func TestValidateFingerprintRequest(t *testing.T) {
	good := models.FingerprintRequest{
		Name: "alice",
		Advanced: &models.AdvancedSignals{
			Canvas:   "hash",
			Screen:   &models.ScreenSignals{Width: "1920", Height: "1080", ColorDepth: "24", PixelRatio: "1.25"},
			Timezone: &models.TimezoneSignals{Name: "America/Argentina/Buenos_Aires", Offset: "180"},
			Memory:   &models.MemorySignals{JSHeapSizeLimit: "4294705152"},
			Fonts:    &models.FontSignals{Installed: []string{"Arial"}},
		},
	}
	if err := ValidateFingerprintRequest(good); err != nil {
		t.Errorf("Expected valid request, got %v", err)
	}

	if err := ValidateFingerprintRequest(models.FingerprintRequest{}); err != nil {
		t.Errorf("Expected empty request to be valid, got %v", err)
	}

	bad := models.FingerprintRequest{
		Advanced: &models.AdvancedSignals{
			Canvas:   strings.Repeat("c", maxCanvasLength+1),
			Screen:   &models.ScreenSignals{Width: "wide"},
			Timezone: &models.TimezoneSignals{Name: "Not A Zone!"},
		},
	}
	err := ValidateFingerprintRequest(bad)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
	for _, field := range []string{"advanced.canvas", "advanced.screen.width", "advanced.timezone.name"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("a\x00b\x01c\td\n"); got != "abc\td\n" {
		t.Errorf("SanitizeString() = %q", got)
	}
}
