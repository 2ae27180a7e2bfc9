package validator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

const (
	maxNameLength   = 100
	maxCanvasLength = 16 << 10
	maxFonts        = 1000
	maxFieldLength  = 512
)

var (
	inviteRegex   = regexp.MustCompile(`^[A-Za-z0-9-]{2,64}$`)
	timezoneRegex = regexp.MustCompile(`^[A-Za-z]+(/[A-Za-z0-9_+\-]+)*$`)
)

// ErrInvalid is wrapped by every error returned from this package.
var ErrInvalid = errors.New("validation failed")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Validator struct {
	errors []ValidationError
}

func New() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

func (v *Validator) ErrorMap() map[string]string {
	result := make(map[string]string)
	for _, err := range v.errors {
		result[err.Field] = err.Message
	}
	return result
}

// Err returns nil when no error was added.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	parts := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		parts = append(parts, e.Error())
	}
	sort.Strings(parts)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(parts, "; "))
}

// ValidateInvite accepts Discord invite codes. Anything else would let the
// redirect routes point at arbitrary URLs.
func ValidateInvite(code string) error {
	v := New()
	if !inviteRegex.MatchString(code) {
		v.AddError("invite", "invalid format")
	}
	return v.Err()
}

func ValidateName(field, name string) error {
	v := New()
	checkName(v, field, name)
	return v.Err()
}

func checkName(v *Validator, field, name string) {
	switch {
	case strings.TrimSpace(name) == "":
		v.AddError(field, "required")
	case len(name) > maxNameLength:
		v.AddError(field, "too long")
	case SanitizeString(name) != name:
		v.AddError(field, "contains control characters")
	}
}

func ValidateFingerprintRequest(req models.FingerprintRequest) error {
	v := New()

	if req.Name != "" {
		checkName(v, "name", req.Name)
	}

	a := req.Advanced
	if a == nil {
		return v.Err()
	}

	if len(a.Canvas) > maxCanvasLength {
		v.AddError("advanced.canvas", "too long")
	}

	if w := a.WebGL; w != nil {
		for field, val := range map[string]string{
			"advanced.webgl.vendor":           w.Vendor,
			"advanced.webgl.renderer":         w.Renderer,
			"advanced.webgl.unmaskedVendor":   w.UnmaskedVendor,
			"advanced.webgl.unmaskedRenderer": w.UnmaskedRenderer,
		} {
			if len(val) > maxFieldLength {
				v.AddError(field, "too long")
			}
		}
	}

	if au := a.Audio; au != nil && len(au.Hash) > maxFieldLength {
		v.AddError("advanced.audioFingerprint.hash", "too long")
	}

	if s := a.Screen; s != nil {
		for field, n := range map[string]string{
			"advanced.screen.width":      s.Width.String(),
			"advanced.screen.height":     s.Height.String(),
			"advanced.screen.colorDepth": s.ColorDepth.String(),
			"advanced.screen.pixelRatio": s.PixelRatio.String(),
		} {
			checkNumber(v, field, n)
		}
	}

	if f := a.Fonts; f != nil {
		if len(f.Installed) > maxFonts {
			v.AddError("advanced.fonts.installed", "too many entries")
		}
		for _, font := range f.Installed {
			if len(font) > maxFieldLength {
				v.AddError("advanced.fonts.installed", "entry too long")
				break
			}
		}
	}

	if tz := a.Timezone; tz != nil {
		if tz.Name != "" && !timezoneRegex.MatchString(tz.Name) {
			v.AddError("advanced.timezone.name", "invalid format")
		}
		checkNumber(v, "advanced.timezone.offset", tz.Offset.String())
	}

	if m := a.Memory; m != nil {
		checkNumber(v, "advanced.memory.jsHeapSizeLimit", m.JSHeapSizeLimit.String())
	}

	return v.Err()
}

func checkNumber(v *Validator, field, n string) {
	if n == "" {
		return
	}
	if !numberRegex.MatchString(n) {
		v.AddError(field, "not a number")
	}
}

var numberRegex = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	var result strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
