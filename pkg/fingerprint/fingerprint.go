// Package fingerprint derives a stable device identifier from basic header
// signals and optional client-side signals.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

const (
	separator = "|"
	unknown   = "unknown"

	displayLength = 16
)

// Components returns the ordered values hashed by Generate. The order and
// placeholders are part of the identifier: changing either changes every
// fingerprint.
func Components(basic models.DeviceSignals, advanced *models.AdvancedSignals) []string {
	parts := []string{
		basic.BrowserFamily,
		basic.BrowserVersion,
		basic.OSFamily,
		basic.OSVersion,
		orUnknown(basic.DeviceMemory),
		orUnknown(basic.Arch),
		orUnknown(basic.Bitness),
		orUnknown(basic.DPR),
		orUnknown(basic.ViewportWidth),
		orUnknown(basic.ViewportHeight),
		basic.AcceptLanguage,
	}

	if advanced == nil {
		return parts
	}

	if advanced.Canvas != "" {
		parts = append(parts, advanced.Canvas)
	}

	if w := advanced.WebGL; w != nil && *w != (models.WebGLSignals{}) && w.Error == "" {
		parts = append(parts, w.Vendor, w.Renderer, w.UnmaskedVendor, w.UnmaskedRenderer)
	}

	if a := advanced.Audio; a != nil && *a != (models.AudioSignals{}) && a.Error == "" {
		parts = append(parts, a.Hash)
	}

	if s := advanced.Screen; s != nil && *s != (models.ScreenSignals{}) {
		parts = append(parts, s.Width.String(), s.Height.String(), s.ColorDepth.String(), s.PixelRatio.String())
	}

	if f := advanced.Fonts; f.Present() && f.Error == "" {
		fonts := slices.Clone(f.Installed)
		slices.Sort(fonts)
		parts = append(parts, strings.Join(fonts, ","))
	}

	if tz := advanced.Timezone; tz != nil && *tz != (models.TimezoneSignals{}) {
		parts = append(parts, tz.Name, tz.Offset.String())
	}

	if m := advanced.Memory; m != nil && *m != (models.MemorySignals{}) {
		parts = append(parts, m.JSHeapSizeLimit.String())
	}

	return parts
}

// Generate returns the lowercase hex SHA-256 of the joined components.
func Generate(basic models.DeviceSignals, advanced *models.AdvancedSignals) string {
	sum := sha256.Sum256([]byte(strings.Join(Components(basic, advanced), separator)))
	return hex.EncodeToString(sum[:])
}

// Display shortens a fingerprint for logs and responses.
func Display(fp string) string {
	if len(fp) <= displayLength {
		return fp + "..."
	}
	return fp[:displayLength] + "..."
}

func orUnknown(v *string) string {
	if v == nil {
		return unknown
	}
	return *v
}
