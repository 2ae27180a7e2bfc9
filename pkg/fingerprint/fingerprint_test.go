package fingerprint

import (
	"regexp"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

func str(s string) *string { return &s }

func baseSignals() models.DeviceSignals {
	return models.DeviceSignals{
		BrowserFamily:  "Chrome",
		BrowserVersion: "120.0.0",
		OSFamily:       "Windows",
		OSVersion:      "10",
		DeviceMemory:   str("8"),
		Arch:           str("x86"),
		Bitness:        str("64"),
		DPR:            str("1.5"),
		ViewportWidth:  str("1280"),
		ViewportHeight: str("720"),
		AcceptLanguage: "en-US,en;q=0.9",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0",
	}
}

func advancedSignals() *models.AdvancedSignals {
	return &models.AdvancedSignals{
		Canvas: "canvas-hash",
		WebGL: &models.WebGLSignals{
			Vendor:           "WebKit",
			Renderer:         "WebKit WebGL",
			UnmaskedVendor:   "NVIDIA Corporation",
			UnmaskedRenderer: "GeForce GTX 1080/PCIe/SSE2",
		},
		Audio:    &models.AudioSignals{Hash: "124.04347527516074"},
		Screen:   &models.ScreenSignals{Width: "1920", Height: "1080", ColorDepth: "24", PixelRatio: "1.5"},
		Fonts:    &models.FontSignals{Installed: []string{"Verdana", "Arial", "Helvetica"}},
		Timezone: &models.TimezoneSignals{Name: "Europe/Berlin", Offset: "-60"},
		Memory:   &models.MemorySignals{JSHeapSizeLimit: "4294705152"},
	}
}

func TestComponentsBasicOrder(t *testing.T) {
	got := Components(models.DeviceSignals{}, nil)
	want := []string{"", "", "", "", "unknown", "unknown", "unknown", "unknown", "unknown", "unknown", ""}

	if len(got) != len(want) {
		t.Fatalf("Expected %d components, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("component %d = %q, want %q", i, got[i], want[i])
		}
	}

	s := baseSignals()
	got = Components(s, nil)
	if strings.Join(got, "|") != "Chrome|120.0.0|Windows|10|8|x86|64|1.5|1280|720|en-US,en;q=0.9" {
		t.Errorf("unexpected serialization %q", strings.Join(got, "|"))
	}
}

func TestComponentsAdvanced(t *testing.T) {
	got := Components(baseSignals(), advancedSignals())
	tail := strings.Join(got[11:], "|")
	want := "canvas-hash|WebKit|WebKit WebGL|NVIDIA Corporation|GeForce GTX 1080/PCIe/SSE2|" +
		"124.04347527516074|1920|1080|24|1.5|Arial,Helvetica,Verdana|Europe/Berlin|-60|4294705152"
	if tail != want {
		t.Errorf("advanced components = %q, want %q", tail, want)
	}
}

func TestComponentsSkipsErroredGroups(t *testing.T) {
	adv := &models.AdvancedSignals{
		WebGL: &models.WebGLSignals{Error: "not supported"},
		Audio: &models.AudioSignals{Hash: "x", Error: "blocked"},
		Fonts: &models.FontSignals{Installed: []string{"Arial"}, Error: "timeout"},
	}
	if got := Components(baseSignals(), adv); len(got) != 11 {
		t.Errorf("Expected errored groups to be skipped, got %q", got[11:])
	}

	// A group that is present but partially filled contributes empty strings.
	adv = &models.AdvancedSignals{Screen: &models.ScreenSignals{Width: "800"}}
	got := Components(baseSignals(), adv)
	if strings.Join(got[11:], "|") != "800|||" {
		t.Errorf("partial screen = %q, want %q", strings.Join(got[11:], "|"), "800|||")
	}
}

func TestComponentsFontsObject(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"empty object", `{"fonts":{}}`, nil},
		{"other members only", `{"fonts":{"count":5}}`, []string{""}},
		{"empty list", `{"fonts":{"installed":[]}}`, []string{""}},
		{"installed", `{"fonts":{"installed":["b","a"],"count":2}}`, []string{"a,b"}},
		{"error", `{"fonts":{"installed":["a"],"error":"denied"}}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var adv models.AdvancedSignals
			if err := json.Unmarshal([]byte(tt.body), &adv); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			got := Components(baseSignals(), &adv)[11:]
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("font components = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateDeterministic(t *testing.T) {
	fp1 := Generate(baseSignals(), advancedSignals())
	fp2 := Generate(baseSignals(), advancedSignals())

	if fp1 != fp2 {
		t.Errorf("Expected identical fingerprints, got %s and %s", fp1, fp2)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(fp1) {
		t.Errorf("Expected 64 lowercase hex chars, got %q", fp1)
	}
}

func TestGenerateFieldSensitivity(t *testing.T) {
	base := Generate(baseSignals(), advancedSignals())

	mutations := map[string]func(*models.DeviceSignals, *models.AdvancedSignals){
		"browser version": func(s *models.DeviceSignals, _ *models.AdvancedSignals) { s.BrowserVersion = "121.0.0" },
		"device memory":   func(s *models.DeviceSignals, _ *models.AdvancedSignals) { s.DeviceMemory = nil },
		"language":        func(s *models.DeviceSignals, _ *models.AdvancedSignals) { s.AcceptLanguage = "de-DE" },
		"canvas":          func(_ *models.DeviceSignals, a *models.AdvancedSignals) { a.Canvas = "other" },
		"unmasked gpu":    func(_ *models.DeviceSignals, a *models.AdvancedSignals) { a.WebGL.UnmaskedRenderer = "Intel" },
		"screen width":    func(_ *models.DeviceSignals, a *models.AdvancedSignals) { a.Screen.Width = "2560" },
		"font added":      func(_ *models.DeviceSignals, a *models.AdvancedSignals) { a.Fonts.Installed = append(a.Fonts.Installed, "Comic Sans") },
		"timezone":        func(_ *models.DeviceSignals, a *models.AdvancedSignals) { a.Timezone.Offset = "0" },
		"heap limit":      func(_ *models.DeviceSignals, a *models.AdvancedSignals) { a.Memory = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			s, a := baseSignals(), advancedSignals()
			mutate(&s, a)
			if Generate(s, a) == base {
				t.Errorf("Expected fingerprint to change after %s mutation", name)
			}
		})
	}
}

func TestGenerateFontOrderIndependent(t *testing.T) {
	a1 := advancedSignals()
	a2 := advancedSignals()
	a2.Fonts.Installed = []string{"Helvetica", "Verdana", "Arial"}

	if Generate(baseSignals(), a1) != Generate(baseSignals(), a2) {
		t.Error("Expected font order not to affect the fingerprint")
	}
	if a2.Fonts.Installed[0] != "Helvetica" {
		t.Error("Components must not reorder the caller's font slice")
	}
}

func TestGenerateIgnoresDescriptiveFields(t *testing.T) {
	s1 := baseSignals()
	s2 := baseSignals()
	s2.UserAgent = "something else"
	s2.IsMobile = true

	if Generate(s1, nil) != Generate(s2, nil) {
		t.Error("Expected descriptive fields not to affect the fingerprint")
	}
}

func TestDisplay(t *testing.T) {
	fp := Generate(baseSignals(), nil)
	got := Display(fp)
	if got != fp[:16]+"..." {
		t.Errorf("Display() = %q, want %q", got, fp[:16]+"...")
	}
}

func BenchmarkGenerate(b *testing.B) {
	s := baseSignals()
	a := advancedSignals()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Generate(s, a)
	}
}

func BenchmarkGenerateBasic(b *testing.B) {
	s := baseSignals()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Generate(s, nil)
	}
}
