package services

import (
	"strings"

	"github.com/iamgideonidoko/geoshield/internal/models"
	"github.com/iamgideonidoko/geoshield/pkg/useragent"
)

// HeaderFunc returns a request header value, "" when absent.
type HeaderFunc func(name string) string

// BasicSignals reads the header-derived device signals.
func BasicSignals(header HeaderFunc) models.DeviceSignals {
	ua := header("User-Agent")
	agent := useragent.Parse(ua)

	return models.DeviceSignals{
		BrowserFamily:  agent.BrowserFamily,
		BrowserVersion: agent.BrowserVersion,
		OSFamily:       agent.OSFamily,
		OSVersion:      agent.OSVersion,
		DeviceMemory:   hint(header, "Sec-CH-Device-Memory"),
		Arch:           hint(header, "Sec-CH-UA-Arch"),
		Bitness:        hint(header, "Sec-CH-UA-Bitness"),
		DPR:            hint(header, "Sec-CH-DPR"),
		ViewportWidth:  hint(header, "Sec-CH-Viewport-Width"),
		ViewportHeight: hint(header, "Sec-CH-Viewport-Height"),
		AcceptLanguage: header("Accept-Language"),

		UserAgent:    ua,
		DeviceFamily: agent.DeviceFamily,
		IsMobile:     agent.IsMobile,
		IsTablet:     agent.IsTablet,
		IsPC:         agent.IsPC,
		IsBot:        agent.IsBot,
	}
}

func hint(header HeaderFunc, name string) *string {
	v := strings.TrimSpace(header(name))
	if v == "" {
		return nil
	}
	return &v
}
