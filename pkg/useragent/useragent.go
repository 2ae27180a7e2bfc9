// Package useragent extracts browser, OS and device class from a User-Agent
// header. It recognises the major browsers only; everything else is "Other".
package useragent

import (
	"strings"
)

const other = "Other"

type Agent struct {
	BrowserFamily  string
	BrowserVersion string
	OSFamily       string
	OSVersion      string
	DeviceFamily   string
	IsMobile       bool
	IsTablet       bool
	IsPC           bool
	IsBot          bool
}

// Order matters: Edge and Opera also carry a Chrome token, and Chrome
// carries a Safari token.
var browsers = []struct {
	family string
	tokens []string
}{
	{"Edge", []string{"edg/", "edge/", "edga/", "edgios/"}},
	{"Opera", []string{"opr/", "opera/"}},
	{"Firefox", []string{"firefox/", "fxios/"}},
	{"Chrome", []string{"chrome/", "crios/"}},
	{"Safari", []string{"version/"}},
}

var botTokens = []string{"bot", "crawler", "spider", "slurp", "curl/", "wget/", "python-requests", "headlesschrome"}

var windowsVersions = map[string]string{
	"10.0": "10",
	"6.3":  "8.1",
	"6.2":  "8",
	"6.1":  "7",
	"6.0":  "Vista",
	"5.1":  "XP",
}

func Parse(ua string) Agent {
	a := Agent{
		BrowserFamily: other,
		OSFamily:      other,
		DeviceFamily:  other,
	}
	if ua == "" {
		return a
	}

	lower := strings.ToLower(ua)

	for _, b := range browsers {
		if v, ok := tokenVersion(ua, lower, b.tokens...); ok {
			if b.family == "Safari" && !strings.Contains(lower, "safari/") {
				continue
			}
			a.BrowserFamily, a.BrowserVersion = b.family, v
			break
		}
	}

	a.OSFamily, a.OSVersion = parseOS(ua, lower)

	for _, tok := range botTokens {
		if strings.Contains(lower, tok) {
			a.IsBot = true
			a.DeviceFamily = "Spider"
			break
		}
	}

	switch {
	case strings.Contains(lower, "ipad"):
		a.IsTablet = true
		a.DeviceFamily = "iPad"
	case strings.Contains(lower, "iphone"):
		a.IsMobile = true
		a.DeviceFamily = "iPhone"
	case strings.Contains(lower, "android"):
		if strings.Contains(lower, "mobile") {
			a.IsMobile = true
		} else {
			a.IsTablet = true
		}
	case strings.Contains(lower, "mobi"):
		a.IsMobile = true
	}

	if !a.IsMobile && !a.IsTablet && !a.IsBot {
		switch a.OSFamily {
		case "Windows", "Mac OS X", "Linux", "Chrome OS", "Ubuntu":
			a.IsPC = true
		}
	}

	return a
}

// tokenVersion returns the version following the first matching token, e.g.
// "120.0.6099.71" for "Chrome/120.0.6099.71".
func tokenVersion(ua, lower string, tokens ...string) (string, bool) {
	for _, tok := range tokens {
		idx := strings.Index(lower, tok)
		if idx == -1 {
			continue
		}
		rest := ua[idx+len(tok):]
		if end := strings.IndexAny(rest, " ;)"); end != -1 {
			rest = rest[:end]
		}
		return rest, true
	}
	return "", false
}

func parseOS(ua, lower string) (string, string) {
	switch {
	case strings.Contains(lower, "windows nt "):
		v, _ := tokenVersion(ua, lower, "windows nt ")
		if name, ok := windowsVersions[v]; ok {
			return "Windows", name
		}
		return "Windows", v
	case strings.Contains(lower, "iphone os ") || strings.Contains(lower, "cpu os "):
		v, _ := tokenVersion(ua, lower, "iphone os ", "cpu os ")
		return "iOS", strings.ReplaceAll(v, "_", ".")
	case strings.Contains(lower, "mac os x"):
		v, _ := tokenVersion(ua, lower, "mac os x ")
		return "Mac OS X", strings.ReplaceAll(v, "_", ".")
	case strings.Contains(lower, "android"):
		v, _ := tokenVersion(ua, lower, "android ")
		return "Android", v
	case strings.Contains(lower, "cros "):
		return "Chrome OS", ""
	case strings.Contains(lower, "ubuntu"):
		return "Ubuntu", ""
	case strings.Contains(lower, "linux"):
		return "Linux", ""
	}
	return other, ""
}
