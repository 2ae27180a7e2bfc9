package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DeviceSignals are the basic signals read from request headers.
type DeviceSignals struct {
	// hashed
	BrowserFamily  string  `json:"browser_family"`
	BrowserVersion string  `json:"browser_version"`
	OSFamily       string  `json:"os_family"`
	OSVersion      string  `json:"os_version"`
	DeviceMemory   *string `json:"sec_ch_device_memory,omitempty"`
	Arch           *string `json:"sec_ch_ua_arch,omitempty"`
	Bitness        *string `json:"sec_ch_ua_bitness,omitempty"`
	DPR            *string `json:"sec_ch_dpr,omitempty"`
	ViewportWidth  *string `json:"sec_ch_viewport_width,omitempty"`
	ViewportHeight *string `json:"sec_ch_viewport_height,omitempty"`
	AcceptLanguage string  `json:"accept_language"`

	// descriptive only
	UserAgent    string `json:"user_agent"`
	DeviceFamily string `json:"device_family"`
	IsMobile     bool   `json:"is_mobile"`
	IsTablet     bool   `json:"is_tablet"`
	IsPC         bool   `json:"is_pc"`
	IsBot        bool   `json:"is_bot"`
}

// Browser renders "family version" for visit history entries.
func (s DeviceSignals) Browser() string {
	return strings.TrimSpace(s.BrowserFamily + " " + s.BrowserVersion)
}

func (s DeviceSignals) OS() string {
	return strings.TrimSpace(s.OSFamily + " " + s.OSVersion)
}

// AdvancedSignals are collected by the client-side script. Numeric values
// keep their textual JSON form so hashing reproduces them exactly.
type AdvancedSignals struct {
	Canvas   string           `json:"canvas,omitempty"`
	WebGL    *WebGLSignals    `json:"webgl,omitempty"`
	Audio    *AudioSignals    `json:"audioFingerprint,omitempty"`
	Screen   *ScreenSignals   `json:"screen,omitempty"`
	Fonts    *FontSignals     `json:"fonts,omitempty"`
	Timezone *TimezoneSignals `json:"timezone,omitempty"`
	Memory   *MemorySignals   `json:"memory,omitempty"`
}

type WebGLSignals struct {
	Vendor           string `json:"vendor,omitempty"`
	Renderer         string `json:"renderer,omitempty"`
	UnmaskedVendor   string `json:"unmaskedVendor,omitempty"`
	UnmaskedRenderer string `json:"unmaskedRenderer,omitempty"`
	Error            string `json:"error,omitempty"`
}

type AudioSignals struct {
	Hash  string `json:"hash,omitempty"`
	Error string `json:"error,omitempty"`
}

type ScreenSignals struct {
	Width      json.Number `json:"width,omitempty"`
	Height     json.Number `json:"height,omitempty"`
	ColorDepth json.Number `json:"colorDepth,omitempty"`
	PixelRatio json.Number `json:"pixelRatio,omitempty"`
}

type FontSignals struct {
	Installed []string `json:"installed,omitempty"`
	Error     string   `json:"error,omitempty"`

	// keys counts the members of the decoded object, known or not.
	keys int
}

func (f *FontSignals) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	type Alias FontSignals
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = FontSignals(a)
	f.keys = len(members)
	return nil
}

// Present reports whether the client sent a non-empty fonts object.
func (f *FontSignals) Present() bool {
	return f != nil && (f.keys > 0 || f.Installed != nil || f.Error != "")
}

type TimezoneSignals struct {
	Name   string      `json:"name,omitempty"`
	Offset json.Number `json:"offset,omitempty"`
}

type MemorySignals struct {
	JSHeapSizeLimit json.Number `json:"jsHeapSizeLimit,omitempty"`
}

// VisitEntry is one recorded visit of a device.
type VisitEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	IP        string    `json:"ip"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
}

func (v *VisitEntry) UnmarshalJSON(data []byte) error {
	type Alias VisitEntry
	aux := struct {
		*Alias
		Timestamp isoTime `json:"timestamp"`
	}{Alias: (*Alias)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.Timestamp = time.Time(aux.Timestamp)
	return nil
}

// SanitizedDeviceInfo is the subset of DeviceSignals kept with a record.
type SanitizedDeviceInfo struct {
	BrowserFamily  string `json:"browser_family"`
	BrowserVersion string `json:"browser_version"`
	OSFamily       string `json:"os_family"`
	OSVersion      string `json:"os_version"`
	IsMobile       bool   `json:"is_mobile"`
	IsTablet       bool   `json:"is_tablet"`
	IsPC           bool   `json:"is_pc"`
}

// DeviceRecord is everything known about one fingerprint.
type DeviceRecord struct {
	Fingerprint    string              `json:"fingerprint"`
	Names          []string            `json:"names"`
	IPAddresses    []string            `json:"ip_addresses"`
	VisitCount     int                 `json:"visit_count"`
	FirstSeen      time.Time           `json:"first_seen"`
	LastSeen       time.Time           `json:"last_seen"`
	VisitHistory   []VisitEntry        `json:"visit_history"`
	LastDeviceInfo SanitizedDeviceInfo `json:"last_device_info"`
}

func (r *DeviceRecord) UnmarshalJSON(data []byte) error {
	type Alias DeviceRecord
	aux := struct {
		*Alias
		FirstSeen isoTime `json:"first_seen"`
		LastSeen  isoTime `json:"last_seen"`
	}{Alias: (*Alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.FirstSeen, r.LastSeen = time.Time(aux.FirstSeen), time.Time(aux.LastSeen)
	return nil
}

// isoTime reads RFC 3339 times and the zone-less ISO 8601 form written by
// older deployments, which is taken as local time.
type isoTime time.Time

var zonelessLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *isoTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = isoTime{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = isoTime(v)
		return nil
	}
	for _, layout := range zonelessLayouts {
		if v, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*t = isoTime(v)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// Clone returns a deep copy of r.
func (r *DeviceRecord) Clone() *DeviceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Names = slices.Clone(r.Names)
	c.IPAddresses = slices.Clone(r.IPAddresses)
	c.VisitHistory = slices.Clone(r.VisitHistory)
	return &c
}

// RecognitionInfo is returned by a check-and-record call. Only IsReturning,
// CurrentName and Fingerprint are set for a device seen for the first time.
type RecognitionInfo struct {
	IsReturning   bool         `json:"is_returning"`
	IsNewName     bool         `json:"is_new_name,omitempty"`
	PreviousNames []string     `json:"previous_names,omitempty"`
	CurrentName   string       `json:"current_name"`
	PreviousIPs   []string     `json:"previous_ips,omitempty"`
	VisitCount    int          `json:"visit_count,omitempty"`
	FirstSeen     *time.Time   `json:"first_seen,omitempty"`
	LastSeen      *time.Time   `json:"last_seen,omitempty"`
	VisitHistory  []VisitEntry `json:"visit_history,omitempty"`
	Fingerprint   string       `json:"fingerprint"`
}

type Statistics struct {
	TotalUniqueDevices       int `json:"total_unique_devices"`
	TotalVisits              int `json:"total_visits"`
	ReturningDevices         int `json:"returning_devices"`
	DevicesWithMultipleNames int `json:"devices_with_multiple_names"`
	NewDevices               int `json:"new_devices"`
}

// FingerprintRequest is the body of POST /v1/fingerprint.
type FingerprintRequest struct {
	Name     string           `json:"name"`
	Advanced *AdvancedSignals `json:"advanced"`
}

type FingerprintResponse struct {
	RequestID   string          `json:"request_id"`
	Fingerprint string          `json:"fingerprint"`
	Display     string          `json:"display"`
	Recognition RecognitionInfo `json:"recognition"`
}

type TicketResponse struct {
	RequestID   string          `json:"request_id"`
	Handle      string          `json:"handle"`
	IP          string          `json:"ip"`
	Country     string          `json:"country,omitempty"`
	VPN         bool            `json:"vpn"`
	Fingerprint string          `json:"fingerprint"`
	Recognition RecognitionInfo `json:"recognition"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
