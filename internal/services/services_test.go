package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/iamgideonidoko/geoshield/internal/config"
	"github.com/iamgideonidoko/geoshield/internal/models"
	"github.com/iamgideonidoko/geoshield/internal/recognition"
)

type fakeCountry map[string]string

func (f fakeCountry) Classify(ip string) (string, bool) {
	cc, ok := f[ip]
	return cc, ok
}

type fakeVPN map[string]bool

func (f fakeVPN) IsVPN(ip string) bool { return f[ip] }

func newRedirect(testFlag bool) *RedirectService {
	country := fakeCountry{"5.5.5.5": "PK", "6.6.6.6": "IN", "1.1.1.1": "AU", "9.9.9.9": "PK"}
	vpn := fakeVPN{"7.7.7.7": true, "9.9.9.9": true}
	return NewRedirectService(country, vpn, &config.RedirectConfig{
		HoneypotCountries: []string{"PK", "IN"},
		TestFlag:          testFlag,
	})
}

func TestDecide(t *testing.T) {
	s := newRedirect(false)

	tests := []struct {
		ip         string
		wantAction Action
		wantTarget string
	}{
		{"5.5.5.5", ActionHoneypot, "https://discord.gg/trap"},
		{"6.6.6.6", ActionHoneypot, "https://discord.gg/trap"},
		{"9.9.9.9", ActionHoneypot, "https://discord.gg/trap"},
		{"7.7.7.7", ActionVPNBlock, ""},
		{"1.1.1.1", ActionNormal, "https://discord.gg/real"},
		{"8.8.8.8", ActionNormal, "https://discord.gg/real"},
		{"garbage", ActionNormal, "https://discord.gg/real"},
	}

	for _, tt := range tests {
		d := s.Decide(tt.ip, InviteURL("real"), InviteURL("trap"))
		if d.Action != tt.wantAction || d.Target != tt.wantTarget {
			t.Errorf("Decide(%q) = %+v, want %s -> %q", tt.ip, d, tt.wantAction, tt.wantTarget)
		}
		if d.Action == ActionVPNBlock && d.Message != VPNBlockMessage {
			t.Errorf("Decide(%q) message = %q", tt.ip, d.Message)
		}
	}
}

func TestDecideTestFlagAlternates(t *testing.T) {
	s := newRedirect(true)

	var got []Action
	for i := 0; i < 4; i++ {
		got = append(got, s.Decide("1.1.1.1", "normal", "honeypot").Action)
	}
	want := []Action{ActionNormal, ActionHoneypot, ActionNormal, ActionHoneypot}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("test flag decisions = %v, want %v", got, want)
		}
	}
}

func TestBasicSignals(t *testing.T) {
	headers := map[string]string{
		"User-Agent":           "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Accept-Language":      "de-DE,de;q=0.9",
		"Sec-CH-Device-Memory": "8",
		"Sec-CH-DPR":           " 2 ",
	}
	s := BasicSignals(func(name string) string { return headers[name] })

	if s.BrowserFamily != "Firefox" || s.BrowserVersion != "121.0" || s.OSFamily != "Linux" {
		t.Errorf("unexpected browser/os %+v", s)
	}
	if s.DeviceMemory == nil || *s.DeviceMemory != "8" || s.DPR == nil || *s.DPR != "2" {
		t.Errorf("client hints not read: memory=%v dpr=%v", s.DeviceMemory, s.DPR)
	}
	if s.Arch != nil || s.ViewportWidth != nil {
		t.Error("Expected absent hints to stay nil")
	}
	if s.AcceptLanguage != "de-DE,de;q=0.9" || !s.IsPC {
		t.Errorf("unexpected signals %+v", s)
	}
}

func TestDiscordReporter(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewDiscordReporter(srv.URL)
	err := r.Report(context.Background(), Event{
		Kind:    EventTicket,
		Name:    "alice",
		IP:      "203.0.113.5",
		Country: "AU",
		Device:  models.DeviceSignals{BrowserFamily: "Chrome", BrowserVersion: "120", IsPC: true},
		Recognition: &models.RecognitionInfo{
			IsReturning:   true,
			IsNewName:     true,
			PreviousNames: []string{"bob"},
			VisitCount:    3,
			Fingerprint:   "0123456789abcdef...",
		},
	})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("webhook body is not JSON: %v", err)
	}
	for _, want := range []string{"Ticket", "alice", "203.0.113.5", "AU", "Chrome 120", "visit #3", "NEW NAME", "bob"} {
		if !strings.Contains(payload.Content, want) {
			t.Errorf("message %q missing %q", payload.Content, want)
		}
	}
}

func TestDiscordReporterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewDiscordReporter(srv.URL).Report(context.Background(), Event{Kind: EventRedirect}); err == nil {
		t.Error("Expected an error for a 400 response")
	}
}

type recordingReporter struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingReporter) Report(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestTrackingService(t *testing.T) {
	ctx := context.Background()
	reporter := &recordingReporter{err: errors.New("webhook down")}
	s := NewTrackingService(recognition.New(ctx, nil), nil, reporter)

	basic := models.DeviceSignals{BrowserFamily: "Chrome", OSFamily: "Windows"}
	first := s.Track(ctx, "alice", "1.1.1.1", basic, nil)
	if first.Returning || len(first.Fingerprint) != 64 {
		t.Fatalf("first Track() = %+v", first)
	}

	second := s.Track(ctx, "bob", "1.1.1.1", basic, nil)
	if !second.Returning || !second.Info.IsNewName || second.Fingerprint != first.Fingerprint {
		t.Errorf("second Track() = %+v", second)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.Notify(ctx, Event{Kind: EventTicket, Name: "bob", Fingerprint: second.Fingerprint})
	cancel()
	s.Wait()

	if len(reporter.events) != 1 || reporter.events[0].Time.IsZero() {
		t.Errorf("reported events = %+v", reporter.events)
	}

	st := s.Statistics(context.Background())
	if st.TotalUniqueDevices != 1 || st.TotalVisits != 2 || st.Shared != nil {
		t.Errorf("Statistics() = %+v", st)
	}
}

func TestFormatEventNewDevice(t *testing.T) {
	msg := FormatEvent(Event{
		Kind:        EventRedirect,
		Action:      ActionHoneypot,
		Target:      "https://discord.gg/trap",
		IP:          "5.5.5.5",
		Country:     "PK",
		Recognition: &models.RecognitionInfo{Fingerprint: "abcd..."},
	})
	for _, want := range []string{"honeypot", "https://discord.gg/trap", "PK", "New device `abcd...`"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if strings.HasSuffix(msg, "\n") {
		t.Error("message has trailing newline")
	}
}
