package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

type EventKind string

const (
	EventRedirect    EventKind = "redirect"
	EventTicket      EventKind = "ticket"
	EventFingerprint EventKind = "fingerprint"
)

// Event is one visit worth telling the operators about.
type Event struct {
	Kind        EventKind
	Name        string
	IP          string
	Country     string
	VPN         bool
	Action      Action
	Target      string
	Fingerprint string
	Device      models.DeviceSignals
	Recognition *models.RecognitionInfo
	Time        time.Time
}

// Reporter delivers events to an operator channel.
type Reporter interface {
	Report(ctx context.Context, e Event) error
}

// NopReporter drops every event.
type NopReporter struct{}

func (NopReporter) Report(context.Context, Event) error { return nil }

// DiscordReporter posts events as plain webhook messages.
type DiscordReporter struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewDiscordReporter returns a reporter for webhookURL. Messages are spaced
// at least one second apart.
func NewDiscordReporter(webhookURL string) *DiscordReporter {
	return &DiscordReporter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type discordWebhookPayload struct {
	Content string `json:"content"`
}

// Discord rejects message content longer than this.
const maxDiscordContent = 2000

func (r *DiscordReporter) Report(ctx context.Context, e Event) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	content := FormatEvent(e)
	if len(content) > maxDiscordContent {
		content = content[:maxDiscordContent-3] + "..."
	}

	body, err := json.Marshal(discordWebhookPayload{Content: content})
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatEvent renders e as a multi-line message.
func FormatEvent(e Event) string {
	var b strings.Builder

	switch e.Kind {
	case EventRedirect:
		fmt.Fprintf(&b, "**Redirect** `%s`", e.Action)
		if e.Target != "" {
			fmt.Fprintf(&b, " -> %s", e.Target)
		}
	case EventTicket:
		fmt.Fprintf(&b, "**Ticket** for `%s`", e.Name)
	case EventFingerprint:
		fmt.Fprintf(&b, "**Fingerprint** from `%s`", e.Name)
	}
	b.WriteString("\n")

	country := e.Country
	if country == "" {
		country = "unknown"
	}
	fmt.Fprintf(&b, "IP: `%s` | Country: `%s` | VPN: `%t`\n", e.IP, country, e.VPN)

	d := e.Device
	fmt.Fprintf(&b, "Browser: %s | OS: %s", orDash(d.Browser()), orDash(d.OS()))
	switch {
	case d.IsBot:
		b.WriteString(" | bot")
	case d.IsMobile:
		b.WriteString(" | mobile")
	case d.IsTablet:
		b.WriteString(" | tablet")
	case d.IsPC:
		b.WriteString(" | pc")
	}
	b.WriteString("\n")

	if info := e.Recognition; info != nil {
		if !info.IsReturning {
			fmt.Fprintf(&b, "New device `%s`\n", info.Fingerprint)
		} else {
			fmt.Fprintf(&b, "Returning device `%s`, visit #%d", info.Fingerprint, info.VisitCount)
			if info.IsNewName {
				b.WriteString(", NEW NAME")
			}
			b.WriteString("\n")
			if len(info.PreviousNames) > 0 {
				fmt.Fprintf(&b, "Known as: %s\n", strings.Join(info.PreviousNames, ", "))
			}
			if len(info.PreviousIPs) > 0 {
				fmt.Fprintf(&b, "Seen from: %s\n", strings.Join(info.PreviousIPs, ", "))
			}
			if info.FirstSeen != nil {
				fmt.Fprintf(&b, "First seen: %s\n", info.FirstSeen.UTC().Format(time.RFC3339))
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
