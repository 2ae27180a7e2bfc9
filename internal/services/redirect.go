package services

import (
	"slices"
	"sync/atomic"

	"github.com/iamgideonidoko/geoshield/internal/config"
	"github.com/iamgideonidoko/geoshield/internal/metrics"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

const (
	VPNBlockMessage       = "You seem to access the link using a VPN. To ensure a secure experience for all our users, please disable the VPN and retry to join the Discord."
	TicketVPNBlockMessage = "You seem to access the link using a VPN. To ensure a secure experience for all our users, please disable the VPN and retry to create a ticket."

	// testFlagCountry is reported for every second request when the test flag is on.
	testFlagCountry = "PK"

	inviteBaseURL = "https://discord.gg/"
)

type Action string

const (
	ActionNormal   Action = "normal"
	ActionHoneypot Action = "honeypot"
	ActionVPNBlock Action = "vpn_block"
)

// CountryClassifier maps an address to a country code.
type CountryClassifier interface {
	Classify(ip string) (string, bool)
}

// VPNDetector reports whether an address belongs to a VPN range.
type VPNDetector interface {
	IsVPN(ip string) bool
}

type Decision struct {
	Action  Action `json:"action"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
	Country string `json:"country,omitempty"`
	VPN     bool   `json:"vpn"`
}

// RedirectService decides where a visitor is sent.
type RedirectService struct {
	country   CountryClassifier
	vpn       VPNDetector
	honeypots []string
	testFlag  bool
	calls     atomic.Uint64
}

func NewRedirectService(country CountryClassifier, vpn VPNDetector, cfg *config.RedirectConfig) *RedirectService {
	return &RedirectService{
		country:   country,
		vpn:       vpn,
		honeypots: cfg.HoneypotCountries,
		testFlag:  cfg.TestFlag,
	}
}

// InviteURL turns an invite code into a Discord invite link.
func InviteURL(code string) string {
	return inviteBaseURL + code
}

// Decide sends visitors from honeypot countries to honeypot, blocks VPN
// addresses and redirects everybody else to normal. The VPN list is only
// consulted for visitors outside the honeypot countries.
func (s *RedirectService) Decide(ip, normal, honeypot string) Decision {
	country, _ := s.country.Classify(ip)

	if s.testFlag && s.calls.Add(1)%2 == 0 {
		logger.Info("Test flag set, overriding country code", map[string]any{
			"country": testFlagCountry,
		})
		country = testFlagCountry
	}

	var d Decision
	switch {
	case country != "" && slices.Contains(s.honeypots, country):
		d = Decision{Action: ActionHoneypot, Target: honeypot, Country: country}
	case s.vpn.IsVPN(ip):
		d = Decision{Action: ActionVPNBlock, Message: VPNBlockMessage, Country: country, VPN: true}
	default:
		d = Decision{Action: ActionNormal, Target: normal, Country: country}
	}

	metrics.RedirectDecisions.WithLabelValues(string(d.Action)).Inc()
	return d
}

// IsVPN exposes the detector to handlers that only need the VPN check.
func (s *RedirectService) IsVPN(ip string) bool {
	return s.vpn.IsVPN(ip)
}

// Country exposes the classifier to handlers that only need the country.
func (s *RedirectService) Country(ip string) string {
	cc, _ := s.country.Classify(ip)
	return cc
}
