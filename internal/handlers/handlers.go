package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/iamgideonidoko/geoshield/internal/classifier"
	"github.com/iamgideonidoko/geoshield/internal/config"
	"github.com/iamgideonidoko/geoshield/internal/middleware"
	"github.com/iamgideonidoko/geoshield/internal/models"
	"github.com/iamgideonidoko/geoshield/internal/services"
	"github.com/iamgideonidoko/geoshield/pkg/fingerprint"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
	"github.com/iamgideonidoko/geoshield/pkg/validator"
)

const anonymousName = "Anonymous"

// StatusProvider reports the state of a classifier index.
type StatusProvider interface {
	Status() classifier.Status
}

type Handler struct {
	redirect *services.RedirectService
	tracking *services.TrackingService
	statuses []StatusProvider
	config   *config.RedirectConfig
}

func NewHandler(
	redirect *services.RedirectService,
	tracking *services.TrackingService,
	cfg *config.RedirectConfig,
	statuses ...StatusProvider,
) *Handler {
	return &Handler{
		redirect: redirect,
		tracking: tracking,
		statuses: statuses,
		config:   cfg,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":  "healthy",
		"service": "geoshield",
	})
}

// Index handles GET / with the configured servers.
func (h *Handler) Index(c *fiber.Ctx) error {
	return h.redirectVisitor(c, h.config.DefaultServer, h.config.HoneypotServer)
}

// Invite handles GET /:invite.
func (h *Handler) Invite(c *fiber.Ctx) error {
	invite := c.Params("invite")
	if err := validator.ValidateInvite(invite); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid invite code")
	}
	return h.redirectVisitor(c, services.InviteURL(invite), h.config.HoneypotServer)
}

// InviteWithHoneypot handles GET /:invite/:honeypot.
func (h *Handler) InviteWithHoneypot(c *fiber.Ctx) error {
	invite, honeypot := c.Params("invite"), c.Params("honeypot")
	if validator.ValidateInvite(invite) != nil || validator.ValidateInvite(honeypot) != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid invite code")
	}
	return h.redirectVisitor(c, services.InviteURL(invite), services.InviteURL(honeypot))
}

func (h *Handler) redirectVisitor(c *fiber.Ctx, normal, honeypot string) error {
	ip := middleware.ClientIP(c)
	log := logger.WithField("ip", middleware.AnonymizeIP(ip))

	d := h.redirect.Decide(ip, normal, honeypot)
	h.tracking.RecordDecision(c.UserContext(), d)

	log.Info("Redirect decision", map[string]any{
		"action":  string(d.Action),
		"country": d.Country,
		"target":  d.Target,
	})

	if d.Action != services.ActionNormal {
		h.tracking.Notify(c.UserContext(), services.Event{
			Kind:    services.EventRedirect,
			IP:      ip,
			Country: d.Country,
			VPN:     d.VPN,
			Action:  d.Action,
			Target:  d.Target,
			Device:  services.BasicSignals(headers(c)),
		})
	}

	if d.Action == services.ActionVPNBlock {
		return c.Status(fiber.StatusForbidden).SendString(d.Message)
	}
	if d.Target == "" {
		log.Warn("Redirect target not configured", map[string]any{
			"action": string(d.Action),
		})
		return fiber.NewError(fiber.StatusServiceUnavailable, "Redirect target not configured")
	}
	return c.Redirect(d.Target, fiber.StatusFound)
}

// Ticket handles GET /ticket/:handle.
func (h *Handler) Ticket(c *fiber.Ctx) error {
	requestID := uuid.New().String()
	handle := c.Params("handle")
	log := logger.WithField("request_id", requestID)

	if err := validator.ValidateName("handle", handle); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   "Invalid handle",
			Message: err.Error(),
			Code:    requestID,
		})
	}

	ip := middleware.ClientIP(c)
	vpn := h.redirect.IsVPN(ip)
	country := h.redirect.Country(ip)
	basic := services.BasicSignals(headers(c))

	result := h.tracking.Track(c.UserContext(), handle, ip, basic, nil)

	log.Info("Ticket visit recorded", map[string]any{
		"fingerprint": fingerprint.Display(result.Fingerprint),
		"returning":   result.Returning,
		"vpn":         vpn,
		"country":     country,
	})

	h.tracking.Notify(c.UserContext(), services.Event{
		Kind:        services.EventTicket,
		Name:        handle,
		IP:          ip,
		Country:     country,
		VPN:         vpn,
		Fingerprint: result.Fingerprint,
		Device:      basic,
		Recognition: &result.Info,
	})

	if vpn {
		return c.Status(fiber.StatusForbidden).SendString(services.TicketVPNBlockMessage)
	}

	return c.Status(fiber.StatusOK).JSON(models.TicketResponse{
		RequestID:   requestID,
		Handle:      handle,
		IP:          ip,
		Country:     country,
		VPN:         vpn,
		Fingerprint: fingerprint.Display(result.Fingerprint),
		Recognition: result.Info,
	})
}

// Fingerprint handles POST /v1/fingerprint.
func (h *Handler) Fingerprint(c *fiber.Ctx) error {
	requestID := uuid.New().String()
	log := logger.WithField("request_id", requestID)

	var req models.FingerprintRequest
	if err := c.BodyParser(&req); err != nil {
		log.Warn("Failed to parse request body", map[string]any{
			"error": err.Error(),
		})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      "Invalid request body",
			"request_id": requestID,
		})
	}

	if req.Name == "" {
		req.Name = c.Query("user", anonymousName)
	}

	if err := validator.ValidateFingerprintRequest(req); err != nil {
		log.Warn("Request validation failed", map[string]any{
			"error": err.Error(),
		})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      err.Error(),
			"request_id": requestID,
		})
	}

	ip := middleware.ClientIP(c)
	basic := services.BasicSignals(headers(c))
	result := h.tracking.Track(c.UserContext(), req.Name, ip, basic, req.Advanced)

	log.Info("Fingerprint recorded", map[string]any{
		"fingerprint": fingerprint.Display(result.Fingerprint),
		"returning":   result.Returning,
		"advanced":    req.Advanced != nil,
	})

	h.tracking.Notify(c.UserContext(), services.Event{
		Kind:        services.EventFingerprint,
		Name:        req.Name,
		IP:          ip,
		Country:     h.redirect.Country(ip),
		VPN:         h.redirect.IsVPN(ip),
		Fingerprint: result.Fingerprint,
		Device:      basic,
		Recognition: &result.Info,
	})

	return c.Status(fiber.StatusOK).JSON(models.FingerprintResponse{
		RequestID:   requestID,
		Fingerprint: result.Fingerprint,
		Display:     fingerprint.Display(result.Fingerprint),
		Recognition: result.Info,
	})
}

// Statistics handles GET /api/statistics.
func (h *Handler) Statistics(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.tracking.Statistics(c.UserContext()))
}

// Status handles GET /api/status.
func (h *Handler) Status(c *fiber.Ctx) error {
	statuses := make([]classifier.Status, 0, len(h.statuses))
	ready := true
	for _, p := range h.statuses {
		st := p.Status()
		ready = ready && st.Ready
		statuses = append(statuses, st)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ready":       ready,
		"classifiers": statuses,
	})
}

func headers(c *fiber.Ctx) services.HeaderFunc {
	return func(name string) string { return c.Get(name) }
}

// ErrorHandler renders errors returned by handlers as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code >= fiber.StatusInternalServerError {
		logger.Error("Request error", map[string]any{
			"error": err.Error(),
			"path":  c.Path(),
			"code":  code,
		})
	}

	message := err.Error()
	if fe == nil {
		message = "Internal server error"
	}
	return c.Status(code).JSON(models.ErrorResponse{
		Error: message,
	})
}
