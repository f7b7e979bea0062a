package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/greenshield/reengage-backend/internal/config"
	"github.com/greenshield/reengage-backend/internal/services"
	"github.com/greenshield/reengage-backend/internal/storage"
)

// ConsoleHandler exposes the operator console operations. Authentication is
// handled upstream; these handlers trust an already-authenticated operator.
type ConsoleHandler struct {
	store         storage.Store
	conversations *services.ConversationService
	dispatcher    *services.CampaignDispatcher
	audit         *services.AuditLog
	cfg           config.Config
}

// NewConsoleHandler creates a new console handler
func NewConsoleHandler(
	store storage.Store,
	conversations *services.ConversationService,
	dispatcher *services.CampaignDispatcher,
	audit *services.AuditLog,
	cfg config.Config,
) *ConsoleHandler {
	return &ConsoleHandler{
		store:         store,
		conversations: conversations,
		dispatcher:    dispatcher,
		audit:         audit,
		cfg:           cfg,
	}
}

// SetContactState applies a manual state edit or opt-in re-enrollment.
func (h *ConsoleHandler) SetContactState(c *fiber.Ctx) error {
	contactID, err := parseID(c.Params("contactID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contact id"})
	}

	var req struct {
		State   string `json:"state"`
		Trigger string `json:"trigger"` // "manual_override" (default) or "opt_in"
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	trigger := services.TriggerManualOverride
	if req.Trigger == string(services.TriggerOptIn) {
		trigger = services.TriggerOptIn
	}

	err = h.conversations.SetContactState(contactID, services.State(req.State), trigger)
	if err != nil {
		var invalid *services.InvalidTransitionError
		if errors.As(err, &invalid) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": invalid.Error()})
		}
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Contact not found"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"success": true, "contact_id": contactID, "state": req.State})
}

// ListConversations returns contacts with message history, newest first.
// Supports ?q= phone substring search.
func (h *ConsoleHandler) ListConversations(c *fiber.Ctx) error {
	summaries, err := h.store.ListConversations(c.Query("q"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list conversations"})
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"conversations": summaries,
		"count":         len(summaries),
	})
}

// ListRejections returns recent rejected inbound attempts (unknown phone or
// failed signature), newest first.
func (h *ConsoleHandler) ListRejections(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)

	turns, err := h.store.ListRejections(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list rejections"})
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"rejections": turns,
		"count":      len(turns),
	})
}

// GetTranscript returns a contact's turns, optionally bounded by
// ?from= and ?to= (RFC3339).
func (h *ConsoleHandler) GetTranscript(c *fiber.Ctx) error {
	contactID, err := parseID(c.Params("contactID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contact id"})
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	turns, err := h.audit.Transcript(contactID, from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load transcript"})
	}
	return c.JSON(fiber.Map{"success": true, "turns": turns, "count": len(turns)})
}

// ExportTranscript downloads a contact's conversation as plain text.
func (h *ConsoleHandler) ExportTranscript(c *fiber.Ctx) error {
	contactID, err := parseID(c.Params("contactID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contact id"})
	}

	contact, err := h.store.GetContact(contactID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Contact not found"})
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	turns, err := h.audit.Transcript(contactID, from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load transcript"})
	}

	var b strings.Builder
	for _, turn := range turns {
		role := "customer"
		if turn.Direction == "out" {
			role = "assistant"
		}
		fmt.Fprintf(&b, "[%s] %s (%s): %s\n",
			turn.SentAt.Format("2006-01-02 15:04"), role, turn.Outcome, turn.Body)
	}

	c.Set("Content-Type", "text/plain")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.txt", contact.Phone))
	return c.SendString(b.String())
}

// PreviewCampaignCandidates lists contacts matching the outreach criteria
// without sending anything.
func (h *ConsoleHandler) PreviewCampaignCandidates(c *fiber.Ctx) error {
	minDays := c.QueryInt("days_since", 30)
	limit := c.QueryInt("limit", 100)

	candidates, err := h.store.ListCampaignCandidates(minDays, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load candidates"})
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// LaunchCampaign starts a background campaign over the current candidate set.
func (h *ConsoleHandler) LaunchCampaign(c *fiber.Ctx) error {
	var req struct {
		DaysSince int `json:"days_since"`
		Limit     int `json:"limit"`
		MaxActive int `json:"max_active"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.DaysSince <= 0 {
		req.DaysSince = 30
	}
	maxActive := req.MaxActive
	if maxActive <= 0 {
		maxActive = h.cfg.MaxActive
	}

	candidates, err := h.store.ListCampaignCandidates(req.DaysSince, req.Limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load candidates"})
	}

	criteria := fmt.Sprintf("days_since>=%d limit=%d", req.DaysSince, req.Limit)
	run, err := h.dispatcher.Launch(criteria, candidates, maxActive)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to launch campaign"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"run":     run,
	})
}

// GetCampaignRun returns a run's current record.
func (h *ConsoleHandler) GetCampaignRun(c *fiber.Ctx) error {
	run, err := h.store.GetCampaignRun(c.Params("runID"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Run not found"})
	}
	return c.JSON(fiber.Map{"success": true, "run": run})
}

// CancelCampaign stops admission for a running campaign. Sends already
// accepted by the gateway complete normally.
func (h *ConsoleHandler) CancelCampaign(c *fiber.Ctx) error {
	runID := c.Params("runID")
	if !h.dispatcher.Cancel(runID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No running campaign with that id"})
	}
	return c.JSON(fiber.Map{"success": true, "run_id": runID})
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func parseTimeRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid 'from' timestamp")
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid 'to' timestamp")
		}
		to = t
	}
	return from, to, nil
}
