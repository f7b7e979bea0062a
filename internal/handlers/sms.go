package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/greenshield/reengage-backend/internal/services"
)

// SMSHandler handles inbound SMS webhook requests from the carrier.
type SMSHandler struct {
	conversations *services.ConversationService
}

// NewSMSHandler creates a new SMS webhook handler
func NewSMSHandler(conversations *services.ConversationService) *SMSHandler {
	return &SMSHandler{conversations: conversations}
}

// TwilioWebhookPayload represents an incoming SMS message from Twilio
type TwilioWebhookPayload struct {
	MessageSid          string `form:"MessageSid"`
	AccountSid          string `form:"AccountSid"`
	MessagingServiceSid string `form:"MessagingServiceSid"`
	From                string `form:"From"` // E.164, possibly channel-prefixed
	To                  string `form:"To"`
	Body                string `form:"Body"`
	NumMedia            string `form:"NumMedia"`
}

// HandleWebhook processes one inbound message. Signature validation runs in
// middleware before this; the reply is sent out-of-band via the gateway, so
// Twilio only needs a 200 here.
func (h *SMSHandler) HandleWebhook(c *fiber.Ctx) error {
	var payload TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		log.Printf("Error parsing webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	if payload.From == "" || payload.Body == "" {
		// Status callbacks and media-only events are acknowledged, not processed.
		return c.SendStatus(fiber.StatusOK)
	}

	log.Printf("📱 SMS from %s: %s", payload.From, payload.Body)

	reply, err := h.conversations.ProcessInbound(c.Context(), payload.From, payload.Body, payload.MessageSid)
	switch {
	case err == nil:
		if reply != "" {
			log.Printf("📤 Reply queued for %s: %s", payload.From, reply)
		}
	case errors.Is(err, services.ErrDuplicateMessage):
		// Replay: already handled, nothing more to do.
	case errors.Is(err, services.ErrUnknownContact):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown contact",
		})
	default:
		// Transition rejections and send failures are logged and audited in
		// the service; the carrier still gets its 200 so it won't retry.
		log.Printf("Error processing message from %s: %v", payload.From, err)
	}

	return c.SendStatus(fiber.StatusOK)
}
