package routes

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/greenshield/reengage-backend/internal/handlers"
	"github.com/greenshield/reengage-backend/internal/middleware"
	"github.com/greenshield/reengage-backend/internal/services"
	"github.com/greenshield/reengage-backend/internal/utils"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, sms *handlers.SMSHandler, console *handlers.ConsoleHandler, audit *services.AuditLog) {

	// ========== WEBHOOK ROUTES ==========
	webhooks := app.Group("/webhook")

	// Signature failures leave a contact-less rejection record so the
	// console can show rejected attempts.
	onReject := func(from, body, messageSID string) {
		audit.RecordRejection(utils.NormalizePhone(from), body, messageSID)
	}

	// SMS webhook - ENVIRONMENT-AWARE VALIDATION
	if os.Getenv("ENVIRONMENT") == "development" || os.Getenv("DISABLE_WEBHOOK_VALIDATION") == "true" {
		// Development: Skip validation for ngrok
		webhooks.Post("/sms", sms.HandleWebhook)
		if os.Getenv("ENVIRONMENT") == "development" {
			println("⚠️  SMS webhook validation DISABLED for development")
		}
	} else {
		// Production: Validate webhook signature
		webhooks.Post("/sms", middleware.ValidateTwilioSignature(onReject), sms.HandleWebhook)
	}

	// ========== CONSOLE ROUTES ==========
	// Operator auth is handled upstream (reverse proxy / gateway).
	admin := app.Group("/admin")

	admin.Get("/conversations", console.ListConversations)
	admin.Get("/rejections", console.ListRejections)
	admin.Get("/conversations/:contactID", console.GetTranscript)
	admin.Get("/conversations/:contactID/export", console.ExportTranscript)
	admin.Put("/contacts/:contactID/state", console.SetContactState)

	campaigns := admin.Group("/campaigns")
	campaigns.Get("/preview", console.PreviewCampaignCandidates)
	campaigns.Post("/", console.LaunchCampaign)
	campaigns.Get("/:runID", console.GetCampaignRun)
	campaigns.Post("/:runID/cancel", console.CancelCampaign)
}
