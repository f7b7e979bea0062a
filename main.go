package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/greenshield/reengage-backend/database"
	"github.com/greenshield/reengage-backend/internal/config"
	"github.com/greenshield/reengage-backend/internal/handlers"
	"github.com/greenshield/reengage-backend/internal/jobs"
	"github.com/greenshield/reengage-backend/internal/models"
	"github.com/greenshield/reengage-backend/internal/routes"
	"github.com/greenshield/reengage-backend/internal/services"
	"github.com/greenshield/reengage-backend/internal/storage"
)

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		err := godotenv.Load(".env")
		if err != nil {
			err = godotenv.Load("environments/.env.development")
			if err != nil {
				log.Println("⚠️  No .env file found - checking environment variables")
			}
		}
	}

	cfg := config.Load()

	// Initialize storage
	var store storage.Store

	if os.Getenv("USE_MEMORY_STORE") == "true" {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		log.Println("🔄 Running database migrations...")
		err := database.DB.AutoMigrate(
			&models.Contact{},
			&models.ConversationTurn{},
			&models.CampaignRun{},
		)
		if err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		store = storage.NewDatabaseStore(database.DB)
		log.Println("✅ Using PostgreSQL database storage")
	}
	storage.SetStore(store)

	// Carrier gateway. Required when outbound is enabled; with outbound
	// disabled every send is suppressed and the gateway is never called.
	var gateway services.Gateway
	twilioService, err := services.NewTwilioService()
	if err != nil {
		if cfg.OutboundEnabled {
			log.Fatal("Failed to initialize Twilio service:", err)
		}
		log.Println("⚠️  Twilio not configured - outbound is disabled anyway")
	} else {
		gateway = twilioService
		log.Println("✅ Twilio service initialized")
	}

	// Conversation state machine: table validated once at startup.
	machine, err := services.NewStateMachine(services.DefaultTransitionTable())
	if err != nil {
		log.Fatal("Invalid transition table:", err)
	}

	guard := services.NewComplianceGuard(cfg.OptOutKeywords)

	var generator services.Generator
	if cfg.GeneratorURL != "" {
		generator = services.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorAPIKey, cfg.GeneratorTimeout)
		log.Println("✅ Reply generator configured")
	} else {
		log.Println("⚠️  GENERATOR_URL not set - replies use state templates only")
	}
	composer := services.NewReplyComposer(generator, cfg.MaxReplyLength)

	audit := services.NewAuditLog(store)
	conversations := services.NewConversationService(store, guard, machine, composer, gateway, audit, cfg)
	dispatcher := services.NewCampaignDispatcher(store, conversations, cfg)

	// Start scheduled follow-up sweep
	followUpJob := jobs.NewFollowUpJob(store, dispatcher, cfg)
	followUpJob.Start()

	log.Println("✅ All services initialized")

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "Re-Engage Backend v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Health check endpoint with database status
	app.Get("/", func(c *fiber.Ctx) error {
		response := fiber.Map{
			"service":          "Re-Engage Backend API",
			"version":          "1.0.0",
			"status":           "healthy",
			"storage":          getStorageType(),
			"outbound_enabled": cfg.OutboundEnabled,
			"max_active":       cfg.MaxActive,
		}

		if os.Getenv("USE_MEMORY_STORE") != "true" && database.DB != nil {
			sqlDB, err := database.DB.DB()
			dbStatus := "connected"
			if err != nil {
				dbStatus = "error: " + err.Error()
			} else if err := sqlDB.Ping(); err != nil {
				dbStatus = "error: " + err.Error()
			}

			var contactCount, turnCount, runCount int64
			database.DB.Model(&models.Contact{}).Count(&contactCount)
			database.DB.Model(&models.ConversationTurn{}).Count(&turnCount)
			database.DB.Model(&models.CampaignRun{}).Count(&runCount)

			response["database"] = fiber.Map{
				"status":   dbStatus,
				"contacts": contactCount,
				"turns":    turnCount,
				"runs":     runCount,
			}
		}

		return c.JSON(response)
	})

	// Health check endpoint for monitoring
	app.Get("/health", func(c *fiber.Ctx) error {
		status := "healthy"
		statusCode := 200

		if os.Getenv("USE_MEMORY_STORE") != "true" && database.DB != nil {
			sqlDB, err := database.DB.DB()
			if err != nil || sqlDB.Ping() != nil {
				status = "unhealthy"
				statusCode = 503
			}
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"services": fiber.Map{
				"database": status == "healthy",
				"twilio":   gateway != nil,
			},
		})
	})

	// Setup routes
	smsHandler := handlers.NewSMSHandler(conversations)
	consoleHandler := handlers.NewConsoleHandler(store, conversations, dispatcher, audit, cfg)
	routes.SetupRoutes(app, smsHandler, consoleHandler, audit)

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping follow-up job...")
		followUpJob.Stop()
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
	}()

	// Start server
	log.Println("========================================")
	log.Printf("🚀 Re-Engage Backend starting on port %s", cfg.Port)
	log.Printf("📊 Storage: %s", getStorageType())
	log.Printf("📱 Outbound: %s", getOutboundStatus(cfg.OutboundEnabled, gateway != nil))
	log.Printf("⏱  Send pacing: %s, max_active: %d", cfg.SendPaceInterval, cfg.MaxActive)
	log.Println("========================================")

	log.Fatal(app.Listen(":" + cfg.Port))
}

func getStorageType() string {
	if os.Getenv("USE_MEMORY_STORE") == "true" {
		return "In-Memory (Testing)"
	}
	return "PostgreSQL Database"
}

func getOutboundStatus(enabled, configured bool) string {
	if !enabled {
		return "Disabled (suppressing sends)"
	}
	if !configured {
		return "Enabled but not configured"
	}
	return "Enabled"
}
