// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"etinuxe/config"
	"etinuxe/internal/bot"
	"etinuxe/internal/db"
	"etinuxe/internal/gpt"
	"etinuxe/internal/insurance"
	"etinuxe/internal/onboarding"
	"etinuxe/internal/payment"
	"etinuxe/internal/pricing"
	"etinuxe/internal/server"
	"etinuxe/internal/server/handlers"
	"etinuxe/internal/settings"
	"etinuxe/internal/support"
	"etinuxe/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.NewProduction().Fatal("Failed to load config", "error", err)
	}

	l := logger.New(cfg.Log.Mode)
	defer l.Sync()
	l.Info("Starting etinuxe API...")

	if err := pricing.Validate(cfg.Pricing); err != nil {
		l.Fatal("Invalid default pricing settings", "error", err)
	}

	store := openStore(cfg, l)
	defer store.Close()

	// Payments
	var (
		gateway  payment.Gateway
		verifier handlers.EventVerifier
		currency = cfg.Stripe.Currency
	)
	if cfg.Stripe.Enabled() {
		stripeClient := payment.NewStripeClient(cfg.Stripe)
		gateway, verifier, currency = stripeClient, stripeClient, stripeClient.Currency()
		l.Info("Stripe checkout enabled", "currency", currency)
	} else {
		l.Warn("Stripe is not configured, payments are recorded as captured")
	}
	payments := payment.NewService(store, gateway, currency, l)

	// Services
	ins := insurance.NewService(store, payments, cfg.Pricing, cfg.BillingCycle(), l)
	ob := onboarding.NewService(store, ins, payments, cfg.Pricing, onboarding.LogMailer{Logger: l}, l)
	st := settings.NewService(store, cfg.Pricing, l)
	desk := support.NewService(store, l)

	if cfg.GPT.APIKey != "" {
		ob.WithNarrator(gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model))
	} else {
		l.Warn("GPT API key is not configured, health summaries are rule-based")
	}

	// Telegram
	var telegramBot *bot.TelegramBot
	if cfg.Telegram.Token != "" {
		telegramBot, err = bot.NewTelegramBot(cfg.Telegram.Token, cfg.Telegram.AdminChatID, ob, l)
		if err != nil {
			l.Fatal("Failed to create Telegram bot", "error", err)
		}
		if err := telegramBot.Start(context.Background()); err != nil {
			l.Fatal("Failed to start Telegram bot", "error", err)
		}
		ins.WithNotifier(telegramBot)
		desk.WithNotifier(telegramBot)
		l.Info("Telegram bot started successfully")
	}

	if cfg.Server.AdminToken == "" {
		l.Warn("ADMIN_TOKEN is empty, admin routes are unprotected")
	}

	router := server.NewRouter(server.RouterConfig{
		UserHandler:      handlers.NewUserHandler(ob),
		InsuranceHandler: handlers.NewInsuranceHandler(ins),
		AdminHandler:     handlers.NewAdminHandler(st, ob, ins),
		SupportHandler:   handlers.NewSupportHandler(desk),
		WebhookHandler:   handlers.NewWebhookHandler(payments, verifier, l),
		HealthHandler:    handlers.NewHealthHandler(),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AdminToken:       cfg.Server.AdminToken,
		Logger:           l,
	})
	httpServer := server.NewServer(cfg.Server.Port, router, l)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("Failed to start HTTP server", "error", err)
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		l.Error("Error during HTTP server shutdown", "error", err)
	}
	if telegramBot != nil {
		if err := telegramBot.Stop(ctx); err != nil {
			l.Error("Error during bot shutdown", "error", err)
		}
	}

	l.Info("Stopped successfully")
}

// openStore connects to Postgres with retries, or falls back to the in-memory
// store when DB.Driver is "memory".
func openStore(cfg *config.Config, l *logger.Logger) db.Store {
	if cfg.DB.Driver == "memory" {
		l.Warn("Using in-memory store, data is lost on restart")
		return db.NewMemoryStore()
	}

	var (
		database *db.PostgresDB
		err      error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		database, err = db.NewPostgresDB(cfg.DB)
		if err == nil {
			break
		}
		l.Error("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if database == nil {
		l.Fatal("Failed to connect to database after multiple attempts", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		l.Fatal("Failed to migrate database", "error", err)
	}
	return database
}
