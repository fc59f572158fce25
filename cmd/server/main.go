// cmd/server/main.go
package main

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/config"
	"github.com/maildrip/maildrip-backend/internal/controller"
	"github.com/maildrip/maildrip-backend/internal/db"
	"github.com/maildrip/maildrip-backend/internal/handler"
	"github.com/maildrip/maildrip-backend/internal/repository"
	"github.com/maildrip/maildrip-backend/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "server").Logger()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	conn, err := db.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	broadcastRepo := &repository.BroadcastRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	templateRepo := &repository.TemplateRepository{DB: conn}
	eventRepo := &repository.EventRepository{DB: conn}

	broadcastService := &service.BroadcastService{
		BroadcastRepo: broadcastRepo,
		RecipientRepo: recipientRepo,
		ContactRepo:   contactRepo,
		TemplateRepo:  templateRepo,
		Config:        cfg,
		Log:           logger.With().Str("service", "broadcast").Logger(),
	}

	reconciler := service.NewReconciler(
		recipientRepo, contactRepo, eventRepo,
		logger.With().Str("service", "reconciler").Logger(),
	)

	broadcastController := &controller.BroadcastController{
		BroadcastService: broadcastService,
		BroadcastRepo:    broadcastRepo,
		Log:              logger,
	}
	webhookController := &controller.WebhookController{
		Reconciler:  reconciler,
		ContactRepo: contactRepo,
		Config:      cfg,
		Log:         logger,
	}
	broadcastHandler := &handler.BroadcastHandler{
		BroadcastRepo: broadcastRepo,
	}

	r := chi.NewRouter()

	// Broadcast routes
	r.Post("/broadcasts", broadcastController.CreateBroadcast)
	r.Get("/broadcasts", broadcastController.ListBroadcasts)
	r.Get("/broadcasts/{id}", broadcastHandler.GetBroadcastWithStats)
	r.Post("/broadcasts/{id}/start", broadcastController.StartBroadcast)
	r.Post("/broadcasts/{id}/pause", broadcastController.PauseBroadcast)
	r.Post("/broadcasts/{id}/resume", broadcastController.ResumeBroadcast)
	r.Post("/broadcasts/{id}/cancel", broadcastController.CancelBroadcast)
	r.Post("/broadcasts/{id}/requeue", broadcastController.RequeueBroadcast)

	// Provider-facing surface
	r.Post("/webhooks/email", webhookController.HandleProviderWebhook)
	r.Get("/unsubscribe", webhookController.HandleUnsubscribe)

	logger.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
