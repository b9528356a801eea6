package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/dental-booking/internal/appointment"
	"github.com/hackgods/dental-booking/internal/logging"
)

const (
	ActionChat  = "chat"
	ActionVoice = "voice"
)

type RouterConfig struct {
	Service BookingService
	Tokens  TokenParser
	Chat    ChatCompleter
	Voice   VoiceSigner
	Limiter appointment.RateLimiter

	Postgres Pinger
	Redis    *redis.Client
	Metrics  http.Handler

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	Logger  *logrus.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrDefault(cfg.Logger)
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(chimw.Recoverer)
	r.Use(CORS(cfg.CORSAllowedOrigins))

	// Health endpoints
	var redisPinger RedisPinger
	if cfg.Redis != nil {
		redisPinger = cfg.Redis
	}
	health := NewHealthHandler(cfg.Postgres, redisPinger, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Public booking endpoints
	r.Post("/appointments", bookingHandler(cfg.Service, appointment.SourceBookingForm, false, logger))
	r.Post("/voice-assistant/appointments", bookingHandler(cfg.Service, appointment.SourceVoiceAssistant, false, logger))
	r.Post("/rpc/get_available_slots", slotsRPCHandler(cfg.Service, logger))
	r.Get("/slots", slotsQueryHandler(cfg.Service, logger))

	if cfg.Tokens != nil {
		action := appointmentActionHandler(cfg.Service, cfg.Tokens, logger)
		r.Get("/appointments/actions", action)
		r.Post("/appointments/actions", action)
	}

	// Assistant proxies
	r.Route("/assistant", func(r chi.Router) {
		r.With(RateLimit(cfg.Limiter, ActionChat, logger)).Post("/chat", chatHandler(cfg.Chat, logger))
		r.With(RateLimit(cfg.Limiter, ActionVoice, logger)).Get("/voice/signed-url", voiceSignedURLHandler(cfg.Voice, logger))
	})

	// Admin endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminJWT(cfg.AdminJWTSecret, logger))
		r.Post("/appointments", bookingHandler(cfg.Service, appointment.SourceAdminBooking, true, logger))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service, logger))
		r.Post("/appointments/{id}/confirm", adminTransitionHandler(cfg.Service.AdminConfirm, logger))
		r.Post("/appointments/{id}/cancel", adminTransitionHandler(cfg.Service.AdminCancel, logger))
		r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Service, logger))
	})

	return r
}
