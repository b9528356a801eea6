package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/dental-booking/internal/actiontoken"
	"github.com/hackgods/dental-booking/internal/api"
	"github.com/hackgods/dental-booking/internal/appointment"
	"github.com/hackgods/dental-booking/internal/assistant"
	"github.com/hackgods/dental-booking/internal/config"
	"github.com/hackgods/dental-booking/internal/db"
	"github.com/hackgods/dental-booking/internal/logging"
	"github.com/hackgods/dental-booking/internal/metrics"
	"github.com/hackgods/dental-booking/internal/notify"
	redisclient "github.com/hackgods/dental-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().WithError(err).Fatal("config load error")
	}

	logger := logging.New(cfg.LogLevel)
	logger.WithFields(logrus.Fields{
		"env":       cfg.Env,
		"http_port": cfg.HTTPPort,
		"timezone":  cfg.ClinicLocation.String(),
	}).Info("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.DefaultPoolOptions())
	cancelPg()
	if err != nil {
		logger.WithError(err).Fatal("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Redis is optional: without it bookings run with no rate limit or booking lock.
	var (
		rdb     *redis.Client
		limiter appointment.RateLimiter
		locker  appointment.BookingLocker
	)
	rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, running without rate limiting and booking locks")
		rdb = nil
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.WithError(err).Warn("error closing redis")
			}
		}()
		logger.Info("connected to Redis")

		limiter = redisclient.NewSlidingWindowLimiter(rdb, redisclient.Rule{
			Limit:  cfg.BookingRateLimit,
			Window: cfg.BookingRateWindow,
		}).
			WithRule(api.ActionChat, redisclient.Rule{Limit: 30, Window: 10 * time.Minute}).
			WithRule(api.ActionVoice, redisclient.Rule{Limit: 5, Window: 10 * time.Minute})
		locker = redisclient.NewContactLocker(rdb, cfg.BookingLockTTL).WithWait(cfg.BookingLockWait, 0)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)

	var tokens *actiontoken.Issuer
	notifyOpts := []notify.Option{notify.WithLogger(logger), notify.WithMetrics(bookingMetrics)}
	if cfg.ActionTokenSecret != "" {
		tokens = actiontoken.NewIssuer(cfg.ActionTokenSecret, cfg.ActionTokenTTL)
		notifyOpts = append(notifyOpts, notify.WithLinks(notify.NewActionLinks(cfg.PublicBaseURL, tokens)))
	} else {
		logger.Warn("ACTION_TOKEN_SECRET and ADMIN_JWT_SECRET unset, email action links disabled")
	}
	notifier := notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, notifyOpts...)

	policy := appointment.DefaultPolicy()
	policy.RateLimitFailOpen = cfg.RateLimitFailOpen
	policy.ConflictCheckFailOpen = cfg.ConflictCheckFailOpen

	validator := appointment.NewValidator(appointment.SystemClock{}, cfg.ClinicLocation, cfg.ClosedWeekdays)
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		validator,
		limiter,
		locker,
		notifier,
		policy,
		appointment.WithLogger(logger),
		appointment.WithMetrics(bookingMetrics),
	)

	chat := assistant.NewChatClient(cfg.LLMGatewayURL, cfg.LLMGatewayKey, cfg.LLMModel)
	if cfg.LLMSystemPrompt != "" {
		chat.SetSystemPrompt(cfg.LLMSystemPrompt)
	}

	routerCfg := api.RouterConfig{
		Service:            svc,
		Chat:               chat,
		Voice:              assistant.NewVoiceClient(cfg.VoiceAPIKey, cfg.VoiceAgentID),
		Limiter:            limiter,
		Postgres:           pgPool,
		Redis:              rdb,
		Metrics:            metrics.Handler(reg),
		AdminJWTSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
		Env:                cfg.Env,
		Version:            version,
	}
	if tokens != nil {
		routerCfg.Tokens = tokens
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("http server failed")
		}
	}

	logger.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown")
	}

	// Let in-flight notifications finish before closing pools.
	drained := make(chan struct{})
	go func() {
		svc.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached with notifications still in flight")
	}
}
