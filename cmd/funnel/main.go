package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/videofunnel/internal/api"
	"github.com/p-blackswan/videofunnel/internal/config"
	"github.com/p-blackswan/videofunnel/internal/exitintent"
	"github.com/p-blackswan/videofunnel/internal/health"
	"github.com/p-blackswan/videofunnel/internal/kv"
	"github.com/p-blackswan/videofunnel/internal/live"
	"github.com/p-blackswan/videofunnel/internal/metrics"
	"github.com/p-blackswan/videofunnel/internal/notify"
	"github.com/p-blackswan/videofunnel/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	tunables, err := config.LoadTunables(cfg.TunablesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load tunables")
	}
	if err := cfg.CheckRetention(tunables.ExitIntent.SuppressionWindow); err != nil {
		logger.Fatal().Err(err).Msg("invalid retention")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("api_addr", cfg.APIListenAddr).
		Str("auth_mode", cfg.APIAuthMode).
		Str("kv_backend", cfg.KVBackend).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Dur("initial_delay", tunables.ExitIntent.InitialDelay).
		Dur("suppression_window", tunables.ExitIntent.SuppressionWindow).
		Msg("starting video funnel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}

	m := metrics.New()

	checker := health.NewChecker(logger)
	checker.Register("database", health.PingCheck(st))
	checker.Register("db_size", health.LimitCheck(st.DBSizeBytes, cfg.DBSizeWarnBytes))

	// Notifications: always log, Slack when configured, delivered off the
	// request path.
	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhookURL, cfg.SlackChannel, notify.WithSlackLogger(logger)))
		logger.Info().Msg("Slack lead notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured, lead notifications are log only")
	}
	notifier := notify.NewAsync(notify.NewMultiNotifier(notifiers...), 256, 15*time.Second,
		func(error) { m.RecordError("notify", "lead_captured") }, logger)

	var suppression exitintent.KV = st.KV()
	if cfg.KVBackend == "memory" {
		suppression = kv.NewMemory(cfg.KVCapacity)
	}

	hub := live.NewHub(suppression, live.Config{
		Settings:        tunables.ExitIntent,
		MaxMessageBytes: tunables.Live.MaxMessageBytes,
		WriteTimeout:    tunables.Live.WriteTimeout,
		PingInterval:    tunables.Live.PingInterval,
		HelloTimeout:    tunables.Live.HelloTimeout,
		AllowedOrigins:  splitOrigins(cfg.AllowedOrigins()),
	}, live.WithMetrics(m), live.WithLogger(logger))

	// Ops server: probes, metrics and the live exit-intent socket
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/ws/exit-intent", hub)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	apiServer := api.NewServer(api.ServerConfig{
		ListenAddr:  cfg.APIListenAddr,
		Environment: cfg.Environment,
		Auth: api.AuthConfig{
			Mode:      cfg.APIAuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins:  cfg.AllowedOrigins(),
		MaxPageLimit: cfg.MaxListPageLimit,
	}, st, notifier, m, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("lead API server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runMaintenance(ctx, st, m, cfg.RetentionPeriod, cfg.KVRetention, logger)
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("lead API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("forced shutdown after timeout")
	}

	notifier.Close()
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}

	logger.Info().Msg("video funnel stopped")
}

// runMaintenance purges stale suppression rows and samples the database size
// until ctx is cancelled.
func runMaintenance(ctx context.Context, st *store.Store, m *metrics.Metrics, every, maxAge time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := st.RunRetention(ctx, maxAge); err != nil {
			logger.Warn().Err(err).Msg("retention failed")
			m.RecordError("store", "retention")
		}
		if size, err := st.DBSizeBytes(); err == nil {
			m.SetDBSize(size)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
