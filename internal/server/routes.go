package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aimtrainer/internal/config"
	"aimtrainer/internal/db"
	"aimtrainer/internal/metrics"
	"aimtrainer/internal/publish"
	"aimtrainer/internal/targets"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// Routes builds the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/", s.handleHome)
	r.Post("/profile/register", s.handleRegister)
	r.Get("/settings", s.handleGetSettings)
	r.Post("/settings", s.handlePostSettings)

	r.Route("/play", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/start", s.handleStart)
		r.Post("/hit/{id}", s.handleHit)
		r.Post("/miss", s.handleMiss)
		r.Post("/resize", s.handleResize)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWS)
	})

	r.Get("/sessions", s.handleSessions)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func Run() error {
	appCfg := config.Load()
	setupLogging(appCfg.LogLevel)

	defaults, err := config.LoadDefaults(appCfg.SettingsFile)
	if err != nil {
		log.Warn().Err(err).Str("path", appCfg.SettingsFile).Msg("using built-in default settings")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := Options{
		Registry:       reg,
		Metrics:        metrics.New(reg),
		Defaults:       defaults,
		Bounds:         targets.Bounds{Width: float64(appCfg.AreaWidth), Height: float64(appCfg.AreaHeight)},
		Clock:          clockwork.NewRealClock(),
		SessionTTL:     appCfg.SessionTTL,
		AllowedOrigins: appCfg.AllowedOrigins,
	}

	// Optional database connection
	if appCfg.DatabaseURL != "" {
		database, err := db.Connect(appCfg.DatabaseURL)
		if err != nil {
			log.Error().Err(err).Msg("database unavailable, running without persistence")
		} else {
			if err := database.Migrate(); err != nil {
				log.Error().Err(err).Msg("migration failed")
			}
			defer database.Close()
			opts.DB = database
		}
	} else {
		log.Info().Msg("DATABASE_URL not set, running without database")
	}

	// Optional NATS connection
	if appCfg.NatsURL != "" {
		pub, err := publish.Connect(appCfg.NatsURL, appCfg.NatsSubject)
		if err != nil {
			log.Error().Err(err).Msg("NATS unavailable, sessions will not be published")
		} else {
			defer pub.Close()
			opts.Publisher = pub
			log.Info().Str("subject", pub.Subject()).Msg("publishing finished sessions")
		}
	}

	srv := New(opts)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + appCfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Closing sessions ends open event streams so Shutdown can finish.
	httpServer.RegisterOnShutdown(srv.Sessions.Close)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msgf("listening on http://localhost:%s", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	return nil
}
