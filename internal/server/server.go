package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"aimtrainer/internal/db"
	"aimtrainer/internal/events"
	"aimtrainer/internal/metrics"
	"aimtrainer/internal/publish"
	"aimtrainer/internal/round"
	"aimtrainer/internal/sessions"
	"aimtrainer/internal/settings"
	"aimtrainer/internal/targets"
	"aimtrainer/internal/wshub"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	profileCookie       = "profile_id"
	clickBufferSize     = 1000
	settingsLoadTimeout = 2 * time.Second
)

type Options struct {
	DB             *db.DB             // nil if no database configured
	Publisher      *publish.Publisher // nil if NATS not configured
	Registry       *prometheus.Registry
	Metrics        *metrics.Metrics
	Defaults       settings.Settings
	Bounds         targets.Bounds
	Clock          clockwork.Clock
	SessionTTL     time.Duration
	AllowedOrigins []string
}

type Server struct {
	Sessions    *sessions.Store
	Hub         *wshub.Hub
	Tmpl        *template.Template
	DB          *db.DB
	Publisher   *publish.Publisher
	ClickBuffer chan db.ClickEvent // nil if no database configured
	Metrics     *metrics.Metrics

	registry *prometheus.Registry
	defaults settings.Settings
	bounds   targets.Bounds
	clock    clockwork.Clock
	origins  []string

	stopWriter context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Defaults == (settings.Settings{}) {
		opts.Defaults = settings.Default()
	}
	if opts.Bounds == (targets.Bounds{}) {
		opts.Bounds = targets.DefaultBounds()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(opts.Registry)
	}

	s := &Server{
		Hub:       wshub.NewHub(),
		Tmpl:      template.Must(template.ParseFS(staticFS, "static/index.html")),
		DB:        opts.DB,
		Publisher: opts.Publisher,
		Metrics:   opts.Metrics,
		registry:  opts.Registry,
		defaults:  opts.Defaults,
		bounds:    opts.Bounds,
		clock:     opts.Clock,
		origins:   opts.AllowedOrigins,
	}

	if s.DB != nil {
		s.ClickBuffer = make(chan db.ClickEvent, clickBufferSize)
		ctx, cancel := context.WithCancel(context.Background())
		s.stopWriter = cancel
		s.writerDone = make(chan struct{})
		go func() {
			defer close(s.writerDone)
			clickBatchWriter(ctx, s.clock, s.DB, s.ClickBuffer)
		}()
	}

	s.Sessions = sessions.NewStore(s.newController, opts.SessionTTL, s.clock, s.Metrics)
	return s
}

// Close ends every live session and flushes pending click events.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.Sessions.Close()
		if s.stopWriter != nil {
			s.stopWriter()
			<-s.writerDone
		}
	})
}

func (s *Server) newController(profileID string, bus *events.Bus) *round.Controller {
	return round.New(round.Options{
		ProfileID: profileID,
		Settings:  s.loadSettings(profileID),
		Bounds:    s.bounds,
		Clock:     s.clock,
		Bus:       bus,
		Recorder:  s.recorder(),
		Metrics:   s.Metrics,
	})
}

// loadSettings returns the profile's saved settings, falling back to the
// configured defaults when there are none or the database is unreachable.
func (s *Server) loadSettings(profileID string) settings.Settings {
	if s.DB == nil {
		return s.defaults
	}
	ctx, cancel := context.WithTimeout(context.Background(), settingsLoadTimeout)
	defer cancel()
	saved, err := s.DB.GetSettings(ctx, profileID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Warn().Err(err).Str("profile_id", profileID).Msg("loading settings, using defaults")
		}
		return s.defaults
	}
	return saved
}

// profileID reads the profile cookie. ok is false when the client never
// registered.
func profileID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(profileCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// session resolves the caller's live session, creating it on first use. It
// writes a 400 and returns nil when the request carries no profile.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *sessions.Session {
	id, ok := profileID(r)
	if !ok {
		http.Error(w, "Not Registered", http.StatusBadRequest)
		return nil
	}
	return s.Sessions.GetOrCreate(id)
}
