package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aimtrainer/internal/events"
	"aimtrainer/internal/round"
	"aimtrainer/internal/settings"
	"aimtrainer/internal/targets"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 100
)

// stateMessage is a full snapshot tagged like an event, sent when a stream
// opens.
type stateMessage struct {
	Type events.Type `json:"t"`
	round.Snapshot
}

type sessionResponse struct {
	ID        string            `json:"id"`
	Score     int               `json:"score"`
	Misses    int               `json:"misses"`
	Accuracy  float64           `json:"accuracy"`
	Settings  settings.Settings `json:"settings"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   time.Time         `json:"endedAt"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	_, registered := profileID(r)
	data := map[string]any{
		"Registered": registered,
		"Width":      s.bounds.Width,
		"Height":     s.bounds.Height,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.Tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Error().Err(err).Msg("rendering home page")
		http.Error(w, "Error rendering home page", http.StatusInternalServerError)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		http.Error(w, "Name required", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     profileCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if s.DB != nil {
		if err := s.DB.UpsertProfile(r.Context(), id, name); err != nil {
			log.Warn().Err(err).Str("profile_id", id).Msg("saving profile")
		}
	}
	log.Info().Str("profile_id", id).Str("name", name).Msg("profile registered")

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.Settings())
}

// handlePostSettings validates and applies new settings. While a round is
// playing they take effect at the next start.
func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var next settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		http.Error(w, "Invalid settings", http.StatusBadRequest)
		return
	}
	if err := next.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess.Controller.SetSettings(next)

	if s.DB != nil {
		if err := s.DB.SaveSettings(r.Context(), sess.ProfileID, next); err != nil {
			log.Warn().Err(err).Str("profile_id", sess.ProfileID).Msg("saving settings")
		}
	}
	writeJSON(w, http.StatusOK, sess.Controller.Settings())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.StartGame())
}

func (s *Server) handleHit(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid target ID", http.StatusBadRequest)
		return
	}
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.Click(targetID))
}

func (s *Server) handleMiss(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.OnMiss())
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var b targets.Bounds
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil || b.Width <= 0 || b.Height <= 0 {
		http.Error(w, "Invalid bounds", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller.Resize(b))
}

// handleEvents streams the caller's round events as server-sent events,
// starting with a full state snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	msgChan := sess.Broadcaster.Subscribe()
	defer sess.Broadcaster.Unsubscribe(msgChan)

	writeEvent(w, events.TypeState, stateMessage{Type: events.TypeState, Snapshot: sess.Controller.Snapshot()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-msgChan:
			if !ok {
				return
			}
			writeEvent(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, t events.Type, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encoding event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", t, data)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(r)
	if !ok {
		http.Error(w, "Not Registered", http.StatusBadRequest)
		return
	}

	out := []sessionResponse{}
	if s.DB == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSessionLimit)
	}

	records, err := s.DB.RecentSessions(r.Context(), id, limit)
	if err != nil {
		log.Error().Err(err).Str("profile_id", id).Msg("listing sessions")
		http.Error(w, "Failed to load sessions", http.StatusInternalServerError)
		return
	}
	for _, rec := range records {
		out = append(out, sessionResponse{
			ID:        rec.ID,
			Score:     rec.Score,
			Misses:    rec.Misses,
			Accuracy:  rec.Accuracy,
			Settings:  rec.Settings,
			StartedAt: rec.StartedAt,
			EndedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "db_error",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
