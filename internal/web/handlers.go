package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/logic/session"
	"github.com/jameshope87/selfiebot/internal/overlay"
	"github.com/jameshope87/selfiebot/internal/store"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
)

// PressFunc injects a button press, as if the physical button was pushed.
type PressFunc func()

// StatusFunc returns the current session snapshot.
type StatusFunc func() session.Snapshot

// SessionLister lists recorded sessions, newest first.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]store.Session, error)
}

// Handlers holds dependencies for HTTP handlers. Press, Status and Sessions
// may be nil; the matching endpoints then answer 503.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Display     *Display
	Press       PressFunc
	Status      StatusFunc
	Sessions    SessionLister
	Config      interface{}
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, display *Display, press PressFunc, status StatusFunc, sessions SessionLister, cfg interface{}, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Display:     display,
		Press:       press,
		Status:      status,
		Sessions:    sessions,
		Config:      cfg,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the effective configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// ServeIndex serves the kiosk page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandlePress handles POST /press.
func (h *Handlers) HandlePress(w http.ResponseWriter, r *http.Request) {
	if h.Press == nil {
		http.Error(w, "button not configured", http.StatusServiceUnavailable)
		return
	}
	h.Press()
	debug.Verbose("Web: press from %s", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pressed"})
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil {
		http.Error(w, "session not running", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}

// HandleSessions handles GET /sessions?limit=N.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		http.Error(w, "session ledger disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSessionLimit {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := h.Sessions.Recent(r.Context(), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleOverlay handles GET /overlays/{id} and serves the overlay's PNG frame.
func (h *Handlers) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		http.Error(w, "invalid overlay id", http.StatusBadRequest)
		return
	}
	data, ok := h.Display.Frame(overlay.Handle(id))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	// Handles are never reused within a process.
	w.Header().Set("Cache-Control", "private, max-age=3600, immutable")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE. A new client first
// receives the current scene, then every change.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	if h.Display != nil {
		if msg, err := encodeEvent(StatusEvent{Kind: KindScene, Data: h.Display.Scene()}); err == nil {
			w.Write([]byte("data: " + msg + "\n\n"))
		}
	}
	if h.Status != nil {
		if msg, err := encodeEvent(StatusEvent{Kind: KindState, Data: h.Status()}); err == nil {
			w.Write([]byte("data: " + msg + "\n\n"))
		}
	}
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
