package web

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jameshope87/selfiebot/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for the kiosk display on addr. Press, Status
// and Sessions on h may be nil.
func NewServer(addr string, h *Handlers) (*Server, error) {
	if h.staticFS == nil {
		subFS, err := fs.Sub(staticFiles, "static")
		if err != nil {
			return nil, err
		}
		h.staticFS = subFS
	}
	return &Server{
		addr:     addr,
		handlers: h,
	}, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlers.ServeIndex)
	r.Get("/config", s.handlers.HandleConfig)
	r.Get("/state", s.handlers.HandleState)
	r.Get("/sessions", s.handlers.HandleSessions)
	r.Get("/status/stream", s.handlers.HandleStatusStream)
	r.Get("/overlays/{id}", s.handlers.HandleOverlay)
	r.Post("/press", s.handlers.HandlePress)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Mux(),
		// Open status streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Kiosk display on http://%s/", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
