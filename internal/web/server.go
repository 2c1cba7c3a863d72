// Package web provides the HTTP status server for the brew controller.
package web

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/brew-controller/internal/brew"
	"github.com/sweeney/brew-controller/internal/metrics"
	"github.com/sweeney/brew-controller/internal/shotstore"
	"github.com/sweeney/brew-controller/internal/status"
)

// DefaultPushInterval is how often /ws clients receive a status frame.
const DefaultPushInterval = 250 * time.Millisecond

const (
	defaultShotLimit = 20
	maxShotLimit     = 100
)

// ShotSource reads stored shots. *shotstore.Store satisfies it.
type ShotSource interface {
	Recent(n int) ([]brew.Shot, error)
	Get(id string) (brew.Shot, error)
}

// Options configures optional endpoints. Zero values disable them.
type Options struct {
	Shots        ShotSource          // Serves /shots when set
	Gatherer     prometheus.Gatherer // Serves /metrics when set
	PushInterval time.Duration       // Defaults to DefaultPushInterval
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	opts       Options
	upgrader   websocket.Upgrader

	// quit stops websocket pushers, which Shutdown does not wait for.
	quit chan struct{}
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	if opts.PushInterval <= 0 {
		opts.PushInterval = DefaultPushInterval
	}
	s := &Server{
		tracker: tracker,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebsocket)
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}
	if opts.Shots != nil {
		r.HandleFunc("/shots", s.handleShots).Methods(http.MethodGet)
		r.HandleFunc("/shots/{id}", s.handleShot).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	// The client sends nothing; reading only detects that it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.PushInterval)
	defer ticker.Stop()
	for {
		frame := status.FormatJSON(s.tracker.Snapshot())
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.quit:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) handleShots(w http.ResponseWriter, r *http.Request) {
	limit := defaultShotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxShotLimit)
	}

	shots, err := s.opts.Shots.Recent(limit)
	if err != nil {
		log.Printf("web: list shots: %v", err)
		http.Error(w, "shot store unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(formatShotList(shots))
}

func (s *Server) handleShot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	shot, err := s.opts.Shots.Get(id)
	if errors.Is(err, shotstore.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Printf("web: get shot %s: %v", id, err)
		http.Error(w, "shot store unavailable", http.StatusInternalServerError)
		return
	}

	data, err := brew.FormatShot(shot)
	if err != nil {
		log.Printf("web: encode shot %s: %v", id, err)
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
