package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/store"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// DefaultAddress is the default listen address.
const DefaultAddress = ":8080"

// LiveSource provides presentation snapshots. *race.Controller implements it.
type LiveSource interface {
	Snapshot() race.Snapshot
	Subscribe() (<-chan race.Snapshot, func())
}

// Store is the persistence the API reads and edits. *store.Store implements it.
type Store interface {
	AddRunner(ctx context.Context, name string) (int64, error)
	GetAllRunners(ctx context.Context) ([]model.Runner, error)
	GetRunnerTimes(ctx context.Context, runnerID int64) ([]store.RunTime, error)
	UpdateRunTime(ctx context.Context, id int64, seconds float64) error
	DeleteRunTime(ctx context.Context, id int64) error
	Leaderboard(ctx context.Context) (store.Leaderboard, error)
}

// TimingStatus reports the time reference. *timing.Synchronizer implements it.
type TimingStatus interface {
	Mode() timing.Mode
	GPSStatus() timing.GPSStatus
}

// Config configures a Server.
type Config struct {
	Address string

	Live   LiveSource
	Store  Store
	Timing TimingStatus

	// AdminUser and AdminPasswordHash (bcrypt) guard the admin routes.
	// With no hash configured every admin request is rejected.
	AdminUser         string
	AdminPasswordHash string

	// AllowedOrigins for CORS and websocket upgrades. Empty allows all.
	AllowedOrigins []string

	// WriteTimeout bounds each websocket write (default 10s).
	WriteTimeout time.Duration

	// PingInterval is the websocket keepalive period (default 30s).
	PingInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.AdminUser == "" {
		c.AdminUser = "admin"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server is the HTTP API.
type Server struct {
	config   Config
	logger   *slog.Logger
	handler  http.Handler
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
	streams  sync.WaitGroup
}

// NewServer creates a Server. Call Start to listen, or use Handler directly.
func NewServer(cfg Config) *Server {
	cfg.applyDefaults()
	s := &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "web"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/live_data", s.liveData).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/timing_status", s.timingStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws/live", s.liveStream)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/runners", s.listRunners).Methods(http.MethodGet)
	admin.HandleFunc("/runners", s.addRunner).Methods(http.MethodPost)
	admin.HandleFunc("/update_time", s.updateTime).Methods(http.MethodPost)
	admin.HandleFunc("/delete_time", s.deleteTime).Methods(http.MethodPost)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: len(cfg.AllowedOrigins) > 0,
	})
	s.handler = c.Handler(r)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = ln
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("web server listening", "address", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down and closes live streams.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)
	s.streams.Wait()
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}
