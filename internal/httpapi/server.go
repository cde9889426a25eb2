// Package httpapi serves the admin endpoints: health, status, manual tick,
// metrics and the optional profiler.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"pushalert/internal/eventbus"
	"pushalert/internal/storage"
	"pushalert/internal/task/scheduler"
	"pushalert/internal/tick"
	logx "pushalert/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8089"

// Config controls the admin server.
//
// A non-loopback Addr requires Token; the server refuses to start otherwise.
type Config struct {
	Addr         string
	Token        string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Profiler     bool
}

type TickFunc func(ctx context.Context) (tick.Result, error)

type Pinger interface {
	Ping(ctx context.Context) error
}

type SchedulerView interface {
	Snapshot() scheduler.Snapshot
}

// AuditReader lists the newest tick audit rows, newest first.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

const recentTicks = 10

// Deps wires the server to the rest of the process. Metrics, Scheduler and
// Audit may be nil.
type Deps struct {
	Store     Pinger
	Tick      TickFunc
	Scheduler SchedulerView
	Audit     AuditReader
	Metrics   http.Handler
	Channel   string
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	last    atomic.Pointer[tick.Result]
	started time.Time

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, deps: deps, log: log, started: time.Now()}
}

// Track records every finished tick from bus as the status "last tick"
// until ctx is done.
func (s *Server) Track(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if res, ok := e.Data.(tick.Result); ok {
				s.last.Store(&res)
			}
		}
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	if len(s.cfg.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		})
		r.Use(c.Handler)
	}

	r.Get("/healthz", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/status", s.status)
		r.Post("/tick", s.tick)
		if s.cfg.Profiler {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("http: non-loopback addr %q requires a token", addr)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("admin server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("profiler", s.cfg.Profiler),
	)
	return nil
}

// Addr is the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("admin server stopped")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusBody struct {
	Uptime      string               `json:"uptime"`
	Channel     string               `json:"channel,omitempty"`
	Scheduler   *scheduler.Snapshot  `json:"scheduler,omitempty"`
	LastTick    *tick.Result         `json:"last_tick,omitempty"`
	RecentTicks []storage.AuditEntry `json:"recent_ticks,omitempty"`
	AuditError  string               `json:"audit_error,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := statusBody{
		Uptime:   time.Since(s.started).Truncate(time.Second).String(),
		Channel:  s.deps.Channel,
		LastTick: s.last.Load(),
	}
	if s.deps.Scheduler != nil {
		snap := s.deps.Scheduler.Snapshot()
		body.Scheduler = &snap
	}
	if s.deps.Audit != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		recent, err := s.deps.Audit.RecentAudit(ctx, recentTicks)
		cancel()
		if err != nil {
			body.AuditError = err.Error()
		} else {
			body.RecentTicks = recent
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tick == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "manual tick not available"})
		return
	}
	// The claim is committed early in a tick, so a client that gives up must
	// not cancel the rest of it. The scheduler timeout still bounds the run.
	res, err := s.deps.Tick(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// auth accepts "Authorization: Bearer <token>" or "?token=<token>" when a
// token is configured.
func (s *Server) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
