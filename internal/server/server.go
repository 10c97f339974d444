package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/cache"
	"github.com/sanraksh/sanraksh/internal/config"
	"github.com/sanraksh/sanraksh/internal/events"
	"github.com/sanraksh/sanraksh/internal/logger"
	"github.com/sanraksh/sanraksh/internal/privacy"
	"github.com/sanraksh/sanraksh/internal/security"
	"github.com/sanraksh/sanraksh/internal/store"
	"github.com/sanraksh/sanraksh/internal/web"
)

const statsSnapshotInterval = 15 * time.Second

// Server exposes the redaction engine as an HTTP sidecar
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engine   atomic.Pointer[privacy.Engine]
	router   *mux.Router
	server   *http.Server
	hub      *events.Hub
	cache    *cache.VerdictCache
	store    *store.Store
	limiter  *security.RateLimiter
	stats    *serverStats
	runID    string
	started  time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a new sidecar server instance. The verdict cache and audit
// store are optional collaborators: when either is enabled but unreachable
// the server logs a warning and runs without it.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	engine, err := privacy.NewEngine(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redaction engine: %w", err)
	}

	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		router:  mux.NewRouter(),
		hub:     events.NewHub(&cfg.WebSocket, log.WithComponent("events").Logger),
		limiter: security.NewRateLimiter(&cfg.Security),
		stats:   newServerStats(),
		runID:   uuid.New().String(),
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	s.engine.Store(engine)

	if cfg.Cache.Enabled {
		verdictCache, err := cache.NewVerdictCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Verdict cache unavailable, continuing without it", zap.Error(err))
		} else {
			s.cache = verdictCache
		}
	}

	if cfg.Audit.Enabled {
		auditStore, err := store.NewStore(&cfg.Audit, log.WithComponent("store").Logger)
		if err != nil {
			log.Warn("Audit store unavailable, continuing without it", zap.Error(err))
		} else {
			s.store = auditStore
		}
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Dashboard endpoint - embedded HTML
	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	// WebSocket endpoint for the event feed
	wsPath := s.config.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	s.router.HandleFunc(wsPath, s.handleWebSocket).Methods("GET")

	// Redaction API
	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/redact/batch", s.handleRedactBatch).Methods("POST")
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/runs", s.handleRuns).Methods("GET")
}

// Start starts the HTTP server and its background loops
func (s *Server) Start() error {
	s.logger.Info("Starting sanraksh sidecar",
		zap.Int("port", s.config.Server.Port),
		zap.String("policy_version", s.Engine().PolicyVersion()),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("audit_enabled", s.store != nil),
	)

	go s.hub.Run()
	s.limiter.StartCleanupRoutine()
	go s.snapshotLoop()
	if s.store != nil {
		go s.auditLoop()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and flushes collaborators
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sanraksh sidecar")
	s.stopOnce.Do(func() { close(s.stop) })
	s.limiter.Stop()

	err := s.server.Shutdown(ctx)

	if s.store != nil {
		s.flushAudit()
		if cerr := s.store.Close(); cerr != nil {
			s.logger.Warn("Failed to close audit store", zap.Error(cerr))
		}
	}
	if s.cache != nil {
		if cerr := s.cache.Close(); cerr != nil {
			s.logger.Warn("Failed to close verdict cache", zap.Error(cerr))
		}
	}

	return err
}

// Engine returns the active redaction engine
func (s *Server) Engine() *privacy.Engine {
	return s.engine.Load()
}

// Hub returns the event hub for broadcasting
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// ApplyConfig rebuilds the redaction engine from a reloaded configuration
// and swaps it in atomically. In-flight requests keep the engine they
// started with. Server-level settings (port, timeouts, rate limits) are not
// reapplied; those take effect on restart.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	engine, err := privacy.NewEngine(cfg.Privacy, s.logger.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to rebuild redaction engine: %w", err)
	}

	previous := s.engine.Swap(engine)
	s.logger.Info("Redaction rules reloaded",
		zap.String("previous_version", previous.PolicyVersion()),
		zap.String("policy_version", engine.PolicyVersion()),
	)

	s.hub.BroadcastEvent(events.Event{
		Type:      events.EventTypeRulesReloaded,
		Timestamp: time.Now(),
		Data: events.RulesReloadedEvent{
			PolicyVersion: engine.PolicyVersion(),
			Rules:         len(engine.Rules()),
			Signatures:    len(engine.Signatures()),
		},
	})

	return nil
}

// snapshotLoop broadcasts periodic counter snapshots to the event feed
func (s *Server) snapshotLoop() {
	ticker := time.NewTicker(statsSnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.hub.BroadcastEvent(events.Event{
				Type:      events.EventTypeStatsSnapshot,
				Timestamp: time.Now(),
				Data:      s.statsSnapshot(),
			})
		}
	}
}

// statsSnapshot assembles the current counters for the feed
func (s *Server) statsSnapshot() events.StatsSnapshotEvent {
	view := s.stats.snapshot()
	snapshot := events.StatsSnapshotEvent{
		Status:           "ok",
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		TotalRequests:    view.requests,
		TotalRecords:     view.records,
		TotalFlagged:     view.flagged,
		CategoryCounts:   view.categories,
		ConnectedClients: s.hub.GetStats().ActiveConnections,
	}
	if s.cache != nil {
		snapshot.CacheHits, snapshot.CacheMisses = s.cache.Counters()
	}
	return snapshot
}

// auditLoop periodically upserts the process-lifetime run aggregate
func (s *Server) auditLoop() {
	interval := s.config.Audit.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flushAudit()
		}
	}
}

// flushAudit writes the cumulative run counters to the audit store. The run
// row is keyed by the process run ID, so each flush updates the same row.
func (s *Server) flushAudit() {
	view := s.stats.snapshot()
	if view.records == 0 && view.skipped == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := &store.RunRecord{
		ID:         s.runID,
		Source:     "sidecar",
		StartedAt:  s.started,
		FinishedAt: time.Now(),
		TotalRows:  view.records + view.skipped,
		Emitted:    view.records,
		Skipped:    view.skipped,
		Flagged:    view.flagged,
	}

	if err := s.store.RecordRun(ctx, run, view.categories); err != nil {
		s.logger.Warn("Failed to flush audit counters", zap.Error(err))
	}
}

// handleWebSocket hands the connection to the event hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}

// serverStats accumulates process-lifetime counters. Only counts are kept;
// no record content is ever retained here.
type serverStats struct {
	mu         sync.Mutex
	requests   int64
	records    int64
	skipped    int64
	flagged    int64
	categories map[string]int64
}

func newServerStats() *serverStats {
	return &serverStats{categories: make(map[string]int64)}
}

func (st *serverStats) recordRequest() {
	st.mu.Lock()
	st.requests++
	st.mu.Unlock()
}

func (st *serverStats) recordResult(isPII bool, categories []string) {
	st.mu.Lock()
	st.records++
	if isPII {
		st.flagged++
	}
	for _, c := range categories {
		st.categories[c]++
	}
	st.mu.Unlock()
}

func (st *serverStats) recordSkipped() {
	st.mu.Lock()
	st.skipped++
	st.mu.Unlock()
}

// statsView is a point-in-time copy of the counters
type statsView struct {
	requests   int64
	records    int64
	skipped    int64
	flagged    int64
	categories map[string]int64
}

func (st *serverStats) snapshot() statsView {
	st.mu.Lock()
	defer st.mu.Unlock()

	categories := make(map[string]int64, len(st.categories))
	for c, n := range st.categories {
		categories[c] = n
	}
	return statsView{
		requests:   st.requests,
		records:    st.records,
		skipped:    st.skipped,
		flagged:    st.flagged,
		categories: categories,
	}
}
