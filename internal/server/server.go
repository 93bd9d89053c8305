package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soulsense/soulsense-outliers/internal/analytics"
	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/api/rest"
	"github.com/soulsense/soulsense-outliers/internal/audit"
	"github.com/soulsense/soulsense-outliers/internal/cache"
	"github.com/soulsense/soulsense-outliers/internal/config"
	"github.com/soulsense/soulsense-outliers/internal/db"
	"github.com/soulsense/soulsense-outliers/internal/middleware"
	"github.com/soulsense/soulsense-outliers/internal/models"
	"github.com/soulsense/soulsense-outliers/internal/tracing"
)

// Server represents the outlier detection HTTP server
type Server struct {
	config *config.Config
	logger *zap.Logger

	// Core components
	store       db.Store
	scores      *cache.ScoreCache
	engine      *analytics.Engine
	sweeper     *analytics.Sweeper
	handler     *rest.Handler
	auditLogger audit.Logger
	limiter     *middleware.RateLimiter
	configPath  string

	// HTTP server
	httpHandler http.Handler
	httpServer  *http.Server
	listener    net.Listener

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// Option customizes a Server.
type Option func(*Server)

// WithAuditLogger records produced and failed analyses, sweeps and config
// reloads.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) { s.auditLogger = l }
}

// WithConfigPath names the file reloads are read from in audit records.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// NewServer creates a server over an open store. The caller owns the store
// and closes it after Stop.
func NewServer(cfg *config.Config, logger *zap.Logger, store db.Store, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config: cfg,
		logger: logger.Named("server"),
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(srv)
	}

	if err := srv.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return srv, nil
}

// initializeComponents builds the engine, sweeper and HTTP handler chain.
func (s *Server) initializeComponents() error {
	defaults, err := s.config.AnalysisRequest()
	if err != nil {
		return fmt.Errorf("invalid detection defaults: %w", err)
	}

	// 1. Score source, optionally cached
	var writer rest.ScoreWriter = s.store
	engineOpts := []analytics.Option{
		analytics.WithLogger(s.logger.Named("engine")),
		analytics.WithTracer(tracing.Tracer()),
		analytics.WithConcurrency(s.config.Detection.Concurrency),
	}
	if sink := s.reportSink(); sink != nil {
		engineOpts = append(engineOpts, analytics.WithSink(sink))
	}
	if s.auditLogger != nil {
		engineOpts = append(engineOpts, analytics.WithFailureHook(s.auditFailure))
	}
	if s.config.Cache.EnableCaching {
		s.scores = cache.NewScoreCache(s.store, s.config.CacheTTL(), time.Duration(s.config.Cache.CleanupSeconds)*time.Second)
		writer = s.scores
		s.engine = analytics.NewEngine(s.scores, engineOpts...)
	} else {
		s.engine = analytics.NewEngine(s.store, engineOpts...)
	}

	// 2. Sweeper (if enabled)
	if s.config.Sweep.Enabled {
		s.sweeper = analytics.NewSweeper(s.engine, analytics.SweepOptions{
			Interval: s.config.SweepInterval(),
			Groups:   s.config.Sweep.Groups,
			Global:   s.config.Sweep.Global,
			Request:  defaults,
			OnComplete: func(ctx context.Context, res analytics.SweepResult) {
				if s.auditLogger != nil {
					_ = s.auditLogger.LogSweepCompleted(ctx, res.Scopes, res.Failed, res.Outliers, res.Duration)
				}
			},
		})
	}

	// 3. REST handler
	s.handler = rest.NewHandler(s.engine, rest.Options{
		Writer:        writer,
		Reports:       s.store,
		Sweeper:       s.sweeper,
		Logger:        s.logger,
		Defaults:      defaults,
		Inconsistency: s.config.InconsistencyOptions(),
	})

	// 4. Router and middleware chain
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog(s.logger.Named("http")))
	router.HandleFunc("/health", rest.HealthHandler(s.store.Ping)).Methods(http.MethodGet)
	if s.config.Metrics.Enabled {
		router.Handle(s.config.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}
	rest.SetupRoutes(router, s.handler)

	var h http.Handler = router
	if s.config.Server.RateLimitPerSecond > 0 {
		s.limiter = middleware.NewRateLimiter(s.config.Server.RateLimitPerSecond, s.config.Server.RateLimitBurst)
		h = s.limiter.Middleware(h)
	}
	s.httpHandler = middleware.Tracing(h)

	return nil
}

// reportSink fans reports out to the store and the audit trail.
func (s *Server) reportSink() report.Sink {
	var sinks report.MultiSink
	if s.config.Database.PersistReports {
		sinks = append(sinks, s.store)
	}
	if s.auditLogger != nil {
		sinks = append(sinks, audit.NewSink(s.auditLogger))
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

func (s *Server) auditFailure(ctx context.Context, t models.ScopeType, key string, err error) {
	_ = s.auditLogger.LogAnalysisFailed(ctx, string(t), key, err)
}

// Handler returns the full HTTP handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpHandler
}

// Start starts the server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.httpHandler,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if s.config.Server.TLSEnabled {
			err = s.httpServer.ServeTLS(ln, s.config.Server.TLSCertPath, s.config.Server.TLSKeyPath)
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.sweeper != nil {
		s.sweeper.Start(s.ctx)
	}
	s.running = true

	s.logger.Info("Outlier server started",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.config.Server.TLSEnabled),
		zap.String("database", s.config.Database.Type),
		zap.Bool("cache", s.config.Cache.EnableCaching),
		zap.Bool("sweep", s.sweeper != nil),
		zap.String("method", s.config.Detection.Method),
	)
	if s.auditLogger != nil {
		s.auditLogger.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
			WithDescription("listening on "+ln.Addr().String()))
	}
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping outlier server")

	var shutdownErr error
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.cancel()
	s.wg.Wait()

	if s.auditLogger != nil {
		s.auditLogger.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown))
	}
	s.logger.Info("Outlier server stopped")
	return shutdownErr
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ApplyConfig swaps in reloadable settings: detection and inconsistency
// defaults. Listener, database and sweep settings need a restart.
func (s *Server) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	defaults, err := cfg.AnalysisRequest()
	if err == nil {
		s.handler.SetDefaults(defaults, cfg.InconsistencyOptions())
		s.logger.Info("Detection defaults reloaded", zap.String("method", cfg.Detection.Method))
	} else {
		s.logger.Warn("Rejected reloaded detection defaults", zap.Error(err))
	}
	if s.auditLogger != nil {
		_ = s.auditLogger.LogConfigReload(ctx, s.configPath, err)
	}
	return err
}

// WatchConfig applies every configuration change delivered by mgr until
// the server stops.
func (s *Server) WatchConfig(mgr config.ConfigManager) {
	changes := mgr.Watch(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case cfg := <-changes:
				_ = s.ApplyConfig(s.ctx, &cfg)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// GetSweeper returns the sweeper, or nil when sweeping is disabled
func (s *Server) GetSweeper() *analytics.Sweeper {
	return s.sweeper
}
