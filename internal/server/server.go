package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/logsort/internal/batch"
	"github.com/raaihank/logsort/internal/classifier"
	"github.com/raaihank/logsort/internal/config"
	"github.com/raaihank/logsort/internal/export"
	"github.com/raaihank/logsort/internal/jobs"
	"github.com/raaihank/logsort/internal/logger"
	"github.com/raaihank/logsort/internal/metrics"
	"github.com/raaihank/logsort/internal/web"
	"github.com/raaihank/logsort/internal/websocket"
)

// Version is reported by /info
const Version = "0.1.0"

// RecordSink persists classified records of a job
type RecordSink interface {
	InsertBatch(ctx context.Context, jobID string, records []*batch.Record) (int64, error)
}

// Server is the HTTP front end of the classifier
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	classifier atomic.Pointer[classifier.Classifier]
	jobs       jobs.Store
	sink       RecordSink
	metrics    *metrics.Metrics
	output     *export.FileStore
	limiter    *ipRateLimiter
	proxies    trustedProxies
	wsHub      *websocket.Hub

	// background work started by Start, cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc

	router  *mux.Router
	handler http.Handler
	server  *http.Server
}

// Option customises a Server
type Option func(*Server)

// WithJobStore replaces the job store built from config
func WithJobStore(store jobs.Store) Option {
	return func(s *Server) { s.jobs = store }
}

// WithRecordSink enables persisting every classified upload
func WithRecordSink(sink RecordSink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithMetrics replaces the metrics registry built from config
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new server instance
func New(cfg *config.Config, cls *classifier.Classifier, log *logger.Logger, opts ...Option) (*Server, error) {
	if log == nil {
		log = logger.NewNop()
	}

	s := &Server{
		config: cfg,
		logger: log.WithComponent("server"),
		output: export.NewFileStore(cfg.Output.Path),
		router: mux.NewRouter(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.classifier.Store(cls)

	for _, opt := range opts {
		opt(s)
	}

	if s.jobs == nil {
		store, err := jobs.Open(&jobs.Config{
			Backend:   cfg.Jobs.Backend,
			TTL:       cfg.Jobs.TTL,
			MaxJobs:   cfg.Jobs.MaxJobs,
			RedisURL:  cfg.Jobs.RedisURL,
			KeyPrefix: cfg.Jobs.KeyPrefix,
		}, log.WithComponent("jobs").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open job store: %w", err)
		}
		s.jobs = store
	}

	if s.metrics == nil && cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	if cfg.Upload.RateLimit.Enabled {
		s.limiter = newIPRateLimiter(cfg.Upload.RateLimit.RequestsPerMin, cfg.Upload.RateLimit.Burst)
	}
	s.proxies = parseTrustedProxies(cfg.Upload.RateLimit.TrustedProxies)

	s.wsHub = websocket.NewHub(websocket.HubConfig{
		BroadcastClassifications: cfg.WebSocket.Events.BroadcastClassifications,
		BroadcastBatches:         cfg.WebSocket.Events.BroadcastBatches,
		BroadcastConnections:     cfg.WebSocket.Events.BroadcastConnections,
		Username:                 cfg.WebSocket.Username,
		Password:                 cfg.WebSocket.Password,
	}, log.WithComponent("websocket").Logger)

	s.setupRoutes()
	s.handler = s.corsMiddleware(s.router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/rules", s.handleRules).Methods(http.MethodGet)

	s.router.Handle("/classify", s.rateLimitMiddleware(http.HandlerFunc(s.handleClassify))).Methods(http.MethodPost)
	s.router.Handle("/upload", s.rateLimitMiddleware(http.HandlerFunc(s.handleUpload))).Methods(http.MethodPost)
	s.router.HandleFunc("/preview", s.handlePreview).Methods(http.MethodPost)

	s.router.HandleFunc("/download", s.handleDownload).Methods(http.MethodGet)
	s.router.HandleFunc("/download/{jobID}", s.handleJobDownload).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)
}

// Handler returns the routed HTTP handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Classifier returns the classifier currently serving requests
func (s *Server) Classifier() *classifier.Classifier {
	return s.classifier.Load()
}

// SetClassifier swaps the classifier for subsequent requests. Requests
// already in flight finish with the one they started with.
func (s *Server) SetClassifier(cls *classifier.Classifier) {
	s.classifier.Store(cls)
	s.logger.Info("Classifier replaced", zap.Int("total_rules", len(cls.Rules())))
}

// Start starts the WebSocket hub, limiter cleanup and the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting logsort server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("total_rules", len(s.Classifier().Rules())),
		zap.String("jobs_backend", s.config.Jobs.Backend),
		zap.String("output_path", s.output.Path()),
	)

	go s.wsHub.Run(s.ctx)

	if s.limiter != nil && s.config.Upload.RateLimit.CleanupInterval > 0 {
		go s.limiter.runCleanup(s.ctx, s.config.Upload.RateLimit.CleanupInterval,
			s.config.Upload.RateLimit.IdleTimeout, s.logger.Logger)
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and releases the job store
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping logsort server")

	err := s.server.Shutdown(ctx)
	s.cancel()
	if cerr := s.jobs.Close(); cerr != nil {
		s.logger.Warn("Failed to close job store", zap.Error(cerr))
	}
	return err
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
