// Package server wires the SentinelX services into an HTTP server.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/SentinelX-Auth/SentinelX/internal/access"
	"github.com/SentinelX-Auth/SentinelX/internal/accounts"
	"github.com/SentinelX-Auth/SentinelX/internal/anomaly"
	"github.com/SentinelX-Auth/SentinelX/internal/audit"
	"github.com/SentinelX-Auth/SentinelX/internal/config"
	"github.com/SentinelX-Auth/SentinelX/internal/fraud"
	"github.com/SentinelX-Auth/SentinelX/internal/health"
	"github.com/SentinelX-Auth/SentinelX/internal/license"
	"github.com/SentinelX-Auth/SentinelX/internal/logging"
	"github.com/SentinelX-Auth/SentinelX/internal/metrics"
	"github.com/SentinelX-Auth/SentinelX/internal/ratelimit"
	"github.com/SentinelX-Auth/SentinelX/internal/security"
	"github.com/SentinelX-Auth/SentinelX/internal/suspension"
	"github.com/SentinelX-Auth/SentinelX/internal/traces"
	"github.com/SentinelX-Auth/SentinelX/internal/validation"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	db          *sql.DB // nil if using in-memory
	engine      *access.Engine
	licenses    *license.Registry
	fraudAdmin  *fraud.Handler
	enroller    *anomaly.Enroller
	janitor     *fraud.Janitor
	sweeper     *suspension.Sweeper
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	drainDelay    time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	accounts    accounts.Store
	licenses    license.Store
	suspensions suspension.Store
	profiles    anomaly.ProfileStore
	attempts    audit.Store
	assessments fraud.Store
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		checks:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Env,
		Version:     Version,
		SampleRatio: cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	st, err := s.openStores(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.buildServices(st); err != nil {
		return nil, err
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	// Client IPs key the fraud window and the rate limiter, so forwarding
	// headers count only when the peer is a configured proxy.
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// openStores selects Postgres when DATABASE_URL is set, otherwise memory.
func (s *Server) openStores(ctx context.Context) (*stores, error) {
	if s.cfg.DatabaseURL == "" {
		s.logger.Warn("DATABASE_URL not set, using in-memory storage; state is lost on restart")
		return &stores{
			accounts:    accounts.NewMemoryStore(),
			licenses:    license.NewMemoryStore(),
			suspensions: suspension.NewMemoryStore(),
			profiles:    anomaly.NewMemoryStore(),
			attempts:    audit.NewMemoryStore(),
			assessments: fraud.NewMemoryStore(),
		}, nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	var (
		accountStore    = accounts.NewPostgresStore(db)
		licenseStore    = license.NewPostgresStore(db)
		suspensionStore = suspension.NewPostgresStore(db)
		profileStore    = anomaly.NewPostgresStore(db)
		attemptStore    = audit.NewPostgresStore(db)
		assessmentStore = fraud.NewPostgresStore(db)
	)
	for name, m := range map[string]migrator{
		"accounts":    accountStore,
		"licenses":    licenseStore,
		"suspensions": suspensionStore,
		"profiles":    profileStore,
		"attempts":    attemptStore,
		"assessments": assessmentStore,
	} {
		if err := m.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate store", "store", name, "error", err)
		}
	}
	st := &stores{
		accounts:    accountStore,
		licenses:    licenseStore,
		suspensions: suspensionStore,
		profiles:    profileStore,
		attempts:    attemptStore,
		assessments: assessmentStore,
	}

	s.checks.Register("database", health.SQL(db))
	if err := metrics.RegisterDB(db); err != nil {
		s.logger.Warn("failed to register pool metrics", "error", err)
	}
	return st, nil
}

func (s *Server) buildServices(st *stores) error {
	cfg := s.cfg

	policy := fraud.DefaultPolicy()
	if cfg.FraudPolicyFile != "" {
		p, err := fraud.LoadPolicy(cfg.FraudPolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load fraud policy: %w", err)
		}
		policy = p
		s.logger.Info("fraud policy loaded", "file", cfg.FraudPolicyFile)
	}
	if cfg.FraudMaxRequestsPerMinute > 0 {
		policy.MaxRequestsPerMinute = cfg.FraudMaxRequestsPerMinute
	}
	evaluator, err := fraud.NewEvaluator(policy, st.assessments)
	if err != nil {
		return fmt.Errorf("invalid fraud policy: %w", err)
	}
	evaluator.WithLogger(s.logger)
	s.janitor = fraud.NewJanitor(evaluator, time.Minute, s.logger)
	s.fraudAdmin = fraud.NewHandler(evaluator, st.assessments)

	threshold, err := anomaly.ParseThreshold(cfg.AnomalyThreshold)
	if err != nil {
		return fmt.Errorf("invalid anomaly threshold: %w", err)
	}
	forest := anomaly.DefaultForestConfig()
	if cfg.AnomalyContamination > 0 {
		forest.Contamination = cfg.AnomalyContamination
	}
	model := anomaly.NewModel(st.profiles).
		WithThreshold(threshold).
		WithMinSamples(cfg.EnrollmentMinSamples).
		WithForestConfig(forest)
	s.enroller = anomaly.NewEnroller(model, cfg.EnrollWorkers, s.logger)

	ledger := suspension.NewLedger(st.suspensions, s.logger)
	s.sweeper = suspension.NewSweeper(ledger, time.Minute, s.logger)

	s.licenses = license.NewRegistry(st.licenses, s.logger)

	s.engine = access.NewEngine(access.Deps{
		Fraud:       evaluator,
		Licenses:    s.licenses,
		Suspensions: ledger,
		Model:       model,
		Enroller:    s.enroller,
		Accounts:    accounts.NewService(st.accounts, accounts.NewHasher(cfg.PasswordIterations), nil, s.logger),
		Audit:       audit.NewLog(st.attempts, s.logger),
		Logger:      s.logger,
	}, access.Config{
		EscalationFloor:  cfg.EscalationFloor,
		LoginSuspension:  cfg.LoginSuspension,
		ReauthSuspension: cfg.ReauthSuspension,
		DecisionTimeout:  cfg.DecisionTimeout,
	})
	s.enroller.WithOnTrained(s.engine.OnTrained)

	s.checks.Register("enroller", health.Worker("enroller", s.enroller.Running))
	s.checks.Register("fraud_janitor", health.Worker("fraud_janitor", s.janitor.Running))
	s.checks.Register("suspension_sweeper", health.Worker("suspension_sweeper", s.sweeper.Running))
	s.checks.Register("stores", s.circuitCheck)
	return nil
}

func (s *Server) circuitCheck(context.Context) health.Status {
	if tripped := s.engine.TrippedStores(); len(tripped) > 0 {
		return health.Status{Name: "stores", Healthy: false, Detail: "circuit open: " + strings.Join(tripped, ", ")}
	}
	return health.Status{Name: "stores", Healthy: true}
}

// maskDSN hides the password in a database URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(logging.RequestContext(s.logger))
	s.router.Use(logging.AccessLog())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		rl.BurstSize = max(rl.BurstSize, s.cfg.RateLimitRPM/10)
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	h := access.NewHandler(s.engine)
	v1 := s.router.Group("/v1")
	h.RegisterRoutes(v1)

	admin := v1.Group("/admin", security.RequireAdmin(s.cfg.AdminSecret))
	license.NewHandler(s.licenses).RegisterRoutes(admin)
	s.fraudAdmin.RegisterRoutes(admin)
	h.RegisterAdminRoutes(admin.Group("", validation.UsernameParamMiddleware()))
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.checks.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !ok {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the background workers. Run calls it; tests may call it
// directly to exercise the router with live workers.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.enroller.Start(runCtx)
	go s.janitor.Start(runCtx)
	go s.sweeper.Start(runCtx)
	s.ready.Store(true)
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.Start(ctx)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.httpSrv != nil && s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.enroller.Stop()
	s.janitor.Stop()
	s.sweeper.Stop()
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.rateLimiter.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.traceShutdown(flushCtx); err != nil {
		s.logger.Warn("trace flush failed", "error", err)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the decision engine.
func (s *Server) Engine() *access.Engine {
	return s.engine
}
