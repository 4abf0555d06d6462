package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/infrastructure/logging"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
)

// Config configures a relay server.
type Config struct {
	Addr            string
	CORS            CORSConfig
	RateLimit       RateLimitConfig
	EnableRateLimit bool
	Development     bool
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a relay listening on :8090.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8090",
		CORS:            DefaultCORSConfig(),
		RateLimit:       DefaultRateLimitConfig(),
		EnableRateLimit: true,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server relays bridge frames between processes hosting the two domains
// of a tab. Each tab is a room; every frame is delivered to every socket
// in the room.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	rooms   *rooms
	logger  *zap.Logger
	metrics *monitoring.Metrics
	config  Config
}

// NewServer builds the router. A nil metrics creates a fresh registry.
func NewServer(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Server {
	logger = logging.OrNop(logger).Named("relay")
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(CORS(cfg.CORS))
	if cfg.EnableRateLimit {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(RateLimit(cfg.RateLimit))
	}

	s := &Server{
		router:  router,
		rooms:   newRooms(logger, metrics),
		logger:  logger,
		metrics: metrics,
		config:  cfg,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.GET("/tabs", s.handleTabs)
	router.GET("/tabs/:tab/ws", s.handleTab)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Metrics returns the server's metrics.
func (s *Server) Metrics() *monitoring.Metrics { return s.metrics }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting relay", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and disconnects every peer.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down relay...")
	err := s.http.Shutdown(ctx)
	s.rooms.closeAll()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
