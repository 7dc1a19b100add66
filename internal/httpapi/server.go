package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/config"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

// BuildInfo is reported by /version.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// Deps are the collaborators of a Server.
type Deps struct {
	Server       config.ServerConfig
	Upload       config.UploadConfig
	Orchestrator *pipeline.Orchestrator
	Store        *archive.Store
	Registry     archive.Registry
	Build        BuildInfo
	Logger       *zap.Logger
}

// Server is the HTTP transport.
type Server struct {
	cfg      config.ServerConfig
	upload   config.UploadConfig
	orch     *pipeline.Orchestrator
	store    *archive.Store
	registry archive.Registry
	build    BuildInfo
	admit    *pipeline.Limiter
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = archive.NewMemoryRegistry(0)
	}
	s := &Server{
		cfg:      deps.Server,
		upload:   deps.Upload,
		orch:     deps.Orchestrator,
		store:    deps.Store,
		registry: deps.Registry,
		build:    deps.Build,
		admit:    pipeline.NewLimiter(deps.Server.MaxBatches, deps.Server.BatchQueueTimeout),
		logger:   deps.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1 << 16,
		WriteBufferSize: 1 << 16,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the gin engine with every route and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(s.logger))
	r.Use(CORS(s.cfg.AllowedOrigins))

	r.GET("/api/health/live", s.health)
	r.GET("/version", s.version)

	api := r.Group("/api/v1")
	{
		api.POST("/batches", s.createBatch)
		api.GET("/batches/:id", s.getBatch)
		api.GET("/batches/:id/archive", s.getArchive)
		api.GET("/stream", s.stream)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Port,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
