package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vidlens/trendsync/internal/config"
	"github.com/vidlens/trendsync/internal/connectivity"
	"github.com/vidlens/trendsync/internal/observability"
	obsmiddleware "github.com/vidlens/trendsync/internal/observability/logger"
	outboxdomain "github.com/vidlens/trendsync/internal/outbox/domain"
	"github.com/vidlens/trendsync/internal/ratelimit"
	"github.com/vidlens/trendsync/internal/syncer"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	db        *gorm.DB
	log       *zap.Logger
	syncerSvc *syncer.Orchestrator
	outboxSvc outboxdomain.Service
	monitor   *connectivity.Monitor
	limiter   *ratelimit.MutationLimiter
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	SyncerSvc *syncer.Orchestrator
	OutboxSvc outboxdomain.Service
	Monitor   *connectivity.Monitor
	Limiter   *ratelimit.MutationLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		db:        p.DB,
		log:       p.Log.Named("server"),
		syncerSvc: p.SyncerSvc,
		outboxSvc: p.OutboxSvc,
		monitor:   p.Monitor,
		limiter:   p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")

	sync := api.Group("/sync")
	{
		sync.GET("/status", s.SyncStatus)
		sync.POST("/trigger", s.MutationRateLimit(), s.TriggerSync)
	}

	outbox := api.Group("/outbox")
	{
		outbox.GET("", s.ListOutbox)
		outbox.POST("/replay", s.MutationRateLimit(), s.ReplayOutbox)
		outbox.POST("/prune", s.MutationRateLimit(), s.PruneOutbox)
		outbox.DELETE("/failed", s.MutationRateLimit(), s.ClearFailedOutbox)
	}

	records := api.Group("/records")
	{
		records.GET("", s.ListRecords)
		records.POST("/ingest", s.MutationRateLimit(), s.IngestRecords)
		records.POST("/:videoId/:dayKey/classify", s.MutationRateLimit(), s.ClassifyRecord)
		records.DELETE("/:videoId/:dayKey", s.MutationRateLimit(), s.DeleteRecord)
	}

	days := api.Group("/days")
	{
		days.GET("", s.ListDays)
		days.GET("/:dayKey/records", s.ListDayRecords)
	}
}
