package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/crowdfield/eventcore/internal/config"
	"github.com/crowdfield/eventcore/internal/ingest"
	ingestdomain "github.com/crowdfield/eventcore/internal/ingest/domain"
	"github.com/crowdfield/eventcore/internal/ledger"
	ledgerdomain "github.com/crowdfield/eventcore/internal/ledger/domain"
	"github.com/crowdfield/eventcore/internal/observability"
	obsmiddleware "github.com/crowdfield/eventcore/internal/observability/logger"
	obsmetrics "github.com/crowdfield/eventcore/internal/observability/metrics"
	"github.com/crowdfield/eventcore/internal/webhook"
	webhookdomain "github.com/crowdfield/eventcore/internal/webhook/domain"
)

var Module = fx.Module("http.server",
	ledger.Module,
	ingest.Module,
	webhook.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	ingestSvc  ingestdomain.Service
	ledgerSvc  ledgerdomain.Service
	webhookSvc webhookdomain.Service
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	IngestSvc  ingestdomain.Service
	LedgerSvc  ledgerdomain.Service
	WebhookSvc webhookdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		ingestSvc:  p.IngestSvc,
		ledgerSvc:  p.LedgerSvc,
		webhookSvc: p.WebhookSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Inbound payment events --------
	v1.POST("/payments/webhook", s.HandlePaymentWebhook)

	// -------- Company balances --------
	v1.GET("/companies/:id/balance", s.GetCompanyBalance)

	// -------- Outbound deliveries --------
	v1.POST("/webhooks/events", s.EnqueueWebhookEvent)
	v1.GET("/webhooks/events/:id", s.GetWebhookEvent)
	v1.POST("/webhooks/dispatch", s.DispatchWebhookEvent)
}
