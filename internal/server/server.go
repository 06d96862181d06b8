package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	authdomain "github.com/smallbiznis/hwlicense/internal/auth/domain"
	"github.com/smallbiznis/hwlicense/internal/auth/session"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/smallbiznis/hwlicense/internal/download"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	"github.com/smallbiznis/hwlicense/internal/observability"
	obsmiddleware "github.com/smallbiznis/hwlicense/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/hwlicense/internal/observability/metrics"
	obstracing "github.com/smallbiznis/hwlicense/internal/observability/tracing"
	"github.com/smallbiznis/hwlicense/internal/proof"
	"github.com/smallbiznis/hwlicense/internal/ratelimit"
	"github.com/smallbiznis/hwlicense/internal/release"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(provideDownloadService, provideReleaseService),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// DownloadService issues presigned links for valid licenses.
type DownloadService interface {
	GetDownloadLink(ctx context.Context, req download.LinkRequest) (download.Link, error)
}

type ReleaseService interface {
	GetLatestVersion() config.ReleaseInfo
}

func provideDownloadService(s *download.Service) DownloadService { return s }

func provideReleaseService(s *release.Service) ReleaseService { return s }

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) (*gin.Engine, error) {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) (*gin.Engine, error) {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine      *gin.Engine
	cfg         config.Config
	clock       clock.Clock
	authsvc     authdomain.Service
	sessions    *session.Manager
	licenseSvc  licensedomain.Service
	auditSvc    auditdomain.Service
	downloadSvc DownloadService
	releaseSvc  ReleaseService
	proofGate   *proof.Gate
	limiter     ratelimit.Limiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Clock       clock.Clock
	Authsvc     authdomain.Service
	Sessions    *session.Manager
	LicenseSvc  licensedomain.Service
	AuditSvc    auditdomain.Service
	DownloadSvc DownloadService
	ReleaseSvc  ReleaseService
	ProofGate   *proof.Gate
	Limiter     ratelimit.Limiter
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		clock:       p.Clock,
		authsvc:     p.Authsvc,
		sessions:    p.Sessions,
		licenseSvc:  p.LicenseSvc,
		auditSvc:    p.AuditSvc,
		downloadSvc: p.DownloadSvc,
		releaseSvc:  p.ReleaseSvc,
		proofGate:   p.ProofGate,
		limiter:     p.Limiter,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerPublicRoutes()
	svc.registerClientRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/", s.Root)
	s.engine.GET("/version", s.LatestVersion)
}

func (s *Server) registerClientRoutes() {
	s.engine.POST("/activate", s.RateLimit(config.ClassActivate), s.ProofRequired(config.ClassActivate), s.Activate)
	s.engine.POST("/check_license", s.RateLimit(config.ClassCheck), s.ProofRequired(config.ClassCheck), s.CheckLicense)
	s.engine.POST("/download_link", s.RateLimit(config.ClassDownload), s.ProofRequired(config.ClassDownload), s.DownloadLink)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.POST("/login", s.RateLimit(config.ClassAdminLogin), s.Login)

	authed := admin.Group("", s.AdminRequired())
	{
		authed.POST("/logout", s.Logout)

		// -------- Licenses --------
		authed.POST("/create_license", s.CreateLicense)
		authed.GET("/licenses", s.ListLicenses)
		authed.DELETE("/delete_license/:id", s.DeleteLicense)
		authed.POST("/revoke_license/:id", s.RevokeLicense)
		authed.GET("/licenses/:id/events", s.ListLicenseEvents)
		authed.GET("/stats", s.LicenseStats)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
