package pkg

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"SocietyPortal/internal/access"
	"SocietyPortal/internal/admin"
	"SocietyPortal/internal/audit"
	"SocietyPortal/internal/auth"
	"SocietyPortal/internal/config"
	"SocietyPortal/internal/identity"
	"SocietyPortal/internal/ids"
	"SocietyPortal/internal/metrics"
	"SocietyPortal/internal/token"
	"SocietyPortal/pkg/middleware"
)

var EchoModules = fx.Module("echo",
	fx.Provide(config.NewConfig),
	fx.Provide(config.NewLogger),
	fx.Provide(config.NewMongoDBClient),
	fx.Provide(config.NewRedisClient),
	fx.Provide(config.NewTracerProvider),
	fx.Provide(fx.Annotate(config.NewEmailService, fx.As(new(admin.Mailer)))),

	fx.Provide(fx.Annotate(identity.NewOperatorRepository, fx.As(new(identity.OperatorStore)))),
	fx.Provide(fx.Annotate(identity.NewMemberRepository, fx.As(new(identity.MemberStore)))),
	fx.Provide(identity.NewResolver),
	fx.Provide(identity.NewActivationSweeper),
	fx.Provide(token.NewService),
	fx.Provide(access.NewEngineFromConfig),

	fx.Provide(fx.Annotate(audit.NewRepository, fx.As(new(audit.Store)))),
	fx.Provide(func(r *identity.Resolver) audit.ActorLookup { return r }),
	fx.Provide(fx.Annotate(audit.NewRecorder, fx.As(new(audit.Auditor)))),
	fx.Provide(audit.NewHandler),

	fx.Provide(auth.NewLockoutPolicy),
	fx.Provide(auth.NewService),
	fx.Provide(auth.NewHandler),
	fx.Provide(admin.NewOptions),
	fx.Provide(admin.NewService),
	fx.Provide(admin.NewHandler),

	fx.Provide(middleware.NewAuthenticator),
	fx.Provide(middleware.NewGuard),
	fx.Provide(middleware.NewLoginLimiter),
	fx.Provide(NewEchoServer),

	fx.Invoke((*identity.ActivationSweeper).Start),
	fx.Invoke(RegisterRoutes))

func NewEchoServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, tp trace.TracerProvider) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	extractor, err := middleware.ClientIPExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	e.IPExtractor = extractor

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: ids.New}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(otelecho.Middleware(cfg.Trace.ServiceName, otelecho.WithTracerProvider(tp)))
	e.Use(middleware.RequestMetrics)

	addr := ":" + cfg.Server.Port
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Server running", zap.String("addr", addr))
			go func() {
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("Failed to start the server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down the server ...")
			return e.Shutdown(ctx)
		},
	})
	return e, nil
}

// Gate returns a sub-group that requires capability. Content modules mount
// their CRUD routes on it.
func Gate(g *echo.Group, guard *middleware.Guard, capability identity.Capability) *echo.Group {
	return g.Group("", guard.RequireCapability(capability))
}

func RegisterRoutes(
	e *echo.Echo,
	mongo *config.MongoDBClient,
	authn *middleware.Authenticator,
	guard *middleware.Guard,
	limiter middleware.LoginLimiter,
	authHandler *auth.Handler,
	adminHandler *admin.Handler,
	auditHandler *audit.Handler,
	logger *zap.Logger,
) {
	e.GET("/healthz", healthz(mongo, logger))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	public := e.Group("/auth")
	public.POST("/login", authHandler.Login, middleware.RateLimit(limiter, logger))
	public.POST("/register", authHandler.Register)
	public.POST("/activate", authHandler.Activate)

	protected := e.Group("/api", authn.Authenticate)
	protected.GET("/me", authHandler.Me)
	protected.GET("/me/can/:capability", authHandler.Can)
	protected.POST("/me/password", authHandler.ChangePassword)

	registrations := Gate(protected.Group("/registrations"), guard, identity.CanManageRegistrations)
	registrations.GET("/pending", adminHandler.ListPending)

	super := protected.Group("", guard.RequireSuper())
	super.GET("/members/pending", adminHandler.ListPending)
	super.POST("/members/:id/approve", adminHandler.Approve)
	super.PUT("/identities/:id/permissions", adminHandler.GrantPermissions)
	super.POST("/operators", adminHandler.CreateOperator)
	super.PUT("/operators/:id/status", adminHandler.SetOperatorStatus)
	super.GET("/audit-logs", auditHandler.List)
}

func healthz(mongo *config.MongoDBClient, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := mongo.Client.Ping(ctx, nil); err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
