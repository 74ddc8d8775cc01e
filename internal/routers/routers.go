package routers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/greenhouse-io/greenhouse/internal/handlers"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const name = "github.com/greenhouse-io/greenhouse/internal/routers"

type APIRouterOptions struct {
	Logger *zap.SugaredLogger
	Api    *handlers.API
	// JWTKey verifies the bearer tokens of the /api routes.
	JWTKey               []byte
	AllowedOrigins       []string
	HeartbeatConcurrency int
}

func NewAPIRouter(ctx context.Context, o APIRouterOptions) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	loggerMiddleware := ginzap.GinzapWithConfig(o.Logger.Desugar(), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		Context: func(c *gin.Context) []zapcore.Field {
			return []zapcore.Field{
				zap.String("traceID", trace.SpanFromContext(c.Request.Context()).SpanContext().TraceID().String()),
			}
		},
	})

	r.Use(otelgin.Middleware(name, otelgin.WithPropagators(
		propagation.TraceContext{},
	)))
	r.Use(ginzap.RecoveryWithZap(o.Logger.Desugar(), true))

	newPrometheus().Use(r)

	api := o.Api

	heartbeatLimiter := NewLimiter(o.HeartbeatConcurrency)
	device := r.Group("/device", loggerMiddleware, LimitConcurrency(&heartbeatLimiter))
	{
		device.POST("/heartbeat", api.Heartbeat)
	}

	private := r.Group("/api", loggerMiddleware)
	{
		if len(o.AllowedOrigins) > 0 {
			config := cors.DefaultConfig()
			config.AllowOrigins = o.AllowedOrigins
			config.AllowHeaders = append(config.AllowHeaders, "Authorization")
			private.Use(cors.New(config))
		}
		private.Use(ValidateJWT(o.Logger, o.JWTKey))

		// Projects
		private.GET("/projects", api.ListProjects)
		private.POST("/projects", api.CreateProject)
		private.GET("/projects/:code", api.GetProject)
		private.DELETE("/projects/:code", api.DeleteProject)
		private.GET("/projects/:code/slots", api.ListProjectSlots)

		// Devices
		private.GET("/projects/:code/devices", api.ListProjectDevices)
		private.POST("/projects/:code/devices", api.RegisterDevice)
		private.GET("/devices/:composite_id", api.GetDevice)
		private.DELETE("/devices/:composite_id", api.DeleteDevice)
	}

	admin := r.Group("/admin", loggerMiddleware, ValidateJWT(o.Logger, o.JWTKey))
	{
		admin.GET("/migration", api.GetMigrationReport)
		admin.GET("/fflags", api.ListFeatureFlags)
		admin.GET("/fflags/:name", api.GetFeatureFlag)
	}

	// Don't log the health/readiness checks.
	r.GET("/ready", api.Ready)
	r.GET("/live", api.Live)

	return r, nil
}

func newPrometheus() *ginprometheus.Prometheus {
	p := ginprometheus.NewPrometheus("apiserver")
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		url := c.Request.URL.Path
		for _, p := range c.Params {
			switch p.Key {
			case "code", "composite_id":
				url = strings.Replace(url, p.Value, ":"+p.Key, 1)
			}
		}
		return url
	}
	return p
}
