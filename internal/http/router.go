package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/fabline-backend/internal/http/handlers"
	httpMW "github.com/yungbote/fabline-backend/internal/http/middleware"
	"github.com/yungbote/fabline-backend/internal/observability"
	"github.com/yungbote/fabline-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	UnitHandler   *httpH.UnitHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(http.HandlerFunc(cfg.Metrics.WriteHTTP)))
	}

	api := r.Group("/api")
	{
		// Units
		if cfg.UnitHandler != nil {
			api.POST("/units", cfg.UnitHandler.Register)
			api.GET("/units/:id", cfg.UnitHandler.GetUnit)
			api.GET("/units/:id/timeline", cfg.UnitHandler.GetTimeline)
			api.POST("/units/:id/transitions", cfg.UnitHandler.Transition)
			api.POST("/units/:id/inspections", cfg.UnitHandler.Inspect)
		}
	}

	return r
}
