package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/service"
)

// Dependencies - 라우터 구성 요소
type Dependencies struct {
	Auth           *service.AuthService
	Health         *HealthHandler
	Sync           *SyncHandler
	Actions        *ActionHandler
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter - API 라우트 등록
//
//	/ping, /, /health, /metrics, /openapi.json  공개
//	/api/v1/*                                  AUTH_ENABLED=true면 Bearer 토큰 필요
func NewRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger.Named("http")), CORSMiddleware(deps.AllowedOrigins))

	router.GET("/ping", Ping)
	router.GET("/", Root)
	router.GET("/openapi.json", OpenAPIDoc())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if deps.Health != nil {
		router.GET("/health", deps.Health.Health)
	}

	api := router.Group("/api/v1", AuthMiddleware(deps.Auth, logger.Named("auth")))
	if deps.Sync != nil {
		api.POST("/sync", deps.Sync.TriggerSync)
		api.GET("/sync/last", deps.Sync.LastSync)
	}
	if deps.Actions != nil {
		api.POST("/alerts/acknowledge", deps.Actions.Acknowledge)
		api.POST("/alerts/resolve", deps.Actions.Resolve)
	}

	return router
}
