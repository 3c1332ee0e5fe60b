package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/model"
	"github.com/kube-rca/alertsync/internal/service"
)

const actorKey = "actor"

// AuthMiddleware - /api/v1 Bearer access token 검증
//   - AUTH_ENABLED=false면 토큰 없이 통과 (actor는 요청 본문 또는 서비스 기본값)
//   - 검증된 토큰의 loginId를 acknowledge/resolve 기본 actor로 저장
func AuthMiddleware(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if !authService.Enabled() || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		user, err := authService.ParseAccessToken(token)
		if err != nil {
			logger.Debug("rejected access token", zap.String("path", c.FullPath()), zap.Error(err))
			abortUnauthorized(c, "invalid access token")
			return
		}

		c.Set(actorKey, user.LoginID)
		c.Next()
	}
}

// bearerToken - "Bearer <token>" 헤더 파싱 (scheme 대소문자 무시)
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, reason string) {
	c.Header("WWW-Authenticate", `Bearer realm="alertsync"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: reason})
}

// RequestActor - 요청 본문 actor → 토큰 loginId 순서 (둘 다 없으면 빈 문자열, 서비스 기본값 사용)
func RequestActor(c *gin.Context, requested string) string {
	if actor := strings.TrimSpace(requested); actor != "" {
		return actor
	}
	return c.GetString(actorKey)
}

// CORSMiddleware - 허용 origin만 CORS 헤더 부여 ("*"는 모든 origin), preflight는 204로 종료
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAny := false
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		switch trimmed {
		case "":
			continue
		case "*":
			allowAny = true
		default:
			originMap[trimmed] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			_, listed := originMap[origin]
			if allowAny || listed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				c.Header("Access-Control-Max-Age", "600")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestLogger - gin 기본 로거 대신 zap으로 요청 기록
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
