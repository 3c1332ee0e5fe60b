package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kube-rca/alertsync/docs"
)

// OpenAPIDoc - swag 문서를 라우터 생성 시 한 번 렌더링해 제공 (ETag 일치 시 304)
func OpenAPIDoc() gin.HandlerFunc {
	doc := []byte(docs.SwaggerInfo.ReadDoc())
	sum := sha256.Sum256(doc)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	return func(c *gin.Context) {
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.AbortWithStatus(http.StatusNotModified)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
	}
}
