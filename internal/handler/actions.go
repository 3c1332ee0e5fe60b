package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kube-rca/alertsync/internal/model"
)

// actionService - acknowledge/resolve 서비스 인터페이스
type actionService interface {
	Acknowledge(ctx context.Context, ids []string, actor, note string) model.ActionResponse
	Resolve(ctx context.Context, ids []string, actor, note string) model.ActionResponse
}

// ActionHandler - 알림 상태 전이 핸들러
type ActionHandler struct {
	svc actionService
}

func NewActionHandler(svc actionService) *ActionHandler {
	return &ActionHandler{svc: svc}
}

// Acknowledge godoc
// @Summary Acknowledge alerts
// @Description Matched alerts are acknowledged in JSM. Unmatched alerts are queued until a match is found.
// @Tags alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.ActionRequest true "Alert ids, note and actor"
// @Success 200 {object} model.ActionResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /api/v1/alerts/acknowledge [post]
func (h *ActionHandler) Acknowledge(c *gin.Context) {
	h.handle(c, h.svc.Acknowledge)
}

// Resolve godoc
// @Summary Resolve alerts
// @Description Matched alerts are closed in JSM. Unmatched alerts are queued until a match is found.
// @Tags alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.ActionRequest true "Alert ids, note and actor"
// @Success 200 {object} model.ActionResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /api/v1/alerts/resolve [post]
func (h *ActionHandler) Resolve(c *gin.Context) {
	h.handle(c, h.svc.Resolve)
}

func (h *ActionHandler) handle(c *gin.Context, apply func(ctx context.Context, ids []string, actor, note string) model.ActionResponse) {
	var req model.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request body"})
		return
	}

	c.JSON(http.StatusOK, apply(c.Request.Context(), req.AlertIDs, RequestActor(c, req.Actor), req.Note))
}
