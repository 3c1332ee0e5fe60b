package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kube-rca/alertsync/internal/db"
	"github.com/kube-rca/alertsync/internal/model"
)

// cycleService - 수동 사이클 실행
type cycleService interface {
	Run(ctx context.Context, trigger model.Trigger) model.CycleResult
	LastResult(ctx context.Context) (*model.CycleResult, error)
}

// SyncHandler - 수동 동기화 관련 핸들러
type SyncHandler struct {
	svc cycleService
}

func NewSyncHandler(svc cycleService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// TriggerSync godoc
// @Summary Run one sync cycle
// @Description Runs a cycle synchronously. Returns 409 when another cycle is in progress.
// @Tags sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SyncResponse
// @Failure 409 {object} model.SyncResponse
// @Router /api/v1/sync [post]
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	result := h.svc.Run(c.Request.Context(), model.TriggerManual)
	if result.Outcome == model.OutcomeSkipped {
		c.JSON(http.StatusConflict, model.SyncResponse{Status: "skipped", Data: result})
		return
	}
	c.JSON(http.StatusOK, model.SyncResponse{Status: string(result.Outcome), Data: result})
}

// LastSync godoc
// @Summary Get the last finished sync cycle
// @Tags sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SyncResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/sync/last [get]
func (h *SyncHandler) LastSync(c *gin.Context) {
	last, err := h.svc.LastResult(c.Request.Context())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "no sync cycle has finished yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.SyncResponse{Status: string(last.Outcome), Data: *last})
}
