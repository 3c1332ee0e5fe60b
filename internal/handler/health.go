package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kube-rca/alertsync/internal/model"
)

// 헬스체크 엔드포인트
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, model.PingResponse{Message: "pong"})
}

// 루트 엔드포인트
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, model.RootResponse{
		Status:  "ok",
		Message: "alertsync API server is running",
	})
}

// schedulerState - 스케줄러 상태 조회
type schedulerState interface {
	State() string
}

// lastCycleReader - 마지막 사이클 조회
type lastCycleReader interface {
	LastResult(ctx context.Context) (*model.CycleResult, error)
}

// cloudIDReader - 현재 JSM cloud id 조회
type cloudIDReader interface {
	CloudID() string
}

// HealthHandler - 스케줄러/tenant/마지막 사이클 상태
type HealthHandler struct {
	scheduler schedulerState
	cycles    lastCycleReader
	tenant    cloudIDReader
}

func NewHealthHandler(scheduler schedulerState, cycles lastCycleReader, tenant cloudIDReader) *HealthHandler {
	return &HealthHandler{scheduler: scheduler, cycles: cycles, tenant: tenant}
}

// Health godoc
// @Summary Service health
// @Description Scheduler state, resolved JSM cloud id and the last finished cycle.
// @Tags health
// @Produce json
// @Success 200 {object} model.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := model.HealthResponse{
		Status:    "healthy",
		Service:   "alertsync",
		Scheduler: "disabled",
	}
	if h.scheduler != nil {
		resp.Scheduler = h.scheduler.State()
	}
	if h.tenant != nil {
		resp.CloudID = h.tenant.CloudID()
	}
	if h.cycles != nil {
		// 기록된 사이클이 없어도 healthy
		if last, err := h.cycles.LastResult(c.Request.Context()); err == nil {
			resp.LastCycle = last
		}
	}
	c.JSON(http.StatusOK, resp)
}
