package handler

import (
	"net/http"

	"github.com/qrpay/reconciler/internal/api/middleware"
	"github.com/qrpay/reconciler/internal/service"
	"go.uber.org/zap"
)

// MonitorHandler exposes operator controls for the reconciliation cycle.
type MonitorHandler struct {
	monitorSvc *service.MonitorService
}

func NewMonitorHandler(monitorSvc *service.MonitorService) *MonitorHandler {
	return &MonitorHandler{monitorSvc: monitorSvc}
}

// RunCycle handles POST /v1/monitor/run. It triggers one reconciliation pass
// under the cycle lock; 409 means a pass is already running elsewhere.
func (h *MonitorHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	zap.L().Info("reconciliation cycle requested",
		zap.String("operator_id", middleware.OperatorIDFromContext(r.Context())),
	)
	result, ran, err := h.monitorSvc.RunCycleLocked(r.Context(), "api")
	if err != nil {
		zap.L().Error("api-triggered cycle failed", zap.Error(err))
		RespondError(w, r, http.StatusBadGateway, "monitor/cycle-failed", "Reconciliation cycle failed")
		return
	}
	if !ran {
		RespondError(w, r, http.StatusConflict, "monitor/cycle-busy", "A reconciliation cycle is already running")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Status handles GET /v1/monitor/status.
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.monitorSvc.Status(r.Context())
	if err != nil {
		zap.L().Error("monitor status failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "monitor/status-failed", "Failed to read monitor status")
		return
	}
	RespondJSON(w, http.StatusOK, status)
}
