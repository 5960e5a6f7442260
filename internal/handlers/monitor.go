package handlers

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/fetcher"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// MonitorHandler exposes target registration and monitoring status.
type MonitorHandler struct {
	monitor  interfaces.MonitorService
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewMonitorHandler(monitor interfaces.MonitorService) *MonitorHandler {
	return &MonitorHandler{
		monitor:  monitor,
		validate: validator.New(),
		logger:   common.GetLogger(),
	}
}

// addTargetRequest is the POST /api/monitor payload.
type addTargetRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Platform   string `json:"platform"`
	PlatformID string `json:"platform_id,omitempty"`
}

// TargetsHandler dispatches /api/monitor by method: POST registers a target,
// GET lists the current scheduling state.
func (h *MonitorHandler) TargetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.addTarget(w, r)
	case http.MethodGet:
		h.listTargets(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *MonitorHandler) addTarget(w http.ResponseWriter, r *http.Request) {
	var req addTargetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	target := &models.MonitoredTarget{
		ID:         req.ID,
		Name:       req.Name,
		URL:        req.URL,
		Platform:   platform,
		PlatformID: req.PlatformID,
	}
	if target.ID == "" {
		target.ID = common.NewTargetID()
	}

	if err := h.validate.Struct(target); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid target: "+err.Error())
		return
	}

	// Reject disallowed hostnames at registration time rather than letting
	// the target churn through fetch jobs that can never run.
	if err := fetcher.ValidateTargetURL(target.URL, target.Platform); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.monitor.StartMonitoring(target); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().
		Str("target_id", target.ID).
		Str("platform", string(target.Platform)).
		Msg("Target registered via API")

	WriteJSON(w, http.StatusCreated, target)
}

func (h *MonitorHandler) listTargets(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"targets": h.monitor.GetMonitoringStatus(),
	})
}

// TargetRoutes handles /api/monitor/{id}: DELETE stops monitoring.
func (h *MonitorHandler) TargetRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/monitor/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "target id required")
		return
	}

	if !RequireMethod(w, r, "DELETE") {
		return
	}

	h.monitor.StopMonitoring(id)
	WriteSuccess(w, "monitoring stopped for "+id)
}
