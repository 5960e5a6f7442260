package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// DetectionHandler exposes the classifier and the audit trail.
type DetectionHandler struct {
	classifier  interfaces.Classifier
	store       interfaces.DetectionStore
	suggestions interfaces.SuggestionService
	logger      arbor.ILogger
}

func NewDetectionHandler(classifier interfaces.Classifier, store interfaces.DetectionStore, suggestions interfaces.SuggestionService) *DetectionHandler {
	return &DetectionHandler{
		classifier:  classifier,
		store:       store,
		suggestions: suggestions,
		logger:      common.GetLogger(),
	}
}

// classifyRequest is the POST /api/detections/classify payload: a captured
// response to judge without fetching anything.
type classifyRequest struct {
	URL        string `json:"url"`
	Platform   string `json:"platform"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	Redirects  int    `json:"redirects,omitempty"`
}

// ClassifyHandler classifies a caller-supplied response sample.
func (h *DetectionHandler) ClassifyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req classifyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StatusCode <= 0 {
		WriteError(w, http.StatusBadRequest, "status_code is required")
		return
	}

	result := h.classifier.Classify(&models.ResponseSample{
		URL:        req.URL,
		Platform:   platform,
		StatusCode: req.StatusCode,
		Body:       req.Body,
		Redirects:  req.Redirects,
	})

	WriteJSON(w, http.StatusOK, result)
}

// RecentHandler returns the newest audit trail entries.
// GET /api/detections/recent?limit=N (default 50, max 500).
func (h *DetectionHandler) RecentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > 500 {
		limit = 500
	}

	records, err := h.store.RecentDetections(limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read detection audit trail")
		WriteError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(records),
		"detections": records,
	})
}

// SuggestHandler generates ranked countermeasures for a detection.
// POST /api/detections/suggest with a DetectionResult payload.
func (h *DetectionHandler) SuggestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var detection models.DetectionResult
	if !DecodeJSON(w, r, &detection) {
		return
	}

	if detection.Type == "" || detection.Type == models.DetectionNone {
		WriteError(w, http.StatusBadRequest, "a detection type is required")
		return
	}
	if detection.Confidence < 0 || detection.Confidence > 1 {
		WriteError(w, http.StatusBadRequest, "confidence must be between 0 and 1")
		return
	}

	WriteJSON(w, http.StatusOK, h.suggestions.GenerateSuggestions(&detection))
}
