package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
)

// SolutionHandler exposes the countermeasure catalog and the apply endpoint.
type SolutionHandler struct {
	suggestions interfaces.SuggestionService
	store       interfaces.DetectionStore
	logger      arbor.ILogger
}

func NewSolutionHandler(suggestions interfaces.SuggestionService, store interfaces.DetectionStore) *SolutionHandler {
	return &SolutionHandler{
		suggestions: suggestions,
		store:       store,
		logger:      common.GetLogger(),
	}
}

// ListHandler returns the static solution catalog.
// GET /api/solutions
func (h *SolutionHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"solutions": h.suggestions.ListSolutions(),
	})
}

// SolutionRoutes handles /api/solutions/{id}/apply and
// /api/solutions/{id}/effectiveness.
func (h *SolutionHandler) SolutionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/solutions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		WriteError(w, http.StatusBadRequest, "expected /api/solutions/{id}/apply or /api/solutions/{id}/effectiveness")
		return
	}

	solutionID, action := parts[0], parts[1]

	switch action {
	case "apply":
		if !RequireMethod(w, r, "POST") {
			return
		}
		result := h.suggestions.ApplySolution(solutionID)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		WriteJSON(w, status, result)

	case "effectiveness":
		if !RequireMethod(w, r, "GET") {
			return
		}
		eff, err := h.store.GetEffectiveness(solutionID)
		if err != nil {
			h.logger.Error().Str("solution_id", solutionID).Err(err).Msg("Failed to read effectiveness")
			WriteError(w, http.StatusInternalServerError, "failed to read effectiveness")
			return
		}
		WriteJSON(w, http.StatusOK, eff)

	default:
		WriteError(w, http.StatusNotFound, "unknown action "+action)
	}
}
