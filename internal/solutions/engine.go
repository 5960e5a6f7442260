package solutions

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// MitigationControls is what the engine needs from the fetch layer to make a
// countermeasure real. Implemented by the fetch executor.
type MitigationControls interface {
	ForceRotate()
	SetHeaderRandomization(enabled bool)
	AddDelay(d time.Duration)
	SetCooldown(until time.Time)
	EnableProxyRotation(proxies []string) error
}

// Tier thresholds on the urgency value (relevance/100 × detection severity).
const (
	tierImmediateAt   = 0.70
	tierRecommendedAt = 0.50
	tierOptionalAt    = 0.30
)

// cooldownWindow is how long the session-cooldown solution pauses fetching.
const cooldownWindow = 5 * time.Minute

// delayIncrement is how much one application of delay tuning adds.
const delayIncrement = 2 * time.Second

// Engine ranks catalog solutions against a detection and applies them on
// request, feeding observed outcomes back into future rankings.
type Engine struct {
	mu        sync.Mutex
	catalog   []models.Solution
	controls  MitigationControls
	store     interfaces.DetectionStore
	proxyPool []string
	escalate  func() // installed by the scheduler after construction
	logger    arbor.ILogger
}

// NewEngine creates a suggestion engine over the static catalog.
func NewEngine(cfg *common.SolutionsConfig, controls MitigationControls, store interfaces.DetectionStore) *Engine {
	return &Engine{
		catalog:   Catalog(),
		controls:  controls,
		store:     store,
		proxyPool: cfg.ProxyPool,
		logger:    common.GetLogger(),
	}
}

// SetBackoffEscalator installs the scheduler hook used by the
// backoff-escalation solution. Called once during wiring.
func (e *Engine) SetBackoffEscalator(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.escalate = fn
}

// ListSolutions returns the static catalog.
func (e *Engine) ListSolutions() []models.Solution {
	out := make([]models.Solution, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// GenerateSuggestions ranks every relevant catalog entry for the detection
// and buckets the results into urgency tiers. Read-only and idempotent.
func (e *Engine) GenerateSuggestions(detection *models.DetectionResult) *models.SuggestionSet {
	set := &models.SuggestionSet{}
	if detection == nil || detection.Type == models.DetectionNone {
		return set
	}

	severity := detection.Type.Severity()

	for _, sol := range e.catalog {
		if !sol.RelevantTo(detection.Type) {
			continue
		}

		score := e.relevanceScore(&sol, detection)
		canApply, reason := e.eligibility(&sol)

		suggestion := models.SolutionSuggestion{
			Solution:         sol,
			RelevanceScore:   score,
			Tier:             tierFor(score, severity),
			CanApplyNow:      canApply,
			IneligibleReason: reason,
			EstimatedImpact:  sol.EstimatedImpact,
		}

		switch suggestion.Tier {
		case models.TierImmediate:
			set.Immediate = append(set.Immediate, suggestion)
		case models.TierRecommended:
			set.Recommended = append(set.Recommended, suggestion)
		case models.TierOptional:
			set.Optional = append(set.Optional, suggestion)
		default:
			set.Advanced = append(set.Advanced, suggestion)
		}
	}

	return set
}

// relevanceScore starts from the catalog base score, weights it by the
// detection's confidence, and folds in the observed success history.
func (e *Engine) relevanceScore(sol *models.Solution, detection *models.DetectionResult) int {
	score := float64(sol.BaseScore)

	// A tentative detection deserves a gentler response than a certain one.
	score *= 0.7 + 0.3*detection.Confidence

	if e.store != nil {
		if eff, err := e.store.GetEffectiveness(sol.ID); err == nil && eff != nil && eff.Applications > 0 {
			// Shift up to ±15 points based on how this solution has
			// actually performed here.
			score += 30 * (eff.SuccessRate() - 0.5)
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// eligibility checks a solution's prerequisites against current config.
func (e *Engine) eligibility(sol *models.Solution) (bool, string) {
	for _, prereq := range sol.Prerequisites {
		switch prereq {
		case prerequisiteProxyPool:
			if len(e.proxyPool) == 0 {
				return false, "no proxies configured in the proxy pool"
			}
		default:
			return false, fmt.Sprintf("unknown prerequisite %q", prereq)
		}
	}
	return true, ""
}

// tierFor buckets a suggestion by relevance weighted with the detection
// type's severity.
func tierFor(score int, severity float64) models.UrgencyTier {
	urgency := float64(score) / 100 * severity
	switch {
	case urgency >= tierImmediateAt:
		return models.TierImmediate
	case urgency >= tierRecommendedAt:
		return models.TierRecommended
	case urgency >= tierOptionalAt:
		return models.TierOptional
	default:
		return models.TierAdvanced
	}
}

// ApplySolution executes one countermeasure by id. The attempt is recorded
// in the effectiveness store whether it worked or not.
func (e *Engine) ApplySolution(solutionID string) models.ApplyResult {
	var sol *models.Solution
	for i := range e.catalog {
		if e.catalog[i].ID == solutionID {
			sol = &e.catalog[i]
			break
		}
	}
	if sol == nil {
		return models.ApplyResult{Success: false, Message: fmt.Sprintf("unknown solution %q", solutionID)}
	}

	if ok, reason := e.eligibility(sol); !ok {
		return models.ApplyResult{Success: false, Message: reason}
	}

	result := e.apply(sol)
	e.recordApplication(sol.ID, result.Success)

	if result.Success {
		e.logger.Info().
			Str("solution_id", sol.ID).
			Msg("Countermeasure applied")
	} else {
		e.logger.Warn().
			Str("solution_id", sol.ID).
			Str("message", result.Message).
			Msg("Countermeasure failed to apply")
	}

	return result
}

// apply dispatches to the concrete mitigation for each catalog entry.
func (e *Engine) apply(sol *models.Solution) models.ApplyResult {
	switch sol.ID {
	case "user-agent-rotation":
		e.controls.ForceRotate()
		return models.ApplyResult{Success: true, Message: "fingerprint rotated; rotation stays enabled"}

	case "delay-tuning":
		e.controls.AddDelay(delayIncrement)
		return models.ApplyResult{Success: true, Message: fmt.Sprintf("added %s to the pre-request delay", delayIncrement)}

	case "header-randomization":
		e.controls.SetHeaderRandomization(true)
		return models.ApplyResult{Success: true, Message: "per-request header randomization enabled"}

	case "proxy-rotation":
		if err := e.controls.EnableProxyRotation(e.proxyPool); err != nil {
			return models.ApplyResult{Success: false, Message: err.Error()}
		}
		return models.ApplyResult{Success: true, Message: fmt.Sprintf("rotating across %d exit proxies", len(e.proxyPool))}

	case "session-cooldown":
		until := time.Now().Add(cooldownWindow)
		e.controls.SetCooldown(until)
		return models.ApplyResult{Success: true, Message: fmt.Sprintf("fetching paused until %s", until.Format(time.RFC3339))}

	case "backoff-escalation":
		e.mu.Lock()
		escalate := e.escalate
		e.mu.Unlock()
		if escalate == nil {
			return models.ApplyResult{Success: false, Message: "scheduler is not running"}
		}
		escalate()
		return models.ApplyResult{Success: true, Message: "scheduler backoff escalated for all targets"}

	default:
		return models.ApplyResult{Success: false, Message: fmt.Sprintf("solution %q has no applier", sol.ID)}
	}
}

// recordApplication updates the effectiveness counters; failures only log.
func (e *Engine) recordApplication(solutionID string, success bool) {
	if e.store == nil {
		return
	}
	if err := e.store.RecordApplication(solutionID, success); err != nil {
		e.logger.Error().
			Str("solution_id", solutionID).
			Err(err).
			Msg("Failed to record solution application")
	}
}
