package models

import (
	"time"
)

// RiskLevel indicates how likely a countermeasure is to cause collateral
// damage (broken sessions, new detection vectors) when applied.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// UrgencyTier buckets suggestions by how soon an operator should act.
type UrgencyTier string

const (
	TierImmediate   UrgencyTier = "immediate"
	TierRecommended UrgencyTier = "recommended"
	TierOptional    UrgencyTier = "optional"
	TierAdvanced    UrgencyTier = "advanced"
)

// Solution is a catalog-defined countermeasure against a class of detections.
type Solution struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	Risk            RiskLevel       `json:"risk"`
	RelevantTypes   []DetectionType `json:"relevant_types"`
	Prerequisites   []string        `json:"prerequisites,omitempty"`
	EstimatedImpact string          `json:"estimated_impact"`
	BaseScore       int             `json:"base_score"` // 0..100 before history weighting
}

// RelevantTo reports whether the solution addresses the given detection type.
func (s *Solution) RelevantTo(t DetectionType) bool {
	for _, rt := range s.RelevantTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// SolutionSuggestion is one ranked countermeasure generated for a specific
// DetectionResult. Generated fresh each time; not persisted as mutable state.
type SolutionSuggestion struct {
	Solution         Solution    `json:"solution"`
	RelevanceScore   int         `json:"relevance_score"` // 0..100
	Tier             UrgencyTier `json:"tier"`
	CanApplyNow      bool        `json:"can_apply_now"`
	IneligibleReason string      `json:"ineligible_reason,omitempty"`
	EstimatedImpact  string      `json:"estimated_impact"`
}

// SuggestionSet groups suggestions into the four urgency tiers.
type SuggestionSet struct {
	Immediate   []SolutionSuggestion `json:"immediate"`
	Recommended []SolutionSuggestion `json:"recommended"`
	Optional    []SolutionSuggestion `json:"optional"`
	Advanced    []SolutionSuggestion `json:"advanced"`
}

// ApplyResult reports the outcome of applying a single solution.
type ApplyResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SolutionEffectiveness tracks observed outcomes of applied solutions,
// keyed by solution id. Feeds the relevance score on future suggestions.
type SolutionEffectiveness struct {
	SolutionID   string    `badgerhold:"key" json:"solution_id"`
	Applications int       `json:"applications"`
	Successes    int       `json:"successes"`
	LastApplied  time.Time `json:"last_applied"`
}

// SuccessRate returns the observed success ratio, or 0 when never applied.
func (e *SolutionEffectiveness) SuccessRate() float64 {
	if e.Applications == 0 {
		return 0
	}
	return float64(e.Successes) / float64(e.Applications)
}
