package detection

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// Service classifies fetch responses against the anti-bot rule table and
// appends every detection to the audit trail. Classification itself is pure;
// the audit write is the only side effect and never fails the caller.
type Service struct {
	store  interfaces.DetectionStore
	logger arbor.ILogger
}

// NewService creates a classifier. The store may be nil in tests that only
// exercise the rule table.
func NewService(store interfaces.DetectionStore) *Service {
	return &Service{
		store:  store,
		logger: common.GetLogger(),
	}
}

// Classify inspects one response sample and returns a structured judgment.
// Always returns a result; a clean page yields DetectionNone with zero
// confidence.
func (s *Service) Classify(sample *models.ResponseSample) models.DetectionResult {
	result := s.evaluate(sample)
	result.Platform = sample.Platform
	result.StatusCode = sample.StatusCode
	result.Latency = sample.Latency
	result.DetectedAt = time.Now()

	if result.Type != models.DetectionNone {
		s.logger.Warn().
			Str("url", sample.URL).
			Str("platform", string(sample.Platform)).
			Str("type", string(result.Type)).
			Float64("confidence", result.Confidence).
			Int("status_code", sample.StatusCode).
			Msg("Anti-bot response detected")
		s.appendAudit(sample, &result)
	}

	return result
}

// evaluate runs the rule table and the fallback checks.
func (s *Service) evaluate(sample *models.ResponseSample) models.DetectionResult {
	body := strings.ToLower(sample.Body)

	var best models.DetectionResult
	best.Type = models.DetectionNone

	for _, r := range rules {
		matched := 0
		var firstMarker string
		for _, marker := range r.Markers {
			if strings.Contains(body, marker) {
				if matched == 0 {
					firstMarker = marker
				}
				matched++
			}
		}
		if matched == 0 {
			continue
		}

		confidence := r.BaseConfidence + r.PerExtraMarker*float64(matched-1)
		confidence += r.StatusBoost[sample.StatusCode]
		if sample.Latency > 0 && sample.Latency < fastResponseLatency {
			confidence += fastResponseBoost
		}
		if confidence > 1.0 {
			confidence = 1.0
		}

		if confidence > best.Confidence {
			best = models.DetectionResult{
				Type:            r.Type,
				Confidence:      confidence,
				Details:         "matched marker: " + firstMarker,
				SuggestedAction: r.SuggestedAction,
			}
		}
	}

	if best.Type != models.DetectionNone {
		return best
	}

	// Redirect chains past the threshold are a block even with a bland body.
	if sample.Redirects >= redirectLoopThreshold {
		return models.DetectionResult{
			Type:            models.DetectionRedirectLoop,
			Confidence:      0.8,
			Details:         "redirect chain exceeded threshold",
			SuggestedAction: "clear session state and rotate fingerprint",
		}
	}

	// No marker matched: a blocking status code on its own still counts.
	if statusRule, ok := statusOnlyRules[sample.StatusCode]; ok {
		return models.DetectionResult{
			Type:            statusRule.Type,
			Confidence:      statusRule.Confidence,
			Details:         "status code with no recognizable body",
			SuggestedAction: statusRule.SuggestedAction,
		}
	}

	// Last resort: a 200 that does not look like a product page at all is a
	// disguised block. Low confidence, below the default blocking threshold,
	// so it surfaces in the audit trail without flipping the job outcome.
	if sample.StatusCode == 200 && !s.hasExpectedContent(sample) {
		return models.DetectionResult{
			Type:            models.DetectionWAF,
			Confidence:      0.4,
			Details:         "expected product page structure absent",
			SuggestedAction: "randomize request headers",
		}
	}

	return models.DetectionResult{Type: models.DetectionNone}
}

// hasExpectedContent reports whether the body contains any of the platform's
// expected product page selectors.
func (s *Service) hasExpectedContent(sample *models.ResponseSample) bool {
	selectors, ok := expectedContentSelectors[sample.Platform]
	if !ok {
		return true // unknown platform, nothing to assert
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sample.Body))
	if err != nil {
		return false
	}

	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// appendAudit persists the detection. Audit failures are logged and dropped;
// classification must keep working when storage is degraded.
func (s *Service) appendAudit(sample *models.ResponseSample, result *models.DetectionResult) {
	if s.store == nil {
		return
	}

	record := &models.DetectionRecord{
		ID:          common.NewDetectionID(),
		URL:         sample.URL,
		Platform:    sample.Platform,
		Type:        result.Type,
		Confidence:  result.Confidence,
		StatusCode:  sample.StatusCode,
		Latency:     sample.Latency,
		Details:     result.Details,
		HeadersUsed: sample.HeadersUsed,
		CreatedAt:   result.DetectedAt,
	}

	if err := s.store.AppendDetection(record); err != nil {
		s.logger.Error().
			Str("detection_id", record.ID).
			Err(err).
			Msg("Failed to append detection to audit trail")
	}
}
