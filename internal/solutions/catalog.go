package solutions

import (
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// prerequisiteProxyPool marks solutions that need at least one configured
// proxy before they can be applied.
const prerequisiteProxyPool = "proxy_pool"

// Catalog returns the static countermeasure catalog. IDs are stable; the
// effectiveness store and the apply endpoint key on them.
func Catalog() []models.Solution {
	return []models.Solution{
		{
			ID:          "user-agent-rotation",
			Name:        "User Agent Rotation",
			Description: "Cycle through a pool of realistic browser fingerprints so no single identity accumulates request history.",
			Category:    "fingerprint",
			Risk:        models.RiskLow,
			RelevantTypes: []models.DetectionType{
				models.DetectionCaptcha,
				models.DetectionWAF,
				models.DetectionPlatformBlock,
				models.DetectionJSChallenge,
			},
			EstimatedImpact: "moderate reduction in fingerprint-based blocks",
			BaseScore:       70,
		},
		{
			ID:          "delay-tuning",
			Name:        "Request Delay Tuning",
			Description: "Increase the delay between requests to the affected host to drop below rate thresholds.",
			Category:    "pacing",
			Risk:        models.RiskLow,
			RelevantTypes: []models.DetectionType{
				models.DetectionRateLimit,
				models.DetectionWAF,
			},
			EstimatedImpact: "high for rate limiting, low for other block types",
			BaseScore:       80,
		},
		{
			ID:          "header-randomization",
			Name:        "Header Randomization",
			Description: "Vary secondary request headers per request so consecutive fetches do not share an exact header signature.",
			Category:    "fingerprint",
			Risk:        models.RiskLow,
			RelevantTypes: []models.DetectionType{
				models.DetectionWAF,
				models.DetectionCaptcha,
				models.DetectionPlatformBlock,
			},
			EstimatedImpact: "moderate reduction in signature matching",
			BaseScore:       60,
		},
		{
			ID:          "proxy-rotation",
			Name:        "Proxy Rotation",
			Description: "Route requests through a rotating pool of exit IPs, retiring any address that draws a block.",
			Category:    "network",
			Risk:        models.RiskMedium,
			RelevantTypes: []models.DetectionType{
				models.DetectionIPBlock,
				models.DetectionRateLimit,
				models.DetectionPlatformBlock,
			},
			Prerequisites:   []string{prerequisiteProxyPool},
			EstimatedImpact: "high for IP-level blocks",
			BaseScore:       85,
		},
		{
			ID:          "session-cooldown",
			Name:        "Session Cooldown",
			Description: "Pause all fetching for a cooling-off window so the platform's suspicion score decays.",
			Category:    "pacing",
			Risk:        models.RiskMedium,
			RelevantTypes: []models.DetectionType{
				models.DetectionCaptcha,
				models.DetectionIPBlock,
				models.DetectionPlatformBlock,
				models.DetectionRedirectLoop,
			},
			EstimatedImpact: "high immediately after a hard block",
			BaseScore:       65,
		},
		{
			ID:          "backoff-escalation",
			Name:        "Backoff Escalation",
			Description: "Treat the affected targets as erroring so the scheduler's exponential backoff widens their polling interval.",
			Category:    "scheduling",
			Risk:        models.RiskLow,
			RelevantTypes: []models.DetectionType{
				models.DetectionRateLimit,
				models.DetectionIPBlock,
				models.DetectionPlatformBlock,
				models.DetectionWAF,
				models.DetectionJSChallenge,
				models.DetectionRedirectLoop,
			},
			EstimatedImpact: "reliable pressure reduction at the cost of data freshness",
			BaseScore:       55,
		},
	}
}
