package models

import (
	"time"
)

// DetectionType is the classified category of anti-bot defense encountered.
type DetectionType string

const (
	DetectionNone          DetectionType = "none"
	DetectionRateLimit     DetectionType = "rate_limit"
	DetectionIPBlock       DetectionType = "ip_block"
	DetectionCaptcha       DetectionType = "captcha"
	DetectionJSChallenge   DetectionType = "js_challenge"
	DetectionRedirectLoop  DetectionType = "redirect_loop"
	DetectionPlatformBlock DetectionType = "platform_block"
	DetectionWAF           DetectionType = "waf"
)

// Severity weights a detection type for suggestion tiering. Higher means a
// more aggressive countermeasure response is warranted.
func (t DetectionType) Severity() float64 {
	switch t {
	case DetectionIPBlock:
		return 1.0
	case DetectionCaptcha, DetectionPlatformBlock:
		return 0.9
	case DetectionWAF, DetectionJSChallenge:
		return 0.7
	case DetectionRateLimit:
		return 0.6
	case DetectionRedirectLoop:
		return 0.5
	default:
		return 0.0
	}
}

// ResponseSample is the raw material the classifier inspects: one HTTP
// response (or failure) for one fetch attempt.
type ResponseSample struct {
	URL         string            `json:"url"`
	Platform    Platform          `json:"platform"`
	StatusCode  int               `json:"status_code"`
	Body        string            `json:"body"`
	Latency     time.Duration     `json:"latency"`
	HeadersUsed map[string]string `json:"headers_used,omitempty"`
	Redirects   int               `json:"redirects,omitempty"`
}

// DetectionResult is the structured judgment for a single fetch attempt.
// Never mutated after creation; consumed by the suggestion engine and
// surfaced to operators.
type DetectionResult struct {
	Platform        Platform      `json:"platform"`
	Type            DetectionType `json:"type"`
	Confidence      float64       `json:"confidence"` // 0..1
	StatusCode      int           `json:"status_code"`
	Latency         time.Duration `json:"latency"`
	Details         string        `json:"details,omitempty"`
	SuggestedAction string        `json:"suggested_action,omitempty"`
	DetectedAt      time.Time     `json:"detected_at"`
}

// Blocked reports whether the result represents a blocking response at or
// above the given confidence threshold.
func (d *DetectionResult) Blocked(threshold float64) bool {
	return d.Type != DetectionNone && d.Confidence >= threshold
}

// DetectionRecord is the append-only audit entry persisted for every
// detection, with full request context for later forensic review. Not used
// for control flow.
type DetectionRecord struct {
	ID          string            `badgerhold:"key" json:"id"`
	URL         string            `json:"url"`
	Platform    Platform          `badgerholdIndex:"Platform" json:"platform"`
	Type        DetectionType     `badgerholdIndex:"Type" json:"type"`
	Confidence  float64           `json:"confidence"`
	StatusCode  int               `json:"status_code"`
	Latency     time.Duration     `json:"latency"`
	Details     string            `json:"details,omitempty"`
	HeadersUsed map[string]string `json:"headers_used,omitempty"`
	CreatedAt   time.Time         `badgerholdIndex:"CreatedAt" json:"created_at"`
}
