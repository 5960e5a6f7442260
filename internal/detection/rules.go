package detection

import (
	"time"

	"github.com/shelfwatch/shelfwatch/internal/models"
)

// rule matches one category of anti-bot response by marker phrases, with an
// optional confidence boost when the status code corroborates the markers.
type rule struct {
	Type            models.DetectionType
	Markers         []string // matched case-insensitively against the body
	BaseConfidence  float64  // confidence when exactly one marker matches
	PerExtraMarker  float64  // added per additional marker, capped at 1.0
	StatusBoost     map[int]float64
	SuggestedAction string
}

// rules is evaluated in full for every sample; the highest-confidence match
// wins. Order does not matter.
var rules = []rule{
	{
		Type: models.DetectionCaptcha,
		Markers: []string{
			"robot check",
			"enter the characters you see below",
			"type the characters you see in this image",
			"captcha",
			"are you a robot",
			"hcaptcha",
			"recaptcha",
			"geetest",
		},
		BaseConfidence:  0.75,
		PerExtraMarker:  0.1,
		StatusBoost:     map[int]float64{403: 0.15, 503: 0.1},
		SuggestedAction: "rotate fingerprint and apply a session cooldown",
	},
	{
		Type: models.DetectionRateLimit,
		Markers: []string{
			"too many requests",
			"rate limit",
			"request throttled",
			"slow down",
		},
		BaseConfidence:  0.6,
		PerExtraMarker:  0.1,
		StatusBoost:     map[int]float64{429: 0.35, 503: 0.1},
		SuggestedAction: "increase the delay between requests",
	},
	{
		Type: models.DetectionIPBlock,
		Markers: []string{
			"access denied",
			"your ip has been",
			"has been blocked",
			"blocked due to unusual activity",
			"forbidden",
		},
		BaseConfidence:  0.55,
		PerExtraMarker:  0.15,
		StatusBoost:     map[int]float64{403: 0.3},
		SuggestedAction: "rotate the exit IP",
	},
	{
		Type: models.DetectionJSChallenge,
		Markers: []string{
			"checking your browser",
			"enable javascript and cookies",
			"just a moment",
			"__cf_chl",
			"challenge-platform",
		},
		BaseConfidence:  0.7,
		PerExtraMarker:  0.1,
		StatusBoost:     map[int]float64{403: 0.15, 503: 0.2},
		SuggestedAction: "switch to a browser-grade client for this platform",
	},
	{
		Type: models.DetectionWAF,
		Markers: []string{
			"cloudflare",
			"akamai",
			"incapsula",
			"perimeterx",
			"px-captcha",
			"request blocked",
			"reference #",
		},
		BaseConfidence:  0.55,
		PerExtraMarker:  0.1,
		StatusBoost:     map[int]float64{403: 0.25, 429: 0.15},
		SuggestedAction: "randomize request headers",
	},
	{
		Type: models.DetectionPlatformBlock,
		Markers: []string{
			"sorry! something went wrong",
			"service unavailable in your region",
			"abnormal traffic",
			"abnormal access",
			"api-services-support@amazon.com",
		},
		BaseConfidence:  0.65,
		PerExtraMarker:  0.1,
		StatusBoost:     map[int]float64{403: 0.2, 503: 0.15},
		SuggestedAction: "pause monitoring for this platform and escalate backoff",
	},
}

// statusOnlyRules classify responses whose body carries no marker at all.
// A bare 429 or 403 is still a block signal even when the page is empty.
var statusOnlyRules = map[int]struct {
	Type            models.DetectionType
	Confidence      float64
	SuggestedAction string
}{
	429: {models.DetectionRateLimit, 0.7, "increase the delay between requests"},
	403: {models.DetectionIPBlock, 0.6, "rotate the exit IP"},
}

// redirectLoopThreshold is the redirect count at which a chain is treated as
// a loop rather than site navigation.
const redirectLoopThreshold = 8

// Block pages are served from cache and come back much faster than a real
// product page render; a marker match on a suspiciously quick response gets
// a small confidence nudge.
const (
	fastResponseLatency = 100 * time.Millisecond
	fastResponseBoost   = 0.05
)

// expectedContentSelectors lists CSS selectors a genuine product page must
// contain. Used as the last-resort signal: a 200 with none of these present
// is a disguised block.
var expectedContentSelectors = map[models.Platform][]string{
	models.PlatformAmazon:  {"#productTitle", "#dp", "#ppd"},
	models.PlatformPopmart: {"h1.product-name", ".product-detail-name", ".product-price"},
}
