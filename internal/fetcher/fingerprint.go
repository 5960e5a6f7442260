package fetcher

import (
	"math/rand"
	"sync"
	"time"
)

// Fingerprint is one coherent browser identity: a user agent plus the header
// set a real browser with that agent would send. Mixing headers across
// identities is itself a detection signal, so the set rotates as a unit.
type Fingerprint struct {
	UserAgent string
	Headers   map[string]string
}

// defaultFingerprints covers current Chrome/Firefox/Safari on the desktop
// platforms the target sites expect to see.
var defaultFingerprints = []Fingerprint{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
			"Sec-Ch-Ua":       `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			"Sec-Fetch-Dest":  "document",
			"Sec-Fetch-Mode":  "navigate",
			"Sec-Fetch-Site":  "none",
		},
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
			"Sec-Fetch-Dest":  "document",
			"Sec-Fetch-Mode":  "navigate",
			"Sec-Fetch-Site":  "none",
		},
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		Headers: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.5",
			"Accept-Encoding":           "gzip, deflate, br",
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
		},
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"Sec-Fetch-Dest":  "document",
			"Sec-Fetch-Mode":  "navigate",
		},
	},
}

// acceptLanguageVariants is the substitution pool for header randomization.
var acceptLanguageVariants = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.8",
	"en-GB,en-US;q=0.9,en;q=0.8",
	"en-US,en;q=0.9,es;q=0.6",
}

// Rotator selects a fingerprint per fetch attempt and carries the mitigation
// state the solution engine adjusts in response to detection events.
type Rotator struct {
	mu           sync.Mutex
	fingerprints []Fingerprint
	cursor       int
	rotate       bool

	// mitigation state, mutated by the solution engine
	randomizeHeaders bool
	extraDelay       time.Duration
	cooldownUntil    time.Time

	rand *rand.Rand
}

// NewRotator creates a fingerprint rotator. With rotation disabled the first
// fingerprint is used for every attempt.
func NewRotator(rotate bool) *Rotator {
	return &Rotator{
		fingerprints: defaultFingerprints,
		rotate:       rotate,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the fingerprint for the next attempt. Rotation is sequential
// rather than random so repeated blocks cycle through every identity before
// reusing one.
func (r *Rotator) Next() Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp := r.fingerprints[0]
	if r.rotate {
		fp = r.fingerprints[r.cursor%len(r.fingerprints)]
		r.cursor++
	}

	// Copy headers so per-request mutation never leaks into the catalog.
	headers := make(map[string]string, len(fp.Headers))
	for k, v := range fp.Headers {
		headers[k] = v
	}

	if r.randomizeHeaders {
		headers["Accept-Language"] = acceptLanguageVariants[r.rand.Intn(len(acceptLanguageVariants))]
		if r.rand.Intn(2) == 0 {
			headers["Cache-Control"] = "no-cache"
		}
	}

	return Fingerprint{UserAgent: fp.UserAgent, Headers: headers}
}

// ForceRotate advances the cursor so the next attempt presents a different
// identity even when rotation is otherwise disabled.
func (r *Rotator) ForceRotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotate = true
	r.cursor++
}

// SetHeaderRandomization toggles per-request header variation.
func (r *Rotator) SetHeaderRandomization(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.randomizeHeaders = enabled
}

// AddDelay increases the extra pre-request delay applied to every fetch.
// Capped at 30s so a series of applied mitigations cannot stall monitoring.
func (r *Rotator) AddDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extraDelay += d
	if r.extraDelay > 30*time.Second {
		r.extraDelay = 30 * time.Second
	}
}

// SetCooldown pauses all fetching until the given time.
func (r *Rotator) SetCooldown(until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldownUntil = until
}

// PreRequestDelay returns the accumulated mitigation delay, including any
// remaining cooldown window.
func (r *Rotator) PreRequestDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	delay := r.extraDelay
	if remaining := time.Until(r.cooldownUntil); remaining > delay {
		delay = remaining
	}
	return delay
}
