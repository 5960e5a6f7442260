package detection

import (
	"testing"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/models"
)

// captureStore records audit appends so tests can assert the side effect.
type captureStore struct {
	records []*models.DetectionRecord
}

func (c *captureStore) AppendDetection(record *models.DetectionRecord) error {
	c.records = append(c.records, record)
	return nil
}

func (c *captureStore) RecentDetections(limit int) ([]models.DetectionRecord, error) {
	out := make([]models.DetectionRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, *r)
	}
	return out, nil
}

func (c *captureStore) GetEffectiveness(solutionID string) (*models.SolutionEffectiveness, error) {
	return &models.SolutionEffectiveness{SolutionID: solutionID}, nil
}

func (c *captureStore) RecordApplication(solutionID string, success bool) error { return nil }

func (c *captureStore) Close() error { return nil }

const amazonProductPage = `<html><body>
<div id="dp">
  <span id="productTitle">Example Widget, Stainless Steel</span>
  <span class="a-price"><span class="a-offscreen">$24.99</span></span>
  <div id="availability"><span>In Stock</span></div>
</div>
</body></html>`

func TestClassifyRobotCheckAtStatus200(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	result := svc.Classify(&models.ResponseSample{
		URL:        "https://www.amazon.com/dp/B0TEST",
		Platform:   models.PlatformAmazon,
		StatusCode: 200,
		Body:       `<html><body><h4>Robot Check</h4><p>Enter the characters you see below</p></body></html>`,
	})

	if result.Type == models.DetectionNone {
		t.Fatal("expected a detection for a Robot Check page served with 200")
	}
	if result.Type != models.DetectionCaptcha {
		t.Errorf("expected captcha, got %s", result.Type)
	}
	if result.Confidence <= 0.5 {
		t.Errorf("expected confidence above 0.5, got %.2f", result.Confidence)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(store.records))
	}
	if store.records[0].Type != models.DetectionCaptcha {
		t.Errorf("audit record type mismatch: %s", store.records[0].Type)
	}
	if store.records[0].ID == "" {
		t.Error("audit record has no id")
	}
}

func TestClassifyCleanProductPage(t *testing.T) {
	store := &captureStore{}
	svc := NewService(store)

	result := svc.Classify(&models.ResponseSample{
		URL:        "https://www.amazon.com/dp/B0TEST",
		Platform:   models.PlatformAmazon,
		StatusCode: 200,
		Body:       amazonProductPage,
	})

	if result.Type != models.DetectionNone {
		t.Errorf("expected no detection for a clean product page, got %s (%.2f)", result.Type, result.Confidence)
	}
	if result.Confidence != 0 {
		t.Errorf("expected zero confidence, got %.2f", result.Confidence)
	}
	if len(store.records) != 0 {
		t.Errorf("clean page must not write audit records, got %d", len(store.records))
	}
}

func TestClassifyStatusCodeBoostsConfidence(t *testing.T) {
	svc := NewService(nil)
	body := `<html><body>Access Denied</body></html>`

	at200 := svc.Classify(&models.ResponseSample{
		Platform: models.PlatformAmazon, StatusCode: 200, Body: body,
	})
	at403 := svc.Classify(&models.ResponseSample{
		Platform: models.PlatformAmazon, StatusCode: 403, Body: body,
	})

	if at403.Confidence <= at200.Confidence {
		t.Errorf("403 should boost confidence: 200=%.2f 403=%.2f", at200.Confidence, at403.Confidence)
	}
	if at403.Type != models.DetectionIPBlock {
		t.Errorf("expected ip_block at 403, got %s", at403.Type)
	}
}

func TestClassifyBareStatusCodes(t *testing.T) {
	svc := NewService(nil)

	tests := []struct {
		status int
		want   models.DetectionType
	}{
		{429, models.DetectionRateLimit},
		{403, models.DetectionIPBlock},
	}

	for _, tt := range tests {
		result := svc.Classify(&models.ResponseSample{
			Platform:   models.PlatformPopmart,
			StatusCode: tt.status,
			Body:       "",
		})
		if result.Type != tt.want {
			t.Errorf("status %d: expected %s, got %s", tt.status, tt.want, result.Type)
		}
		if result.Confidence < 0.5 {
			t.Errorf("status %d: expected actionable confidence, got %.2f", tt.status, result.Confidence)
		}
	}
}

func TestClassifyRedirectLoop(t *testing.T) {
	svc := NewService(nil)

	result := svc.Classify(&models.ResponseSample{
		Platform:   models.PlatformPopmart,
		StatusCode: 200,
		Body:       "<html><body>loading</body></html>",
		Redirects:  9,
	})

	if result.Type != models.DetectionRedirectLoop {
		t.Errorf("expected redirect_loop, got %s", result.Type)
	}
}

func TestClassifyExpectedContentFallback(t *testing.T) {
	svc := NewService(nil)

	result := svc.Classify(&models.ResponseSample{
		Platform:   models.PlatformAmazon,
		StatusCode: 200,
		Body:       `<html><body><p>Welcome</p></body></html>`,
	})

	if result.Type != models.DetectionWAF {
		t.Errorf("expected low-confidence waf fallback, got %s", result.Type)
	}
	if result.Blocked(0.6) {
		t.Errorf("fallback detection must stay below the blocking threshold, confidence %.2f", result.Confidence)
	}
	if result.Confidence <= 0 {
		t.Error("fallback detection should carry nonzero confidence")
	}
}

func TestClassifyConfidenceNeverExceedsOne(t *testing.T) {
	svc := NewService(nil)

	result := svc.Classify(&models.ResponseSample{
		Platform:   models.PlatformAmazon,
		StatusCode: 403,
		Body: `robot check captcha recaptcha hcaptcha geetest
			enter the characters you see below are you a robot`,
	})

	if result.Confidence > 1.0 {
		t.Errorf("confidence must be clamped to 1.0, got %.2f", result.Confidence)
	}
	if result.Confidence < 0.9 {
		t.Errorf("stacked markers with status boost should be near certain, got %.2f", result.Confidence)
	}
}

func TestClassifyFastResponseNudgesConfidence(t *testing.T) {
	svc := NewService(nil)
	body := `<html><body>Access Denied</body></html>`

	slow := svc.Classify(&models.ResponseSample{
		Platform: models.PlatformAmazon, StatusCode: 200, Body: body, Latency: 2 * time.Second,
	})
	fast := svc.Classify(&models.ResponseSample{
		Platform: models.PlatformAmazon, StatusCode: 200, Body: body, Latency: 20 * time.Millisecond,
	})

	if fast.Confidence <= slow.Confidence {
		t.Errorf("a cached block page should score higher: slow=%.2f fast=%.2f", slow.Confidence, fast.Confidence)
	}
}

func TestClassifyJSChallenge(t *testing.T) {
	svc := NewService(nil)

	result := svc.Classify(&models.ResponseSample{
		Platform:   models.PlatformPopmart,
		StatusCode: 503,
		Body:       `<html><title>Just a moment...</title><body>Checking your browser before accessing</body></html>`,
	})

	if result.Type != models.DetectionJSChallenge {
		t.Errorf("expected js_challenge, got %s", result.Type)
	}
	if !result.Blocked(0.6) {
		t.Errorf("challenge page should clear the blocking threshold, got %.2f", result.Confidence)
	}
}
