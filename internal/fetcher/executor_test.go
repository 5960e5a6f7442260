package fetcher

import (
	"context"
	"testing"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/detection"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

func newTestExecutor() *Executor {
	cfg := common.NewDefaultConfig()
	return NewExecutor(cfg, NewRotator(true), NewHostLimiter(100), detection.NewService(nil))
}

func TestRunRejectsDisallowedHostnameWithoutFetching(t *testing.T) {
	e := newTestExecutor()

	result := e.Run(context.Background(), &models.FetchJob{
		ID:       "job_bad",
		URL:      "https://169.254.169.254/latest/meta-data/",
		Platform: models.PlatformAmazon,
	})

	if result.Outcome != models.OutcomeInvalidTarget {
		t.Errorf("expected invalid_target, got %s", result.Outcome)
	}
	if result.Error == "" {
		t.Error("expected a rejection reason")
	}
	if result.StatusCode != 0 {
		t.Errorf("no request may be made for a rejected hostname, got status %d", result.StatusCode)
	}
}

func TestRunPrefetchedBodySuccess(t *testing.T) {
	e := newTestExecutor()

	body := `<html><body>
		<span id="productTitle">Example Widget</span>
		<span class="a-price"><span class="a-offscreen">$24.99</span></span>
	</body></html>`

	result := e.Run(context.Background(), &models.FetchJob{
		ID:             "job_prefetched",
		URL:            "https://www.amazon.com/dp/B0TEST",
		Platform:       models.PlatformAmazon,
		PrefetchedBody: []byte(body),
	})

	if !result.Success || result.Outcome != models.OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Outcome, result.Error)
	}
	if result.Fields["title"] != "Example Widget" {
		t.Errorf("unexpected title: %q", result.Fields["title"])
	}
	if result.JobID != "job_prefetched" {
		t.Errorf("result not correlated: %q", result.JobID)
	}
}

func TestRunPrefetchedBlockedBody(t *testing.T) {
	e := newTestExecutor()

	result := e.Run(context.Background(), &models.FetchJob{
		ID:             "job_blocked",
		URL:            "https://www.amazon.com/dp/B0TEST",
		Platform:       models.PlatformAmazon,
		PrefetchedBody: []byte(`<html><body><h4>Robot Check</h4><p>Enter the characters you see below</p></body></html>`),
	})

	if result.Outcome != models.OutcomeBlocked {
		t.Fatalf("expected blocked outcome, got %s", result.Outcome)
	}
	if result.Detection == nil {
		t.Fatal("blocked result must carry its detection")
	}
	if result.Detection.Type != models.DetectionCaptcha {
		t.Errorf("expected captcha detection, got %s", result.Detection.Type)
	}
}

func TestRunPrefetchedUnparseablePage(t *testing.T) {
	e := newTestExecutor()

	result := e.Run(context.Background(), &models.FetchJob{
		ID:       "job_empty",
		URL:      "https://www.amazon.com/dp/B0TEST",
		Platform: models.PlatformAmazon,
		// A 200 with no product structure: low-confidence detection, not a
		// block, and extraction fails.
		PrefetchedBody: []byte(`<html><body><p>Welcome</p></body></html>`),
	})

	if result.Outcome != models.OutcomeTransientError {
		t.Errorf("expected transient_error, got %s", result.Outcome)
	}
	if result.Detection == nil || result.Detection.Type != models.DetectionWAF {
		t.Error("low-confidence fallback detection should be attached for visibility")
	}
}

func TestEnableProxyRotationValidation(t *testing.T) {
	e := newTestExecutor()

	if err := e.EnableProxyRotation(nil); err == nil {
		t.Error("empty pool must be rejected")
	}
	if err := e.EnableProxyRotation([]string{"not a url at all %"}); err == nil {
		t.Error("unparseable proxy must be rejected")
	}
	if err := e.EnableProxyRotation([]string{"http://127.0.0.1:8888", "http://127.0.0.1:8889"}); err != nil {
		t.Errorf("valid pool rejected: %v", err)
	}

	first, _ := e.nextProxy(nil)
	second, _ := e.nextProxy(nil)
	third, _ := e.nextProxy(nil)
	if first.Host == second.Host {
		t.Error("proxies must rotate per connection")
	}
	if first.Host != third.Host {
		t.Error("rotation must wrap around the pool")
	}
}
