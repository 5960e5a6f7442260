package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

const maxRedirects = 10

// Executor performs one fetch/parse per job: validate the hostname, pace the
// host, present a fingerprint, classify the response, extract product fields.
// It implements interfaces.FetchRunner for the worker pool.
type Executor struct {
	transport      *http.Transport
	timeout        time.Duration
	maxBodySize    int64
	blockThreshold float64

	rotator    *Rotator
	limiter    *HostLimiter
	retry      *RetryPolicy
	classifier interfaces.Classifier
	logger     arbor.ILogger

	proxyMu    sync.Mutex
	proxies    []*url.URL
	proxyIndex int
}

// NewExecutor builds a fetch executor from config. The rotator and limiter
// are shared with the solution engine, which adjusts them at runtime.
func NewExecutor(cfg *common.Config, rotator *Rotator, limiter *HostLimiter, classifier interfaces.Classifier) *Executor {
	e := &Executor{
		transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		timeout:        common.Duration(cfg.Fetcher.RequestTimeout, 20*time.Second),
		maxBodySize:    int64(cfg.Fetcher.MaxBodySize),
		blockThreshold: cfg.Monitor.BlockConfidenceThreshold,
		rotator:        rotator,
		limiter:        limiter,
		retry:          NewRetryPolicy(cfg.Fetcher.MaxRetries),
		classifier:     classifier,
		logger:         common.GetLogger(),
	}
	e.transport.Proxy = e.nextProxy
	return e
}

// nextProxy round-robins the configured exit proxies, or goes direct when
// none are set. Consulted by the transport once per connection.
func (e *Executor) nextProxy(_ *http.Request) (*url.URL, error) {
	e.proxyMu.Lock()
	defer e.proxyMu.Unlock()

	if len(e.proxies) == 0 {
		return nil, nil
	}
	proxy := e.proxies[e.proxyIndex%len(e.proxies)]
	e.proxyIndex++
	return proxy, nil
}

// Mitigation controls, invoked by the solution engine.

func (e *Executor) ForceRotate()                        { e.rotator.ForceRotate() }
func (e *Executor) SetHeaderRandomization(enabled bool) { e.rotator.SetHeaderRandomization(enabled) }
func (e *Executor) AddDelay(d time.Duration)            { e.rotator.AddDelay(d) }
func (e *Executor) SetCooldown(until time.Time)         { e.rotator.SetCooldown(until) }

// EnableProxyRotation installs the exit proxy pool. Existing idle
// connections are closed so rotation takes effect immediately.
func (e *Executor) EnableProxyRotation(proxies []string) error {
	if len(proxies) == 0 {
		return fmt.Errorf("no proxies configured")
	}

	parsed := make([]*url.URL, 0, len(proxies))
	for _, raw := range proxies {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid proxy url %q", raw)
		}
		parsed = append(parsed, u)
	}

	e.proxyMu.Lock()
	e.proxies = parsed
	e.proxyIndex = 0
	e.proxyMu.Unlock()

	e.transport.CloseIdleConnections()
	e.logger.Info().Int("proxies", len(parsed)).Msg("Proxy rotation enabled")
	return nil
}

// Run executes one job end to end. It always returns a result; errors are
// folded into the result's outcome so the pool never has to interpret them.
func (e *Executor) Run(ctx context.Context, job *models.FetchJob) *models.JobResult {
	if err := ValidateTargetURL(job.URL, job.Platform); err != nil {
		e.logger.Warn().
			Str("job_id", job.ID).
			Str("url", job.URL).
			Err(err).
			Msg("Target rejected before fetch")
		return &models.JobResult{
			JobID:   job.ID,
			Outcome: models.OutcomeInvalidTarget,
			Error:   err.Error(),
		}
	}

	// Injected body path, used by the classify API and tests. No network,
	// no pacing.
	if len(job.PrefetchedBody) > 0 {
		sample := &models.ResponseSample{
			URL:        job.URL,
			Platform:   job.Platform,
			StatusCode: http.StatusOK,
			Body:       string(job.PrefetchedBody),
		}
		return e.resolve(job, sample, 0)
	}

	if err := e.limiter.Wait(ctx, job.URL); err != nil {
		return &models.JobResult{
			JobID:   job.ID,
			Outcome: models.OutcomeTransientError,
			Error:   "cancelled while waiting for host rate limit: " + err.Error(),
		}
	}

	if delay := e.rotator.PreRequestDelay(); delay > 0 {
		select {
		case <-ctx.Done():
			return &models.JobResult{
				JobID:   job.ID,
				Outcome: models.OutcomeTransientError,
				Error:   ctx.Err().Error(),
			}
		case <-time.After(delay):
		}
	}

	maxAttempts := job.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = e.retry.MaxAttempts
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt < maxAttempts; attempt++ {
		sample, err := e.fetchOnce(ctx, job)
		if err == nil {
			result := e.resolve(job, sample, sample.Latency)
			// Blocking responses and successes both end the attempt loop;
			// only transient server faults are worth another try with a
			// fresh fingerprint.
			if result.Outcome != models.OutcomeTransientError || !e.retry.ShouldRetry(attempt+1, sample.StatusCode, nil) {
				return result
			}
			lastStatus = sample.StatusCode
			lastErr = errors.New(result.Error)
		} else {
			lastErr = err
			lastStatus = 0
			if !e.retry.ShouldRetry(attempt+1, 0, err) {
				break
			}
		}

		if attempt < maxAttempts-1 {
			if serr := e.retry.Sleep(ctx, e.logger, attempt, lastStatus, lastErr); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	e.logger.Warn().
		Str("job_id", job.ID).
		Str("url", job.URL).
		Err(lastErr).
		Msg("Fetch failed after all attempts")

	result := &models.JobResult{
		JobID:      job.ID,
		Outcome:    models.OutcomeTransientError,
		StatusCode: lastStatus,
	}
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

// fetchOnce performs a single HTTP attempt and packages the response for
// classification. Redirect chains are capped and surfaced on the sample so
// the classifier can recognize redirect loops.
func (e *Executor) fetchOnce(ctx context.Context, job *models.FetchJob) (*models.ResponseSample, error) {
	fp := e.rotator.Next()

	redirects := 0
	client := &http.Client{
		Transport: e.transport,
		Timeout:   e.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects = len(via)
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", fp.UserAgent)
	for k, v := range fp.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range job.HeaderOverrides {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBodySize))
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	headersUsed := map[string]string{"User-Agent": fp.UserAgent}
	for k, v := range fp.Headers {
		headersUsed[k] = v
	}

	return &models.ResponseSample{
		URL:         job.URL,
		Platform:    job.Platform,
		StatusCode:  resp.StatusCode,
		Body:        string(body),
		Latency:     latency,
		HeadersUsed: headersUsed,
		Redirects:   redirects,
	}, nil
}

// resolve classifies a response and turns it into the job's final result.
func (e *Executor) resolve(job *models.FetchJob, sample *models.ResponseSample, latency time.Duration) *models.JobResult {
	detection := e.classifier.Classify(sample)

	if detection.Blocked(e.blockThreshold) {
		e.logger.Warn().
			Str("job_id", job.ID).
			Str("url", job.URL).
			Str("detection_type", string(detection.Type)).
			Float64("confidence", detection.Confidence).
			Msg("Fetch blocked by anti-bot defense")
		return &models.JobResult{
			JobID:      job.ID,
			Outcome:    models.OutcomeBlocked,
			StatusCode: sample.StatusCode,
			Latency:    latency,
			Detection:  &detection,
		}
	}

	fields, err := ExtractFields(job.Platform, sample.Body)
	if err != nil {
		result := &models.JobResult{
			JobID:      job.ID,
			Outcome:    models.OutcomeTransientError,
			StatusCode: sample.StatusCode,
			Latency:    latency,
			Error:      err.Error(),
		}
		// Keep the low-confidence detection visible even when it did not
		// clear the blocking threshold.
		if detection.Type != models.DetectionNone {
			result.Detection = &detection
		}
		return result
	}

	e.logger.Debug().
		Str("job_id", job.ID).
		Str("url", job.URL).
		Int("status_code", sample.StatusCode).
		Int("fields", len(fields)).
		Msg("Fetch completed")

	return &models.JobResult{
		JobID:      job.ID,
		Success:    true,
		Outcome:    models.OutcomeSuccess,
		Fields:     fields,
		StatusCode: sample.StatusCode,
		Latency:    latency,
	}
}
