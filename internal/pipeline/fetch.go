package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"epiviz-pipeline/internal/model"

	"golang.org/x/time/rate"
)

// ------------------- Source Fetcher -------------------

// ErrAllEndpointsExhausted means every endpoint of a source failed in order.
var ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")

// Fetcher tries each endpoint of a source in order, stopping at the
// first success. Every failure mode (network error, timeout, non-2xx
// status, invalid payload) is returned as a typed attempt, never a panic.
type Fetcher struct {
	Client  *http.Client
	Timeout time.Duration
	Limiter *rate.Limiter // shared across concurrent fetches; spaces requests toward the upstream host
}

// NewFetcher creates a fetcher with the given per-attempt timeout.
// requestsPerSecond <= 0 disables rate limiting.
func NewFetcher(timeout time.Duration, requestsPerSecond float64) *Fetcher {
	f := &Fetcher{
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
	if requestsPerSecond > 0 {
		f.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return f
}

// Fetch attempts each endpoint in order (primary before alternates).
// It returns the first successful attempt, or a failed attempt wrapping
// ErrAllEndpointsExhausted after every endpoint has been tried.
func (f *Fetcher) Fetch(ctx context.Context, src model.DataSource) model.FetchAttempt {
	var lastErr error
	for _, endpoint := range src.Endpoints {
		att := f.attempt(ctx, src, endpoint)
		if att.Success() {
			fmt.Printf("✅ Fetched %s: %d records from %s\n", src.Name, len(att.Records), endpoint)
			return att
		}
		fmt.Printf("⚠️ Endpoint failed for %s: %v\n", src.Name, att.Err)
		lastErr = att.Err
		if ctx.Err() != nil {
			break
		}
	}
	return model.FetchAttempt{
		FetchedAt: time.Now().UTC(),
		Err:       fmt.Errorf("%w for %s: last error: %v", ErrAllEndpointsExhausted, src.Name, lastErr),
	}
}

// attempt fetches a single endpoint with its own timeout.
func (f *Fetcher) attempt(ctx context.Context, src model.DataSource, endpoint string) model.FetchAttempt {
	fail := func(err error) model.FetchAttempt {
		return model.FetchAttempt{Endpoint: endpoint, FetchedAt: time.Now().UTC(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return fail(fmt.Errorf("rate limit wait cancelled for %s: %w", endpoint, err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to build request for %s: %w", endpoint, err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to GET %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("endpoint %s returned status %d", endpoint, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("failed to read body from %s: %w", endpoint, err))
	}

	records, err := parseRecords(body)
	if err != nil {
		return fail(fmt.Errorf("failed to decode payload from %s: %w", endpoint, err))
	}

	if src.Validate != nil {
		if err := src.Validate(records); err != nil {
			return fail(fmt.Errorf("validation failed for %s: %w", endpoint, err))
		}
	}

	return model.FetchAttempt{
		Endpoint:  endpoint,
		Payload:   body,
		Records:   records,
		FetchedAt: time.Now().UTC(),
	}
}

// parseRecords decodes a JSON payload into generic records. Both a JSON
// array of objects and a single object are accepted.
func parseRecords(body []byte) ([]model.GenericRecord, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	switch data := raw.(type) {
	case []interface{}:
		records := make([]model.GenericRecord, 0, len(data))
		for _, item := range data {
			if m, ok := item.(map[string]interface{}); ok {
				records = append(records, m)
			}
		}
		return records, nil
	case map[string]interface{}:
		return []model.GenericRecord{data}, nil
	default:
		return nil, fmt.Errorf("unexpected JSON structure")
	}
}
