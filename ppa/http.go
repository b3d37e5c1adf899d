package ppa

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

var HTTPClient = &http.Client{
	Timeout: 5 * time.Minute,
}

// RetryBackoff is the first wait after a 429 without Retry-After. It doubles
// on every further attempt.
var RetryBackoff = 30 * time.Second

const userAgent = "ppa-submit"

// HTTPWithRetry issues a request, retrying up to three times while the server
// answers 429 or 503.
func HTTPWithRetry(ctx context.Context, url, method string) (*http.Response, error) {
	for attempt := range 3 {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		resp, err := HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			return resp, nil
		}
		resp.Body.Close()

		wait := RetryBackoff * time.Duration(1<<attempt)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				wait = time.Duration(min(secs, 3600)) * time.Second
			}
		}
		slog.Warn("Rate limited", "url", url, "status", resp.StatusCode, "retry_after", wait, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, errors.Newf("%s %s: still rate limited after 3 retries", method, url)
}
