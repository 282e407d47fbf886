package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxAttempts = 3

// doWithRetry sends the request built by newReq up to maxAttempts times.
// Transport errors and 5xx responses are retried; anything else is returned
// to the caller, whose job it is to close the body.
func doWithRetry(ctx context.Context, client *http.Client, logger *slog.Logger, backoff time.Duration, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		switch {
		case err != nil:
			lastErr = err
			logger.Warn("provider_request_failed", "url", req.URL.Path, "attempt", attempt, "error", err)
		case resp.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
			logger.Warn("provider_request_failed", "url", req.URL.Path, "attempt", attempt, "status", resp.StatusCode)
		default:
			return resp, nil
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}
