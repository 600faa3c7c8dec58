package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voice-call-lab/internal/logging"
)

// cancelOnClose releases the per-attempt context once the caller is done
// with the response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// PostWithRetries posts JSON to url with exponential backoff between
// transport failures. Each attempt is bounded by timeout. The caller must
// close resp.Body.
func PostWithRetries(ctx context.Context, client *http.Client, url string, body []byte, authToken string, timeout time.Duration, attempts int, correlationID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		reqCtx, cancelReq := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			cancelReq()
			logging.Debugw("postWithRetries: new request error", "err", err, "correlation_id", correlationID)
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancelReq}
			return resp, nil
		}
		cancelReq()
		lastErr = err
		logging.Debugw("postWithRetries: POST attempt failed", "attempt", i+1, "err", err, "correlation_id", correlationID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("post %s failed after %d attempts: %w", url, attempts, lastErr)
}
