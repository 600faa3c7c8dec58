package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voice-call-lab/internal/logging"
)

type ttsRequest struct {
	Text   string  `json:"text"`
	Rate   float64 `json:"rate,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// HTTPSynthesizer speaks by posting text to an external TTS service. The
// returned audio is written to SaveDir when it is set. Cancel aborts every
// request still in flight.
type HTTPSynthesizer struct {
	URL       string
	AuthToken string
	Client    *http.Client
	SaveDir   string
	Timeout   time.Duration
	Attempts  int

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHTTPSynthesizer(url, authToken string) *HTTPSynthesizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPSynthesizer{
		URL:       url,
		AuthToken: authToken,
		Client:    &http.Client{},
		Timeout:   10 * time.Second,
		Attempts:  2,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (t *HTTPSynthesizer) Speak(text string, opts VoiceOptions) {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	cid := uuid.NewString()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if _, err := t.Synthesize(ctx, text, opts, cid); err != nil {
			if ctx.Err() != nil {
				logging.Debugw("tts: request cancelled", "correlation_id", cid)
				return
			}
			logging.Warnw("tts: synthesis failed", "err", err, "correlation_id", cid)
		}
	}()
}

func (t *HTTPSynthesizer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
	t.ctx, t.cancel = context.WithCancel(context.Background())
}

// Wait blocks until every Speak goroutine has finished.
func (t *HTTPSynthesizer) Wait() { t.wg.Wait() }

// Close cancels outstanding requests and waits for them to unwind.
func (t *HTTPSynthesizer) Close() error {
	t.Cancel()
	t.wg.Wait()
	return nil
}

// Synthesize posts text to the TTS service and returns the saved filename,
// or "" when SaveDir is unset.
func (t *HTTPSynthesizer) Synthesize(ctx context.Context, text string, opts VoiceOptions, correlationID string) (string, error) {
	if t == nil || t.URL == "" {
		return "", fmt.Errorf("tts client not configured")
	}
	body, err := json.Marshal(ttsRequest{Text: text, Rate: opts.Rate, Pitch: opts.Pitch, Volume: opts.Volume})
	if err != nil {
		return "", err
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	resp, err := PostWithRetries(ctx, t.Client, t.URL, body, t.AuthToken, timeout, t.Attempts, correlationID)
	if err != nil {
		logging.Debugw("tts: POST failed", "err", err, "correlation_id", correlationID)
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		logging.Warnw("tts: returned non-2xx", "status", resp.StatusCode, "correlation_id", correlationID)
		return "", fmt.Errorf("tts returned status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Debugw("tts: failed to read response body", "err", err, "correlation_id", correlationID)
		return "", err
	}
	if t.SaveDir == "" {
		logging.Debugw("tts: synthesized", "bytes", len(audio), "correlation_id", correlationID)
		return "", nil
	}
	ts := time.Now().UTC().Format("20060102T150405.000Z")
	fname := filepath.Join(t.SaveDir, fmt.Sprintf("%s_tts_cid%s.wav", ts, correlationID))
	if err := SaveFileAtomic(fname, audio, 0o644); err != nil {
		logging.Warnw("tts: failed to save wav atomically", "err", err, "path", fname, "correlation_id", correlationID)
		return "", err
	}
	logging.Infow("tts: saved audio to disk", "path", fname, "correlation_id", correlationID)
	return fname, nil
}
