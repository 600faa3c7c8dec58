package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/voice-call-lab/internal/logging"
)

// LineRecognizer turns typed lines into recognition events. Each fed line
// produces growing interim results, one per word, followed by a final event.
// Lines fed while the recognizer is stopped are dropped.
type LineRecognizer struct {
	mu        sync.Mutex
	listening bool
	ch        chan Event
}

// NewLineRecognizer creates a recognizer whose event channel buffers up to
// buffer events.
func NewLineRecognizer(buffer int) *LineRecognizer {
	if buffer <= 0 {
		buffer = 64
	}
	return &LineRecognizer{ch: make(chan Event, buffer)}
}

func (r *LineRecognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	r.listening = true
	r.mu.Unlock()
	return nil
}

func (r *LineRecognizer) Stop() error {
	r.mu.Lock()
	r.listening = false
	r.mu.Unlock()
	return nil
}

func (r *LineRecognizer) Events() <-chan Event { return r.ch }

// Listening reports whether Start has been called without a later Stop.
func (r *LineRecognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Feed emits the events for one line and reports whether it was accepted.
func (r *LineRecognizer) Feed(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.listening {
		logging.Debugw("line recognizer: dropping input while stopped", "len", len(line))
		return false
	}
	for i := 1; i < len(words); i++ {
		r.emit(Event{Text: strings.Join(words[:i], " ")})
	}
	r.emit(Event{Text: strings.Join(words, " "), Final: true})
	return true
}

// Fail emits a recognition error event.
func (r *LineRecognizer) Fail(kind ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(Event{Err: kind})
}

func (r *LineRecognizer) emit(ev Event) {
	select {
	case r.ch <- ev:
	default:
		logging.Warnw("line recognizer: event buffer full, dropping event", "final", ev.Final)
	}
}
