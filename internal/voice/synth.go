package voice

import (
	"fmt"
	"io"
	"sync"
)

// VoiceOptions are the prosody settings passed with every utterance.
type VoiceOptions struct {
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// DefaultVoice matches the neutral settings of common speech engines.
var DefaultVoice = VoiceOptions{Rate: 1, Pitch: 1, Volume: 1}

// Synthesizer is the speech output capability. Speak is fire-and-forget and
// must not block; Cancel drops anything queued or playing.
type Synthesizer interface {
	Speak(text string, opts VoiceOptions)
	Cancel()
}

// NoopSynthesizer discards all speech.
type NoopSynthesizer struct{}

func (NoopSynthesizer) Speak(text string, opts VoiceOptions) {}
func (NoopSynthesizer) Cancel()                              {}

// ConsoleSynthesizer "speaks" by writing a line to W.
type ConsoleSynthesizer struct {
	mu sync.Mutex
	W  io.Writer
}

func NewConsoleSynthesizer(w io.Writer) *ConsoleSynthesizer {
	return &ConsoleSynthesizer{W: w}
}

func (c *ConsoleSynthesizer) Speak(text string, opts VoiceOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.W, "  (speaking rate=%.2f pitch=%.2f volume=%.2f) %s\n", opts.Rate, opts.Pitch, opts.Volume, text)
}

func (c *ConsoleSynthesizer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.W, "  (speech cancelled)")
}

// Multi fans speech out to several synthesizers.
type Multi []Synthesizer

func (m Multi) Speak(text string, opts VoiceOptions) {
	for _, s := range m {
		s.Speak(text, opts)
	}
}

func (m Multi) Cancel() {
	for _, s := range m {
		s.Cancel()
	}
}
