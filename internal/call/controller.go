// Package call implements the simulated phone call session: status
// lifecycle, transcript, timers and reply scheduling.
package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/rules"
	"github.com/voice-call-lab/internal/voice"
)

// DefaultGreeting is spoken when a call connects.
const DefaultGreeting = "Hello! Thank you for calling. I'm your virtual assistant. How can I help you today?"

// Timings are the simulated latencies of the call.
type Timings struct {
	ConnectDelay time.Duration // connecting -> active
	ReplyDelay   time.Duration // user utterance -> agent reply
	ResetDelay   time.Duration // ended -> idle
	TickInterval time.Duration // duration counter resolution
}

// DefaultTimings mirror the pacing of a short demo call.
var DefaultTimings = Timings{
	ConnectDelay: 2 * time.Second,
	ReplyDelay:   time.Second,
	ResetDelay:   2 * time.Second,
	TickInterval: time.Second,
}

// Renderer receives a snapshot after every state change. Render is called
// with the controller lock held and must not call back into the controller.
type Renderer interface {
	Render(Snapshot)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(Snapshot)

func (f RenderFunc) Render(s Snapshot) { f(s) }

// Options wires a Controller. Zero values fall back to defaults: no speech
// input, silent output, the built-in rule table and the wall clock.
type Options struct {
	Timings     Timings
	Voice       voice.VoiceOptions
	Greeting    string
	Recognizer  voice.Recognizer
	Synthesizer voice.Synthesizer
	Matcher     *rules.Matcher
	Renderers   []Renderer
	Clock       Clock
}

// Controller owns the single call session. All handlers run to completion
// under mu, so timer callbacks and recognition events never interleave.
type Controller struct {
	timings   Timings
	voiceOpts voice.VoiceOptions
	greeting  string
	rec       voice.Recognizer
	syn       voice.Synthesizer
	matcher   *rules.Matcher
	renderers []Renderer
	clock     Clock

	mu        sync.Mutex
	status    Status
	callID    string
	elapsed   int
	messages  []Message
	interim   string
	listening bool
	// gen changes on every start and end; timer callbacks carrying an older
	// value are stale and do nothing.
	gen     uint64
	connect Timer
	tick    Timer
	reset   Timer
	// replies are pending agent replies in utterance order.
	replies []*pendingReply
}

// pendingReply is a reply waiting out ReplyDelay. timer is written and read
// only under the controller lock.
type pendingReply struct {
	gen   uint64
	text  string
	timer Timer
}

// New builds an idle Controller.
func New(opts Options) *Controller {
	c := &Controller{
		timings:   opts.Timings,
		voiceOpts: opts.Voice,
		greeting:  opts.Greeting,
		rec:       opts.Recognizer,
		syn:       opts.Synthesizer,
		matcher:   opts.Matcher,
		renderers: opts.Renderers,
		clock:     opts.Clock,
	}
	if c.timings == (Timings{}) {
		c.timings = DefaultTimings
	}
	if c.timings.TickInterval <= 0 {
		c.timings.TickInterval = time.Second
	}
	if c.voiceOpts == (voice.VoiceOptions{}) {
		c.voiceOpts = voice.DefaultVoice
	}
	if c.greeting == "" {
		c.greeting = DefaultGreeting
	}
	if c.rec == nil {
		c.rec = voice.NewUnavailable()
	}
	if c.syn == nil {
		c.syn = voice.NoopSynthesizer{}
	}
	if c.matcher == nil {
		c.matcher = rules.Default()
	}
	if c.clock == nil {
		c.clock = WallClock()
	}
	return c
}

// AddRenderer registers another renderer.
func (c *Controller) AddRenderer(r Renderer) {
	c.mu.Lock()
	c.renderers = append(c.renderers, r)
	c.mu.Unlock()
}

// Status returns the current call status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// MatchReply returns the canned reply for text at the current clock time.
func (c *Controller) MatchReply(text string) string {
	return c.matcher.Reply(text, c.clock.Now())
}

// StartCall moves idle -> connecting and schedules the connection.
func (c *Controller) StartCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StatusConnecting); err != nil {
		return err
	}
	c.stopLocked(&c.reset)
	c.gen++
	c.callID = uuid.NewString()
	c.elapsed = 0
	c.messages = nil
	c.interim = ""
	gen := c.gen
	c.connect = c.clock.AfterFunc(c.timings.ConnectDelay, func() { c.onConnected(gen) })
	logging.Infow("call: connecting", c.logFieldsLocked()...)
	c.renderLocked()
	return nil
}

// EndCall hangs up from connecting or active. Stopping the recognizer and
// cancelling speech are safe even if they are already stopped.
func (c *Controller) EndCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StatusEnded); err != nil {
		return err
	}
	c.gen++
	c.stopLocked(&c.connect)
	c.stopLocked(&c.tick)
	for _, pr := range c.replies {
		c.stopLocked(&pr.timer)
	}
	c.replies = nil
	if c.listening {
		if err := c.rec.Stop(); err != nil {
			logging.Warnw("call: stopping recognizer failed", append(c.logFieldsLocked(), "err", err)...)
		}
		c.listening = false
	}
	c.syn.Cancel()
	c.interim = ""
	gen := c.gen
	c.reset = c.clock.AfterFunc(c.timings.ResetDelay, func() { c.onReset(gen) })
	logging.Infow("call: ended", append(c.logFieldsLocked(), "duration", FormatDuration(c.elapsed), "messages", len(c.messages))...)
	c.renderLocked()
	return nil
}

// HandleInterim replaces the in-progress transcript while the call is active.
func (c *Controller) HandleInterim(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusActive || text == c.interim {
		return
	}
	c.interim = text
	c.renderLocked()
}

// HandleUtterance commits a final utterance from the caller and schedules
// the agent's reply. Blank text, or text arriving outside an active call,
// is ignored.
func (c *Controller) HandleUtterance(text string) {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusActive {
		logging.Debugw("call: ignoring utterance outside active call", c.logFieldsLocked()...)
		return
	}
	if text == "" {
		return
	}
	c.appendLocked(SpeakerUser, text)
	c.interim = ""
	pr := &pendingReply{gen: c.gen, text: text}
	c.replies = append(c.replies, pr)
	pr.timer = c.clock.AfterFunc(c.timings.ReplyDelay, func() { c.onReply(pr) })
	c.renderLocked()
}

// Run delivers recognizer events to the controller in arrival order until
// ctx is done or the event channel closes.
func (c *Controller) Run(ctx context.Context) error {
	events := c.rec.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handleEvent(ev)
		}
	}
}

// Close hangs up any call in progress and stops the reset timer.
func (c *Controller) Close() error {
	if err := c.EndCall(); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	c.mu.Lock()
	c.gen++
	c.stopLocked(&c.reset)
	c.mu.Unlock()
	return nil
}

func (c *Controller) handleEvent(ev voice.Event) {
	switch {
	case ev.Err != voice.ErrorNone:
		c.mu.Lock()
		logging.Warnw("call: recognition error", append(c.logFieldsLocked(), "kind", string(ev.Err))...)
		c.mu.Unlock()
	case ev.Final:
		c.HandleUtterance(ev.Text)
	default:
		c.HandleInterim(ev.Text)
	}
}

func (c *Controller) onConnected(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != StatusConnecting {
		return
	}
	c.connect = nil
	if err := c.transitionLocked(StatusActive); err != nil {
		return
	}
	c.scheduleTickLocked(gen)
	c.appendLocked(SpeakerAgent, c.greeting)
	c.syn.Speak(c.greeting, c.voiceOpts)
	if err := c.rec.Start(context.Background()); err != nil {
		// No speech input: the call goes on without it.
		logging.Warnw("call: speech input unavailable", append(c.logFieldsLocked(), "err", err)...)
	} else {
		c.listening = true
	}
	logging.Infow("call: active", append(c.logFieldsLocked(), "listening", c.listening)...)
	c.renderLocked()
}

func (c *Controller) scheduleTickLocked(gen uint64) {
	c.tick = c.clock.AfterFunc(c.timings.TickInterval, func() { c.onTick(gen) })
}

func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != StatusActive {
		return
	}
	c.elapsed++
	c.scheduleTickLocked(gen)
	c.renderLocked()
}

// onReply answers every queued utterance up to and including pr. All replies
// share one delay, so the ones queued ahead of pr are due as well.
func (c *Controller) onReply(pr *pendingReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pr.gen != c.gen || c.status != StatusActive {
		return
	}
	n := -1
	for i, q := range c.replies {
		if q == pr {
			n = i
			break
		}
	}
	if n < 0 {
		// Answered by a timer that won the lock first.
		return
	}
	due := c.replies[:n+1]
	c.replies = append([]*pendingReply(nil), c.replies[n+1:]...)
	now := c.clock.Now()
	for _, q := range due {
		c.stopLocked(&q.timer)
		m := c.matcher.Match(q.text, now)
		c.appendLocked(SpeakerAgent, m.Reply)
		c.syn.Speak(m.Reply, c.voiceOpts)
		logging.Debugw("call: replied", append(c.logFieldsLocked(), "rule", m.Rule)...)
	}
	c.renderLocked()
}

func (c *Controller) onReset(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.status != StatusEnded {
		return
	}
	c.reset = nil
	if err := c.transitionLocked(StatusIdle); err != nil {
		return
	}
	c.interim = ""
	logging.Debugw("call: reset to idle", c.logFieldsLocked()...)
	c.renderLocked()
}

func (c *Controller) transitionLocked(to Status) error {
	if !c.status.CanTransition(to) {
		return transitionError(c.status, to)
	}
	c.status = to
	return nil
}

func (c *Controller) stopLocked(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) appendLocked(sp Speaker, text string) {
	c.messages = append(c.messages, Message{
		ID:        uuid.NewString(),
		Speaker:   sp,
		Text:      text,
		Timestamp: c.clock.Now(),
	})
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		CallID:    c.callID,
		Status:    c.status,
		Elapsed:   c.elapsed,
		Duration:  FormatDuration(c.elapsed),
		Messages:  msgs,
		Interim:   c.interim,
		Listening: c.listening,
	}
}

func (c *Controller) renderLocked() {
	if len(c.renderers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, r := range c.renderers {
		r.Render(snap)
	}
}

func (c *Controller) logFieldsLocked() []interface{} {
	return logging.CallFields(c.callID, c.status.String())
}
