package call

import (
	"fmt"
	"io"
	"sync"
)

// ConsoleRenderer prints status changes, committed messages and the interim
// transcript as a scrolling log.
type ConsoleRenderer struct {
	mu         sync.Mutex
	w          io.Writer
	callID     string
	status     Status
	seen       int
	interim    string
	hasPrinted bool
}

func NewConsoleRenderer(w io.Writer) *ConsoleRenderer {
	return &ConsoleRenderer{w: w}
}

func (r *ConsoleRenderer) Render(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CallID != r.callID {
		r.callID = s.CallID
		r.seen = 0
		r.interim = ""
	}
	if !r.hasPrinted || s.Status != r.status {
		r.hasPrinted = true
		r.status = s.Status
		fmt.Fprintf(r.w, "[%s] call %s\n", s.Duration, s.Status)
	}
	for ; r.seen < len(s.Messages); r.seen++ {
		m := s.Messages[r.seen]
		fmt.Fprintf(r.w, "[%s] %s: %s\n", s.Duration, speakerLabel(m.Speaker), m.Text)
	}
	if s.Interim != r.interim {
		r.interim = s.Interim
		if s.Interim != "" {
			fmt.Fprintf(r.w, "        ... %s\n", s.Interim)
		}
	}
}

func speakerLabel(sp Speaker) string {
	if sp == SpeakerUser {
		return "you"
	}
	return "agent"
}
