package call

import (
	"fmt"
	"time"
)

// Speaker identifies who said a message.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Message is one committed line of the conversation.
type Message struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a copy of the session state handed to renderers.
type Snapshot struct {
	CallID    string    `json:"call_id,omitempty"`
	Status    Status    `json:"status"`
	Elapsed   int       `json:"elapsed"`
	Duration  string    `json:"duration"`
	Messages  []Message `json:"messages"`
	Interim   string    `json:"interim,omitempty"`
	Listening bool      `json:"listening"`
}

// FormatDuration renders seconds as zero-padded mm:ss. Minutes keep growing
// past 59; there is no hour field.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
