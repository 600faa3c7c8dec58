package web

import (
	"context"
	"io"
	"net/http"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voice-call-lab/internal/call"
	"github.com/voice-call-lab/internal/voice"
)

type recordActions struct {
	mu     sync.Mutex
	starts int
	ends   int
}

func (r *recordActions) StartCall() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return nil
}

func (r *recordActions) EndCall() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	return nil
}

func (r *recordActions) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.ends
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(outbound) bool) outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubForwardsActionsAndTranscripts(t *testing.T) {
	hub := NewHub()
	actions := &recordActions{}
	hub.Bind(actions)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })

	_ = conn.WriteJSON(map[string]any{"type": "start"})
	_ = conn.WriteJSON(map[string]any{"type": "end"})
	waitFor(t, "actions", func() bool { s, e := actions.counts(); return s == 1 && e == 1 })

	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	msg := readUntil(t, conn, func(m outbound) bool { return m.Type == "listen" })
	if msg.On == nil || !*msg.On {
		t.Fatalf("expected listen on, got %+v", msg)
	}
	_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "hello th"})
	_ = conn.WriteJSON(map[string]any{"type": "recognition_error", "error": "no-speech"})
	_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "hello there", "final": true})

	var got []voice.Event
	for len(got) < 3 {
		select {
		case ev := <-hub.Events():
			got = append(got, ev)
		case <-time.After(3 * time.Second):
			t.Fatalf("events not delivered, got %+v", got)
		}
	}
	if got[0].Text != "hello th" || got[0].Final {
		t.Fatalf("unexpected interim %+v", got[0])
	}
	if got[1].Err != voice.ErrorNoSpeech {
		t.Fatalf("unexpected error event %+v", got[1])
	}
	if got[2].Text != "hello there" || !got[2].Final {
		t.Fatalf("unexpected final %+v", got[2])
	}

	hub.Speak("welcome", voice.VoiceOptions{Rate: 0.9, Pitch: 1, Volume: 0.8})
	speak := readUntil(t, conn, func(m outbound) bool { return m.Type == "speak" })
	if speak.Text != "welcome" || speak.Rate != 0.9 || speak.Volume != 0.8 {
		t.Fatalf("unexpected speak frame %+v", speak)
	}
	hub.Cancel()
	readUntil(t, conn, func(m outbound) bool { return m.Type == "cancel" })
	_ = hub.Stop()
	off := readUntil(t, conn, func(m outbound) bool { return m.Type == "listen" })
	if off.On == nil || *off.On {
		t.Fatalf("expected listen off, got %+v", off)
	}
}

func TestHubDropsTranscriptsWhileNotListening(t *testing.T) {
	hub := NewHub()
	hub.dispatch(&client{speechInput: true}, inbound{Type: "transcript", Text: "too early", Final: true})
	select {
	case ev := <-hub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
	hub.dispatch(&client{}, inbound{Type: "recognition_error", Error: "aborted"})
	select {
	case ev := <-hub.Events():
		if ev.Err != voice.ErrorAborted {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("recognition errors should always be forwarded")
	}
}

func TestHubStartUnavailableWithoutSpeechInput(t *testing.T) {
	hub := NewHub()
	if err := hub.Start(context.Background()); !errors.Is(err, voice.ErrUnavailable) {
		t.Fatalf("Start without clients err=%v", err)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })

	_ = conn.WriteJSON(map[string]any{"type": "hello", "speech_input": false})
	waitFor(t, "hello processed", func() bool {
		return errors.Is(hub.Start(context.Background()), voice.ErrUnavailable)
	})
}

func TestHubDrivesController(t *testing.T) {
	hub := NewHub()
	ctrl := call.New(call.Options{
		Timings:     call.Timings{ConnectDelay: time.Millisecond, ReplyDelay: time.Millisecond, ResetDelay: time.Hour, TickInterval: time.Hour},
		Greeting:    "Connected.",
		Recognizer:  hub,
		Synthesizer: hub,
		Renderers:   []call.Renderer{hub},
	})
	defer ctrl.Close()
	hub.Bind(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })

	_ = conn.WriteJSON(map[string]any{"type": "start"})
	readUntil(t, conn, func(m outbound) bool { return m.Type == "listen" && m.On != nil && *m.On })
	_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "Hi there", "final": true})

	want := "Hello! It's great to hear from you. What can I assist you with?"
	readUntil(t, conn, func(m outbound) bool { return m.Type == "speak" && m.Text == want })
	state := readUntil(t, conn, func(m outbound) bool {
		return m.Type == "state" && m.State != nil && len(m.State.Messages) == 3
	})
	if state.State.Messages[1].Text != "Hi there" || state.State.Duration != "00:00" {
		t.Fatalf("unexpected state %+v", state.State)
	}

	_ = conn.WriteJSON(map[string]any{"type": "end"})
	readUntil(t, conn, func(m outbound) bool { return m.Type == "cancel" })
	waitFor(t, "call ended", func() bool { return ctrl.Status() == call.StatusEnded })
}

func TestLateClientLearnsListeningState(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	first := dial(t, srv)
	defer first.Close()
	waitFor(t, "client registration", func() bool { return hub.Clients() == 1 })
	hub.Render(call.Snapshot{Status: call.StatusActive, Duration: "00:03"})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	late := dial(t, srv)
	defer late.Close()
	state := readUntil(t, late, func(m outbound) bool { return m.Type == "state" })
	if state.State.Status != call.StatusActive {
		t.Fatalf("late client got state %+v", state.State)
	}
	on := readUntil(t, late, func(m outbound) bool { return m.Type == "listen" })
	if on.On == nil || !*on.On {
		t.Fatalf("late client expected listen on, got %+v", on)
	}
}

func TestPageServesFrontEnd(t *testing.T) {
	srv := httptest.NewServer(Page())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("status=%d content-type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), `"/ws"`) {
		t.Fatalf("page does not connect to the hub")
	}
	resp, err = http.Get(srv.URL + "/missing")
	if err != nil {
		t.Fatalf("GET /missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}
}
