// Package web serves the browser front end of the call over a WebSocket.
// The browser runs the platform speech APIs; the hub relays its recognition
// results to the controller and its speech and state updates back.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voice-call-lab/internal/call"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/voice"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Actions are the call controls a browser may trigger.
type Actions interface {
	StartCall() error
	EndCall() error
}

// Inbound frames from the browser.
type inbound struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Final       bool   `json:"final,omitempty"`
	Error       string `json:"error,omitempty"`
	SpeechInput *bool  `json:"speech_input,omitempty"`
}

// Outbound frames to the browser.
type outbound struct {
	Type   string         `json:"type"`
	State  *call.Snapshot `json:"state,omitempty"`
	Text   string         `json:"text,omitempty"`
	Rate   float64        `json:"rate,omitempty"`
	Pitch  float64        `json:"pitch,omitempty"`
	Volume float64        `json:"volume,omitempty"`
	On     *bool          `json:"on,omitempty"`
}

type client struct {
	conn        *websocket.Conn
	send        chan []byte
	speechInput bool
}

// Hub is at once the call's Recognizer, Synthesizer and Renderer for every
// connected browser.
type Hub struct {
	upgrader websocket.Upgrader
	events   chan voice.Event

	mu        sync.Mutex
	clients   map[*client]struct{}
	actions   Actions
	lastState []byte
	listening bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		events:  make(chan voice.Event, 64),
		clients: make(map[*client]struct{}),
	}
}

// Bind sets the controller that start/end frames are forwarded to.
func (h *Hub) Bind(a Actions) {
	h.mu.Lock()
	h.actions = a
	h.mu.Unlock()
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Start asks browsers to begin recognition. It reports voice.ErrUnavailable
// when no connected browser has speech input.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	capable := false
	for c := range h.clients {
		if c.speechInput {
			capable = true
			break
		}
	}
	if !capable {
		return voice.ErrUnavailable
	}
	h.listening = true
	h.broadcastLocked(outbound{Type: "listen", On: boolPtr(true)})
	return nil
}

func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.listening {
		return nil
	}
	h.listening = false
	h.broadcastLocked(outbound{Type: "listen", On: boolPtr(false)})
	return nil
}

func (h *Hub) Events() <-chan voice.Event { return h.events }

func (h *Hub) Speak(text string, opts voice.VoiceOptions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(outbound{Type: "speak", Text: text, Rate: opts.Rate, Pitch: opts.Pitch, Volume: opts.Volume})
}

func (h *Hub) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(outbound{Type: "cancel"})
}

// Render broadcasts the snapshot and keeps it for browsers that connect later.
func (h *Hub) Render(s call.Snapshot) {
	b, err := json.Marshal(outbound{Type: "state", State: &s})
	if err != nil {
		logging.Warnw("web: failed to encode state", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastState = b
	h.sendAllLocked(b)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("web: websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), speechInput: true}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.lastState != nil {
		c.send <- h.lastState
	}
	if h.listening {
		// Recognition was requested before this browser joined.
		c.send <- listenOnFrame
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Infow("web: client connected", "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debugw("web: read error", "err", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Debugw("web: ignoring malformed frame", "err", err)
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Hub) dispatch(c *client, msg inbound) {
	switch msg.Type {
	case "hello":
		if msg.SpeechInput != nil {
			h.mu.Lock()
			c.speechInput = *msg.SpeechInput
			h.mu.Unlock()
		}
	case "start", "end":
		h.mu.Lock()
		a := h.actions
		h.mu.Unlock()
		if a == nil {
			return
		}
		var err error
		if msg.Type == "start" {
			err = a.StartCall()
		} else {
			err = a.EndCall()
		}
		if err != nil {
			logging.Debugw("web: call action rejected", "action", msg.Type, "err", err)
		}
	case "transcript":
		h.mu.Lock()
		listening := h.listening
		h.mu.Unlock()
		if !listening {
			return
		}
		h.push(voice.Event{Text: msg.Text, Final: msg.Final})
	case "recognition_error":
		h.push(voice.Event{Err: voice.ErrorKind(msg.Error)})
	default:
		logging.Debugw("web: unknown frame type", "type", msg.Type)
	}
}

func (h *Hub) push(ev voice.Event) {
	select {
	case h.events <- ev:
	default:
		logging.Warnw("web: recognition event buffer full, dropping event", "final", ev.Final)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	logging.Infow("web: client disconnected", "clients", len(h.clients))
}

func (h *Hub) broadcastLocked(msg outbound) {
	b, err := json.Marshal(msg)
	if err != nil {
		logging.Warnw("web: failed to encode frame", "type", msg.Type, "err", err)
		return
	}
	h.sendAllLocked(b)
}

// sendAllLocked never blocks; a browser that falls behind is disconnected.
func (h *Hub) sendAllLocked(b []byte) {
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			logging.Warnw("web: client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

var listenOnFrame = mustMarshal(outbound{Type: "listen", On: boolPtr(true)})

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
