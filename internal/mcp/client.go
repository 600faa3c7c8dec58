package mcp

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-call-lab/internal/logging"
)

// ClientWrapper connects to a call server's MCP endpoint over websocket and
// manages the client session lifecycle.
type ClientWrapper struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

// NewClientWrapper creates a new wrapper with the given name/version.
func NewClientWrapper(name, version string) *ClientWrapper {
	return &ClientWrapper{client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil)}
}

// ConnectWebSocket dials rawurl (http(s) schemes are rewritten to ws(s)) and
// starts a session.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	sess, err := w.client.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return err
	}
	w.session = sess
	logging.Debugw("mcp: client connected", "url", u.String())
	return nil
}

// Connect starts a session over an arbitrary transport.
func (w *ClientWrapper) Connect(ctx context.Context, t sdk.Transport) error {
	sess, err := w.client.Connect(ctx, t, nil)
	if err != nil {
		return err
	}
	w.session = sess
	return nil
}

// CallTool invokes a tool and returns the text content of its result. A
// tool-level failure is returned as an error carrying that text.
func (w *ClientWrapper) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if w.session == nil {
		return "", errors.New("mcp client not connected")
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := w.session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return text, errors.New(text)
	}
	return text, nil
}

func (w *ClientWrapper) Close() error {
	if w.session != nil {
		return w.session.Close()
	}
	return nil
}
