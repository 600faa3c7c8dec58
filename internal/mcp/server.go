// Package mcp exposes the call controls as Model Context Protocol tools so an
// agent or test harness can place calls and speak as the caller.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-call-lab/internal/call"
	"github.com/voice-call-lab/internal/logging"
)

// Call is the subset of the controller the tools drive.
type Call interface {
	StartCall() error
	EndCall() error
	HandleUtterance(text string)
	Snapshot() call.Snapshot
}

type emptyArgs struct{}

type sayArgs struct {
	Text string `json:"text" jsonschema:"what the caller says, as a finished utterance"`
}

type messageOut struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// StatusOut is the structured result of every tool.
type StatusOut struct {
	CallID   string       `json:"call_id"`
	Status   string       `json:"status"`
	Duration string       `json:"duration"`
	Interim  string       `json:"interim"`
	Messages []messageOut `json:"messages"`
}

func statusOut(s call.Snapshot) StatusOut {
	out := StatusOut{
		CallID:   s.CallID,
		Status:   s.Status.String(),
		Duration: s.Duration,
		Interim:  s.Interim,
		Messages: make([]messageOut, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		out.Messages = append(out.Messages, messageOut{Speaker: string(m.Speaker), Text: m.Text})
	}
	return out
}

func summary(s call.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "call %s [%s]", s.Status, s.Duration)
	for _, m := range s.Messages {
		fmt.Fprintf(&b, "\n%s: %s", m.Speaker, m.Text)
	}
	return b.String()
}

func textResult(text string, isErr bool) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: text}},
		IsError: isErr,
	}
}

// NewServer builds an MCP server with the call tools registered.
func NewServer(name, version string, c Call) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: name, Version: version}, nil)

	action := func(tool string, fn func() error) sdk.ToolHandlerFor[emptyArgs, StatusOut] {
		return func(ctx context.Context, req *sdk.CallToolRequest, _ emptyArgs) (*sdk.CallToolResult, StatusOut, error) {
			if err := fn(); err != nil {
				logging.Debugw("mcp: tool rejected", "tool", tool, "err", err)
				snap := c.Snapshot()
				return textResult(err.Error(), true), statusOut(snap), nil
			}
			snap := c.Snapshot()
			return textResult(summary(snap), false), statusOut(snap), nil
		}
	}

	sdk.AddTool(server, &sdk.Tool{
		Name:        "start_call",
		Description: "Dial the agent. Only valid while the line is idle.",
	}, action("start_call", c.StartCall))

	sdk.AddTool(server, &sdk.Tool{
		Name:        "end_call",
		Description: "Hang up a connecting or active call.",
	}, action("end_call", c.EndCall))

	sdk.AddTool(server, &sdk.Tool{
		Name:        "say",
		Description: "Speak to the agent as the caller. The reply arrives after a short delay; poll call_status to read it.",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in sayArgs) (*sdk.CallToolResult, StatusOut, error) {
		snap := c.Snapshot()
		if snap.Status != call.StatusActive {
			return textResult(fmt.Sprintf("call is %s, not active", snap.Status), true), statusOut(snap), nil
		}
		if strings.TrimSpace(in.Text) == "" {
			return textResult("text is required", true), statusOut(snap), nil
		}
		c.HandleUtterance(in.Text)
		snap = c.Snapshot()
		return textResult(summary(snap), false), statusOut(snap), nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "call_status",
		Description: "Current call status, duration and transcript.",
	}, func(ctx context.Context, req *sdk.CallToolRequest, _ emptyArgs) (*sdk.CallToolResult, StatusOut, error) {
		snap := c.Snapshot()
		return textResult(summary(snap), false), statusOut(snap), nil
	})

	return server
}

// Handler serves MCP sessions over WebSocket, one session per connection.
func Handler(server *sdk.Server) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp: ws upgrade failed", "err", err)
			return
		}
		ss, err := server.Connect(context.Background(), NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("mcp: server connect error", "err", err)
			_ = conn.Close()
			return
		}
		logging.Infow("mcp: session started", "remote", r.RemoteAddr)
		if err := ss.Wait(); err != nil {
			logging.Debugw("mcp: session ended with error", "err", err)
			return
		}
		logging.Infow("mcp: session ended", "remote", r.RemoteAddr)
	})
}
