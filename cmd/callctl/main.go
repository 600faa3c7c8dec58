// Command callctl drives a running call simulator through its MCP endpoint.
//
//	callctl -url http://localhost:8080/mcp/ws start
//	callctl say "I need to book an appointment"
//	callctl status
//	callctl end
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/mcp"
)

var commands = map[string]string{
	"start":  "start_call",
	"end":    "end_call",
	"say":    "say",
	"status": "call_status",
}

func main() {
	url := flag.String("url", envOr("CALLSIM_MCP_URL", "http://localhost:8080/mcp/ws"), "call simulator MCP websocket URL")
	timeout := flag.Duration("timeout", 10*time.Second, "overall request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] start|end|status|say <text>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logging.Init()
	defer logging.Sync()

	tool, args, err := parseCommand(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClientWrapper("callctl", "v0.1.0")
	if err := client.ConnectWebSocket(ctx, *url); err != nil {
		logging.FatalExitf("connect failed", "url", *url, "err", err)
	}
	defer client.Close()

	text, err := client.CallTool(ctx, tool, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		client.Close()
		logging.Sync()
		os.Exit(1)
	}
	fmt.Println(text)
}

// parseCommand maps CLI arguments to a tool name and its arguments.
func parseCommand(argv []string) (string, map[string]any, error) {
	if len(argv) == 0 {
		return "", nil, fmt.Errorf("missing command")
	}
	tool, ok := commands[argv[0]]
	if !ok {
		return "", nil, fmt.Errorf("unknown command %q", argv[0])
	}
	if tool != "say" {
		if len(argv) > 1 {
			return "", nil, fmt.Errorf("%s takes no arguments", argv[0])
		}
		return tool, nil, nil
	}
	text := strings.TrimSpace(strings.Join(argv[1:], " "))
	if text == "" {
		return "", nil, fmt.Errorf("say needs some text")
	}
	return tool, map[string]any{"text": text}, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
