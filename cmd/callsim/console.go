package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/voice-call-lab/internal/call"
	"github.com/voice-call-lab/internal/voice"
)

const consoleHelp = `commands:
  /call     place a call
  /hangup   end the call
  /status   show status and duration
  /quit     exit
anything else is spoken to the agent while the call is active`

// console is the subset of the controller the terminal front end drives.
type console interface {
	StartCall() error
	EndCall() error
	Snapshot() call.Snapshot
}

// runConsole reads commands and speech lines from in until EOF, /quit or
// ctx cancellation.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, ctrl console, rec *voice.LineRecognizer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	fmt.Fprintln(out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if quit := handleLine(strings.TrimSpace(line), out, ctrl, rec); quit {
				return nil
			}
		}
	}
}

func handleLine(line string, out io.Writer, ctrl console, rec *voice.LineRecognizer) bool {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, consoleHelp)
	case "/call":
		if err := ctrl.StartCall(); err != nil {
			reportRejected(out, "call", err)
		}
	case "/hangup":
		if err := ctrl.EndCall(); err != nil {
			reportRejected(out, "hang up", err)
		}
	case "/status":
		s := ctrl.Snapshot()
		fmt.Fprintf(out, "status=%s duration=%s messages=%d listening=%v\n", s.Status, s.Duration, len(s.Messages), s.Listening)
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "unknown command %s (try /help)\n", line)
			return false
		}
		if !rec.Feed(line) {
			fmt.Fprintln(out, "(not listening; /call first)")
		}
	}
	return false
}

func reportRejected(out io.Writer, action string, err error) {
	if errors.Is(err, call.ErrInvalidTransition) {
		fmt.Fprintf(out, "cannot %s right now: %v\n", action, err)
		return
	}
	fmt.Fprintf(out, "%s failed: %v\n", action, err)
}
