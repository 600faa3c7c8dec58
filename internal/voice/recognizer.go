package voice

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Recognizer.Start when the platform has no
// speech input. Callers degrade to a call without voice input.
var ErrUnavailable = errors.New("speech recognition unavailable")

// ErrorKind classifies non-fatal recognition errors.
type ErrorKind string

const (
	ErrorNone     ErrorKind = ""
	ErrorNetwork  ErrorKind = "network"
	ErrorNoMatch  ErrorKind = "no-match"
	ErrorNoSpeech ErrorKind = "no-speech"
	ErrorAborted  ErrorKind = "aborted"
)

// Event is a single notification from a Recognizer. Err is set for error
// events, in which case Text is empty.
type Event struct {
	Text  string
	Final bool
	Err   ErrorKind
}

// Recognizer is the speech input capability.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan Event
}

// Unavailable is a Recognizer for platforms without speech input.
type Unavailable struct {
	ch chan Event
}

func NewUnavailable() *Unavailable { return &Unavailable{ch: make(chan Event)} }

func (u *Unavailable) Start(ctx context.Context) error { return ErrUnavailable }
func (u *Unavailable) Stop() error                     { return nil }
func (u *Unavailable) Events() <-chan Event            { return u.ch }
