package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/voice-call-lab/internal/call"
	"github.com/voice-call-lab/internal/voice"
)

type InputMode string

const (
	InputConsole InputMode = "console"
	InputWeb     InputMode = "web"
)

type Config struct {
	LogLevel string

	// Front end that supplies speech input and renders the call.
	InputMode InputMode
	// Address for the web front end and MCP endpoint; empty disables both.
	HTTPListen     string
	MCPServiceName string

	Timings  call.Timings
	Greeting string
	Voice    voice.VoiceOptions

	// Optional YAML rule table; empty uses the built-in rules.
	RulesFile string

	// Optional external TTS service.
	TTSURL       string
	TTSAuthToken string
	TTSSaveDir   string
	TTSTimeout   time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

func LoadFromEnv() (Config, error) {
	var p envParser
	cfg := Config{
		LogLevel:       envOr("LOG_LEVEL", "info"),
		InputMode:      InputMode(strings.ToLower(envOr("INPUT_MODE", string(InputConsole)))),
		HTTPListen:     strings.TrimSpace(os.Getenv("HTTP_LISTEN")),
		MCPServiceName: envOr("MCP_SERVICE_NAME", "voice-call-lab"),
		Timings: call.Timings{
			ConnectDelay: p.envDurationOr("CALL_CONNECT_DELAY", call.DefaultTimings.ConnectDelay),
			ReplyDelay:   p.envDurationOr("CALL_REPLY_DELAY", call.DefaultTimings.ReplyDelay),
			ResetDelay:   p.envDurationOr("CALL_RESET_DELAY", call.DefaultTimings.ResetDelay),
			TickInterval: call.DefaultTimings.TickInterval,
		},
		Greeting: envOr("GREETING", call.DefaultGreeting),
		Voice: voice.VoiceOptions{
			Rate:   p.envFloat64Or("VOICE_RATE", voice.DefaultVoice.Rate),
			Pitch:  p.envFloat64Or("VOICE_PITCH", voice.DefaultVoice.Pitch),
			Volume: p.envFloat64Or("VOICE_VOLUME", voice.DefaultVoice.Volume),
		},
		RulesFile:    strings.TrimSpace(os.Getenv("RULES_FILE")),
		TTSURL:       strings.TrimSpace(os.Getenv("TTS_URL")),
		TTSAuthToken: os.Getenv("TTS_AUTH_TOKEN"),
		TTSSaveDir:   strings.TrimSpace(os.Getenv("TTS_SAVE_DIR")),
		TTSTimeout:   time.Duration(p.envIntOr("TTS_TIMEOUT_MS", 10000)) * time.Millisecond,
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}

	switch cfg.InputMode {
	case InputConsole:
	case InputWeb:
		if cfg.HTTPListen == "" {
			return Config{}, fmt.Errorf("HTTP_LISTEN is required when INPUT_MODE=web")
		}
	default:
		return Config{}, fmt.Errorf("INPUT_MODE must be %q or %q, got %q", InputConsole, InputWeb, cfg.InputMode)
	}
	if cfg.Voice.Rate <= 0 || cfg.Voice.Rate > 10 {
		return Config{}, fmt.Errorf("VOICE_RATE must be in (0, 10], got %v", cfg.Voice.Rate)
	}
	if cfg.Voice.Pitch < 0 || cfg.Voice.Pitch > 2 {
		return Config{}, fmt.Errorf("VOICE_PITCH must be in [0, 2], got %v", cfg.Voice.Pitch)
	}
	if cfg.Voice.Volume < 0 || cfg.Voice.Volume > 1 {
		return Config{}, fmt.Errorf("VOICE_VOLUME must be in [0, 1], got %v", cfg.Voice.Volume)
	}
	for name, d := range map[string]time.Duration{
		"CALL_CONNECT_DELAY": cfg.Timings.ConnectDelay,
		"CALL_REPLY_DELAY":   cfg.Timings.ReplyDelay,
		"CALL_RESET_DELAY":   cfg.Timings.ResetDelay,
	} {
		if d < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", name)
		}
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envParser collects malformed values so every bad key is reported at once.
type envParser struct {
	errs []error
}

func (p *envParser) fail(key, raw, want string) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: want %s", key, raw, want))
}

func (p *envParser) envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		p.fail(key, raw, "a positive integer")
		return def
	}
	return n
}

func (p *envParser) envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, "a number")
		return def
	}
	return f
}

// envDurationOr accepts Go durations ("1.5s") or bare milliseconds ("1500").
func (p *envParser) envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, "milliseconds or a duration like 1.5s")
		return def
	}
	return d
}
