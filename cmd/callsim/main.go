package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voice-call-lab/internal/call"
	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/mcp"
	"github.com/voice-call-lab/internal/rules"
	"github.com/voice-call-lab/internal/voice"
	"github.com/voice-call-lab/internal/web"
)

const version = "v0.1.0"

func main() {
	cfg, err := config.Load()
	// LOG_LEVEL may come from .env, so build the logger after Load.
	logging.Init()
	defer logging.Sync()
	if err != nil {
		logging.FatalExitf("invalid configuration", "err", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	matcher, err := rules.Load(cfg.RulesFile)
	if err != nil {
		logging.FatalExitf("failed to load rules", "path", cfg.RulesFile, "err", err)
	}
	logging.Infow("loaded reply rules", "rules", matcher.Names(), "path", cfg.RulesFile)

	var (
		synths    voice.Multi
		renderers []call.Renderer
		rec       voice.Recognizer
		lineRec   *voice.LineRecognizer
		hub       *web.Hub
		tts       *voice.HTTPSynthesizer
	)

	if cfg.TTSURL != "" {
		tts = voice.NewHTTPSynthesizer(cfg.TTSURL, cfg.TTSAuthToken)
		tts.SaveDir = cfg.TTSSaveDir
		tts.Timeout = cfg.TTSTimeout
		synths = append(synths, tts)
		logging.Infow("tts service configured", "url", cfg.TTSURL, "save_dir", cfg.TTSSaveDir)
	}

	switch cfg.InputMode {
	case config.InputWeb:
		hub = web.NewHub()
		rec = hub
		synths = append(synths, hub)
		renderers = append(renderers, hub)
	default:
		lineRec = voice.NewLineRecognizer(0)
		rec = lineRec
		synths = append(synths, voice.NewConsoleSynthesizer(os.Stdout))
		renderers = append(renderers, call.NewConsoleRenderer(os.Stdout))
	}

	ctrl := call.New(call.Options{
		Timings:     cfg.Timings,
		Voice:       cfg.Voice,
		Greeting:    cfg.Greeting,
		Recognizer:  rec,
		Synthesizer: synths,
		Matcher:     matcher,
		Renderers:   renderers,
	})
	if hub != nil {
		hub.Bind(ctrl)
	}

	go func() {
		if err := ctrl.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warnw("recognition loop stopped", "err", err)
		}
	}()

	var srv *http.Server
	if cfg.HTTPListen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		})
		mux.Handle("/mcp/ws", mcp.Handler(mcp.NewServer(cfg.MCPServiceName, version, ctrl)))
		if hub != nil {
			mux.Handle("/ws", hub)
			mux.Handle("/", web.Page())
		}
		srv = &http.Server{Addr: cfg.HTTPListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logging.Infow("http listening", "addr", cfg.HTTPListen, "web", hub != nil)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.FatalExitf("http server failed", "err", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	consoleDone := make(chan error, 1)
	if lineRec != nil {
		go func() { consoleDone <- runConsole(rootCtx, os.Stdin, os.Stdout, ctrl, lineRec) }()
	}

	select {
	case <-stop:
		logging.Infow("shutdown signal received")
	case err := <-consoleDone:
		if err != nil {
			logging.Warnw("console input error", "err", err)
		}
	}
	rootCancel()

	done := make(chan struct{})
	go func() {
		if err := ctrl.Close(); err != nil {
			logging.Warnw("controller close error", "err", err)
		}
		if tts != nil {
			_ = tts.Close()
		}
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Warnw("http shutdown error", "err", err)
			}
			cancel()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logging.Warnw("shutdown timed out after 10s; forcing exit")
	}
}
