package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/english-tutor-bridge/internal/bridge"
	"github.com/hubenschmidt/english-tutor-bridge/internal/enforce"
	"github.com/hubenschmidt/english-tutor-bridge/internal/llmrt"
	"github.com/hubenschmidt/english-tutor-bridge/internal/router"
	"github.com/hubenschmidt/english-tutor-bridge/internal/ttsrt"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	enforcer := enforce.New(cfg.enforcementEndpoint, cfg.enforcementAPIKey, cfg.enforcementModel)

	openaiDeps := bridge.Deps{
		NewLLMClient: func() llmrt.Client {
			return llmrt.NewOpenAI(llmrt.OpenAIConfig{
				URL:         cfg.openaiURL,
				APIKey:      cfg.openaiAPIKey,
				SampleRate:  cfg.openaiSampleRate,
				Temperature: cfg.openaiTemperature,
			})
		},
		LLMRate: cfg.openaiSampleRate,
		NewTTSClient: func() *ttsrt.Client {
			return ttsrt.New(cfg.ttsConfig())
		},
		TTSRate:     cfg.elevenlabsOutputRate,
		Enforcer:    enforcer,
		SmootherCfg: cfg.smootherCfg,
	}

	geminiDeps := bridge.Deps{
		NewLLMClient: func() llmrt.Client {
			return llmrt.NewGemini(llmrt.GeminiConfig{
				APIKey:     cfg.geminiAPIKey,
				Model:      cfg.geminiModel,
				SampleRate: cfg.geminiSampleRate,
			})
		},
		LLMRate: cfg.geminiSampleRate,
		NewTTSClient: func() *ttsrt.Client {
			return ttsrt.New(cfg.ttsConfig())
		},
		TTSRate:     cfg.elevenlabsOutputRate,
		Enforcer:    enforcer,
		SmootherCfg: cfg.smootherCfg,
	}

	engines := router.NewRouter(map[string]http.Handler{
		"openai": bridge.NewHandler(openaiDeps),
		"gemini": bridge.NewHandler(geminiDeps),
	}, "openai")

	mux := http.NewServeMux()
	registerRoutes(mux, deps{engines: engines})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv)

	slog.Info("bridge starting", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("bridge stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then shuts the server down:
// it stops accepting new connections and waits up to 30s for active HTTP
// requests to finish. http.Server.Shutdown does not wait for hijacked
// connections, so open WebSocket sessions are not drained.
func awaitShutdown(srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.Shutdown(ctx)
}
