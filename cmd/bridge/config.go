package main

import (
	"github.com/hubenschmidt/english-tutor-bridge/internal/env"
	"github.com/hubenschmidt/english-tutor-bridge/internal/smoother"
	"github.com/hubenschmidt/english-tutor-bridge/internal/ttsrt"
)

type config struct {
	port string

	openaiURL         string
	openaiAPIKey      string
	openaiSampleRate  int
	openaiTemperature float64

	geminiAPIKey     string
	geminiModel      string
	geminiSampleRate int

	elevenlabsWSBaseURL  string
	elevenlabsAPIKey     string
	elevenlabsVoiceID    string
	elevenlabsModelID    string
	elevenlabsOutputRate int

	enforcementEndpoint string
	enforcementAPIKey   string
	enforcementModel    string

	smootherCfg smoother.Config
}

func loadConfig() config {
	return config{
		port: env.Str("BRIDGE_PORT", "8000"),

		openaiURL:         env.Str("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview"),
		openaiAPIKey:      env.Str("OPENAI_API_KEY", ""),
		openaiSampleRate:  env.Int("OPENAI_REALTIME_SAMPLE_RATE", 24000),
		openaiTemperature: env.Float("OPENAI_REALTIME_TEMPERATURE", 0.8),

		geminiAPIKey:     env.Str("GEMINI_API_KEY", ""),
		geminiModel:      env.Str("GEMINI_LIVE_MODEL", "gemini-2.0-flash-live-001"),
		geminiSampleRate: env.Int("GEMINI_LIVE_SAMPLE_RATE", 16000),

		elevenlabsWSBaseURL:  env.Str("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io/v1/text-to-speech"),
		elevenlabsAPIKey:     env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID:    env.Str("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModelID:    env.Str("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		elevenlabsOutputRate: env.Int("ELEVENLABS_OUTPUT_RATE", 24000),

		enforcementEndpoint: env.Str("ENFORCEMENT_LLM_URL", "https://api.openai.com/v1/chat/completions"),
		enforcementAPIKey:   env.Str("ENFORCEMENT_LLM_API_KEY", ""),
		enforcementModel:    env.Str("ENFORCEMENT_LLM_MODEL", "gpt-4o-mini"),

		smootherCfg: smoother.Config{
			MinFlushMs: env.Int("SMOOTHER_MIN_FLUSH_MS", 100),
			MaxWaitMs:  env.Int("SMOOTHER_MAX_WAIT_MS", 100),
			HardCapMs:  env.Int("SMOOTHER_HARD_CAP_MS", 500),
		},
	}
}

func (c config) ttsConfig() ttsrt.Config {
	return ttsrt.Config{
		WSBaseURL:                c.elevenlabsWSBaseURL,
		APIKey:                   c.elevenlabsAPIKey,
		VoiceID:                  c.elevenlabsVoiceID,
		ModelID:                  c.elevenlabsModelID,
		OutputFormat:             "pcm_24000",
		ChunkLengthSchedule:      []int{50},
		OptimizeStreamingLatency: 4,
		VoiceSettings:            ttsrt.DefaultVoiceSettings,
		OutputRate:               c.elevenlabsOutputRate,
	}
}
