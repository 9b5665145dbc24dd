// Package ttsrt implements the TTS Upstream Client: a single WebSocket to
// a streaming TTS endpoint that accepts incremental text and emits
// base64-encoded PCM audio chunks.
package ttsrt

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/english-tutor-bridge/internal/metrics"
)

// VoiceSettings mirrors the stability/expressiveness knobs the wire
// contract carries in the init frame.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

// DefaultVoiceSettings matches the tutor persona's tuned defaults.
var DefaultVoiceSettings = VoiceSettings{
	Stability:       0.7,
	SimilarityBoost: 0.8,
	Style:           0.0,
	UseSpeakerBoost: true,
	Speed:           0.90,
}

// Config configures one TTS Upstream Client connection.
type Config struct {
	WSBaseURL                 string // e.g. wss://api.elevenlabs.io/v1/text-to-speech
	APIKey                    string
	VoiceID                   string
	ModelID                   string
	OutputFormat              string  // "pcm_24000"
	ChunkLengthSchedule       []int   // e.g. [50], smallest chunk for lowest latency
	OptimizeStreamingLatency  int     // e.g. 4
	VoiceSettings             VoiceSettings
	OutputRate                int // 24000
}

// AudioHandler receives raw PCM16 chunks decoded from base64 audio frames.
type AudioHandler func(pcm []byte)

// state is the TTS Stream Handle from the data model: none, open,
// finalizing, closed. There is no separate starting state; Start moves the
// handle from none to open once the init frame is sent.
type state int

const (
	stateNone state = iota
	stateOpen
	stateFinalizing
	stateClosed
)

// Client maintains one WebSocket to the TTS endpoint for a single response.
// A new Client is created per TTS stream — it is not reused across
// responses, matching the TTS Stream Handle's at-most-one-per-session,
// one-per-response lifecycle.
type Client struct {
	cfg Config

	conn   *websocket.Conn
	sendMu chan struct{}

	mu    sync.Mutex
	state state

	onAudio AudioHandler
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates a TTS Upstream Client. Start must be called before SendText.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, sendMu: make(chan struct{}, 1), done: make(chan struct{})}
}

type initGenerationConfig struct {
	ChunkLengthSchedule      []int `json:"chunk_length_schedule"`
	OptimizeStreamingLatency int   `json:"optimize_streaming_latency"`
}

type initFrame struct {
	Text                string               `json:"text"`
	VoiceSettings       VoiceSettings        `json:"voice_settings"`
	GenerationConfig    initGenerationConfig `json:"generation_config"`
	TryTriggerGeneration bool                `json:"try_trigger_generation"`
}

// Start opens the socket and sends the initialization frame: an empty
// priming text, voice settings, and a generation config tuned for lowest
// latency. Spawns the receive loop.
func (c *Client) Start(ctx context.Context, onAudio AudioHandler) error {
	url := fmt.Sprintf("%s/%s/stream-input?model_id=%s&output_format=%s",
		c.cfg.WSBaseURL, c.cfg.VoiceID, c.cfg.ModelID, c.cfg.OutputFormat)

	header := http.Header{}
	header.Set("xi-api-key", c.cfg.APIKey)

	start := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial tts upstream: %w", err)
	}
	metrics.UpstreamConnectDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	c.conn = conn
	c.onAudio = onAudio

	if err := c.writeJSON(initFrame{
		Text:          " ",
		VoiceSettings: c.cfg.VoiceSettings,
		GenerationConfig: initGenerationConfig{
			ChunkLengthSchedule:      c.cfg.ChunkLengthSchedule,
			OptimizeStreamingLatency: c.cfg.OptimizeStreamingLatency,
		},
		TryTriggerGeneration: true,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("send tts init frame: %w", err)
	}

	c.setState(stateOpen)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.receiveLoop(runCtx)
	return nil
}

type textFrame struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

// SendText pushes an incremental text segment. The caller is expected to
// hand in text ending with a trailing space so the upstream can split
// across frames cleanly. Only valid while the stream is open.
func (c *Client) SendText(text string) error {
	if c.getState() != stateOpen {
		return fmt.Errorf("tts stream not open")
	}
	return c.writeJSON(textFrame{Text: text, TryTriggerGeneration: true})
}

// Finalize sends the empty-text end-of-input sentinel, waits for the
// receive loop to drain, and closes the socket. Idempotent: calling
// Finalize on an already-finalizing or closed stream is a no-op.
func (c *Client) Finalize() error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = stateFinalizing
	c.mu.Unlock()

	if err := c.writeJSON(textFrame{Text: ""}); err != nil {
		c.setState(stateClosed)
		c.conn.Close()
		return fmt.Errorf("send tts finalize: %w", err)
	}

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}

	c.setState(stateClosed)
	return c.conn.Close()
}

// Abort cancels the receive loop immediately and closes the socket without
// draining, used on client disconnect or an unrelated fatal session error.
func (c *Client) Abort() error {
	c.setState(stateClosed)
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Done returns a channel that closes when the receive loop exits, whether
// from a normal Finalize drain or an unexpected upstream close. Callers that
// need to distinguish the two should check getState() after it closes.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) getState() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) writeJSON(v any) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	return c.conn.WriteJSON(v)
}

type inboundFrame struct {
	Audio      string `json:"audio"`
	IsFinal    bool   `json:"isFinal"`
	Error      string `json:"error"`
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var frame inboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		if frame.Error != "" {
			c.setState(stateClosed)
			return
		}

		if frame.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				continue
			}
			if c.onAudio != nil {
				c.onAudio(pcm)
			}
		}

		if frame.IsFinal {
			return
		}
	}
}
