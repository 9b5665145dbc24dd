package llmrt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/english-tutor-bridge/internal/audio"
	"github.com/hubenschmidt/english-tutor-bridge/internal/metrics"
)

// OpenAIConfig configures the OpenAI-Realtime-shaped LLM Upstream Client.
type OpenAIConfig struct {
	URL         string // wss endpoint, including model query parameter
	APIKey      string
	SampleRate  int // 24000 for this variant
	Temperature float64
}

// OpenAIClient maintains one WebSocket to the OpenAI-Realtime-shaped
// endpoint: session config, audio append frames, explicit commit, and
// response-create; parses streamed text deltas and lifecycle events.
type OpenAIClient struct {
	cfg OpenAIConfig

	conn   *websocket.Conn
	sendMu chan struct{} // 1-buffered mutex, guards writes to conn

	state audioState

	onEvent EventHandler
	cancel  context.CancelFunc
}

// NewOpenAI creates an OpenAI-Realtime-shaped client. Connect must be called
// before SendAudio/CommitAndRespond.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{cfg: cfg, sendMu: make(chan struct{}, 1)}
}

func (c *OpenAIClient) minAudioBytes() int {
	return audio.MinDurationBytes(c.cfg.SampleRate, 100)
}

// Connect opens the socket, sends the session-update frame spec.md §6.2
// describes (both modalities in, text-only out, fixed PCM format, explicit
// turn_detection: null so commits are client-driven), and starts the
// receive loop.
func (c *OpenAIClient) Connect(ctx context.Context, systemPrompt string, onEvent EventHandler) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	start := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial openai realtime: %w", err)
	}
	metrics.UpstreamConnectDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	c.conn = conn
	c.onEvent = onEvent

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.sendSessionUpdate(systemPrompt); err != nil {
		conn.Close()
		return err
	}

	go c.receiveLoop(runCtx)
	return nil
}

type sessionUpdateFrame struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities        []string `json:"modalities"`
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format"`
	Instructions      string   `json:"instructions"`
	Temperature       float64  `json:"temperature"`
	TurnDetection     *struct{} `json:"turn_detection"`
}

func (c *OpenAIClient) sendSessionUpdate(systemPrompt string) error {
	frame := sessionUpdateFrame{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			Instructions:      systemPrompt,
			Temperature:       c.cfg.Temperature,
			TurnDetection:     nil,
		},
	}
	return c.writeJSON(frame)
}

// UpdateMode sends a fresh session-update with the new system prompt. If
// the session is not ready yet, the prompt is queued and applied when
// session_updated arrives.
func (c *OpenAIClient) UpdateMode(ctx context.Context, systemPrompt string) error {
	if !c.state.isReady() {
		c.state.queuePrompt(systemPrompt)
		return nil
	}
	return c.sendSessionUpdate(systemPrompt)
}

type audioAppendFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// SendAudio waits up to 5s for readiness, sends an append frame, then waits
// up to 100ms for a late append error to surface.
func (c *OpenAIClient) SendAudio(ctx context.Context, pcm []byte) (bool, error) {
	if !waitReady(ctx, &c.state) {
		return false, ErrNotReady
	}

	frame := audioAppendFrame{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(pcm)}
	if err := c.writeJSON(frame); err != nil {
		return false, fmt.Errorf("send audio append: %w", err)
	}

	time.Sleep(appendWaitWindow)
	if msg := c.state.takeAppendError(); msg != "" {
		return false, nil
	}
	c.state.addBytes(len(pcm))
	return true, nil
}

type simpleFrame struct {
	Type string `json:"type"`
}

type responseCreateFrame struct {
	Type     string          `json:"type"`
	Response responseCreate2 `json:"response"`
}

type responseCreate2 struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
}

// CommitAndRespond rejects per the lifecycle invariants, otherwise sends a
// commit frame followed by a response-create frame asking for text-only
// output.
func (c *OpenAIClient) CommitAndRespond(ctx context.Context) error {
	if err := c.state.tryBeginResponse(c.minAudioBytes()); err != nil {
		return err
	}

	if err := c.writeJSON(simpleFrame{Type: "input_audio_buffer.commit"}); err != nil {
		c.state.endResponse()
		return fmt.Errorf("send commit: %w", err)
	}
	if err := c.writeJSON(responseCreateFrame{
		Type: "response.create",
		Response: responseCreate2{
			Modalities:   []string{"text"},
			Instructions: "Respond naturally and conversationally.",
		},
	}); err != nil {
		c.state.endResponse()
		return fmt.Errorf("send response.create: %w", err)
	}
	return nil
}

// Close cancels the receive loop and closes the socket.
func (c *OpenAIClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *OpenAIClient) writeJSON(v any) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	return c.conn.WriteJSON(v)
}

// inboundEvent is the superset of fields any OpenAI-Realtime-shaped event
// might carry; unused fields are simply left zero for a given event type.
type inboundEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta"`
	Text  json.RawMessage `json:"text"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		Output []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
}

func (c *OpenAIClient) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var ev inboundEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.emit(Event{Type: EventError, Code: "connection_lost", Message: err.Error()})
			return
		}
		c.handleEvent(ev)
	}
}

func (c *OpenAIClient) handleEvent(ev inboundEvent) {
	switch ev.Type {
	case "session.created":
		c.emit(Event{Type: EventSessionCreated})
		if prompt, hadQueued := c.state.setReady(); hadQueued {
			if err := c.sendSessionUpdate(prompt); err != nil {
				slog.Warn("apply queued mode", "error", err)
			}
		}
	case "session.updated":
		c.emit(Event{Type: EventSessionUpdated})
		if prompt, hadQueued := c.state.setReady(); hadQueued {
			if err := c.sendSessionUpdate(prompt); err != nil {
				slog.Warn("apply queued mode", "error", err)
			}
		}
	case "input_audio_buffer.speech_started":
		c.emit(Event{Type: EventSpeechStarted})
	case "input_audio_buffer.speech_stopped":
		c.emit(Event{Type: EventSpeechStopped})
	case "response.text.delta", "response.output_text.delta":
		c.emit(Event{Type: EventTextDelta, Delta: normalizeDeltaPayload(ev.Delta)})
	case "response.text.done", "response.output_text.done":
		c.emit(Event{Type: EventTextDone, Text: extractResponseText(ev)})
	case "response.done":
		c.state.endResponse()
		c.emit(Event{Type: EventResponseDone})
	case "error":
		code := canonicalErrorCode(ev.Error.Code)
		if isAppendError(code) {
			c.state.recordAppendError(ev.Error.Message)
		}
		if code == "buffer_empty" {
			c.state.resetBytes()
		}
		if code == "response_in_progress" {
			c.state.markInFlight()
		}
		c.emit(Event{Type: EventError, Code: code, Message: ev.Error.Message})
	}
}

// canonicalErrorCode maps the real OpenAI-Realtime-shaped wire codes to the
// names the rest of the bridge uses. "response_in_progress" and
// "insufficient_audio" are also produced locally by tryBeginResponse, so
// those two pass through unchanged.
func canonicalErrorCode(code string) string {
	switch code {
	case "input_audio_buffer_commit_empty":
		return "buffer_empty"
	case "conversation_already_has_active_response":
		return "response_in_progress"
	default:
		return code
	}
}

func isAppendError(code string) bool {
	switch code {
	case "invalid_audio", "buffer_too_large", "unsupported_format":
		return true
	default:
		return false
	}
}

func (c *OpenAIClient) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// normalizeDeltaPayload handles a text-delta field that may arrive as a
// bare JSON string, an object with a text/content field, or a list of
// segments — spec.md §4.2's receive-loop normalization requirement.
func normalizeDeltaPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Text != "" {
			return obj.Text
		}
		return obj.Content
	}

	var segments []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		out := ""
		for _, seg := range segments {
			out += seg.Text
		}
		return out
	}

	return ""
}

func extractResponseText(ev inboundEvent) string {
	text := normalizeDeltaPayload(ev.Text)
	if text != "" {
		return text
	}
	for _, out := range ev.Response.Output {
		for _, part := range out.Content {
			text += part.Text
		}
	}
	return text
}
