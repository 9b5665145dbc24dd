package llmrt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/hubenschmidt/english-tutor-bridge/internal/audio"
	"github.com/hubenschmidt/english-tutor-bridge/internal/metrics"
)

// GeminiConfig configures the secondary Gemini-Live-shaped LLM Upstream
// Client. Unlike the OpenAI-Realtime-shaped variant, the bridge speaks to
// it through Google's own Live session SDK rather than a hand-rolled
// WebSocket frame, since the SDK already implements that wire protocol.
type GeminiConfig struct {
	APIKey     string
	Model      string
	SampleRate int // 16000 for this variant
}

// GeminiClient adapts google.golang.org/genai's Live session to the shared
// llmrt.Client contract: same normalized events, same commit/response
// semantics, different input rate and a turn-completion marker in place of
// OpenAI's explicit commit+response-create pair.
type GeminiClient struct {
	cfg GeminiConfig

	client  *genai.Client
	session *genai.Session

	state audioState

	onEvent EventHandler
	cancel  context.CancelFunc
}

// NewGemini creates a Gemini-Live-shaped client.
func NewGemini(cfg GeminiConfig) *GeminiClient {
	return &GeminiClient{cfg: cfg}
}

func (c *GeminiClient) minAudioBytes() int {
	return audio.MinDurationBytes(c.cfg.SampleRate, 100)
}

// Connect opens a Live session with text-only response modality and the
// mode's system prompt as the session's system instruction, then starts the
// receive loop.
func (c *GeminiClient) Connect(ctx context.Context, systemPrompt string, onEvent EventHandler) error {
	start := time.Now()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create genai client: %w", err)
	}

	session, err := client.Live.Connect(ctx, c.cfg.Model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		SystemInstruction:  genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return fmt.Errorf("connect gemini live session: %w", err)
	}
	metrics.UpstreamConnectDuration.WithLabelValues("gemini").Observe(time.Since(start).Seconds())

	c.client = client
	c.session = session
	c.onEvent = onEvent

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// The Live API acknowledges the connection immediately; there is no
	// separate session_created/session_updated handshake to wait on, so
	// the client is marked ready as soon as Connect returns.
	c.state.setReady()
	c.emit(Event{Type: EventSessionCreated})
	c.emit(Event{Type: EventSessionUpdated})

	go c.receiveLoop(runCtx)
	return nil
}

// UpdateMode re-issues the system instruction on the live session. If the
// session is not ready, it is queued (mirrors the OpenAI-shaped client for
// a uniform orchestrator code path, though in practice Connect always marks
// the Gemini session ready immediately).
func (c *GeminiClient) UpdateMode(ctx context.Context, systemPrompt string) error {
	if !c.state.isReady() {
		c.state.queuePrompt(systemPrompt)
		return nil
	}
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{genai.NewContentFromText(systemPrompt, genai.RoleUser)},
	})
}

// SendAudio forwards a PCM16 chunk as realtime input at this variant's
// 16kHz rate.
func (c *GeminiClient) SendAudio(ctx context.Context, pcm []byte) (bool, error) {
	if !waitReady(ctx, &c.state) {
		return false, ErrNotReady
	}

	err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: "audio/pcm;rate=16000", Data: pcm},
	})
	if err != nil {
		return false, fmt.Errorf("send realtime input: %w", err)
	}
	c.state.addBytes(len(pcm))
	return true, nil
}

// CommitAndRespond signals end-of-turn. The Live API has no separate
// commit/response-create pair; a single ActivityEnd marker both closes the
// input turn and requests a response, which the orchestrator sees as one
// CommitAndRespond call regardless of upstream variant.
func (c *GeminiClient) CommitAndRespond(ctx context.Context) error {
	if err := c.state.tryBeginResponse(c.minAudioBytes()); err != nil {
		return err
	}
	if err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{ActivityEnd: &genai.ActivityEnd{}}); err != nil {
		c.state.endResponse()
		return fmt.Errorf("send activity end: %w", err)
	}
	return nil
}

// Close cancels the receive loop and closes the live session. The genai
// client itself is not closed.
func (c *GeminiClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.session != nil {
		c.session.Close()
	}
	return nil
}

func (c *GeminiClient) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.emit(Event{Type: EventError, Code: "connection_lost", Message: err.Error()})
			return
		}
		c.handleMessage(msg)
	}
}

func (c *GeminiClient) handleMessage(msg *genai.LiveServerMessage) {
	if msg == nil {
		return
	}

	if content := msg.ServerContent; content != nil {
		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part.Text != "" {
					c.emit(Event{Type: EventTextDelta, Delta: part.Text})
				}
			}
		}
		if content.TurnComplete {
			c.emit(Event{Type: EventTextDone})
			c.state.endResponse()
			c.emit(Event{Type: EventResponseDone})
		}
		return
	}

	if msg.ErrorMessage != "" {
		slog.Warn("gemini live error", "message", msg.ErrorMessage)
		c.emit(Event{Type: EventError, Code: "upstream_error", Message: msg.ErrorMessage})
	}
}

func (c *GeminiClient) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
