// Package bridge implements the Bridge Orchestrator: the component that
// owns one session's client WebSocket, LLM Upstream Client and TTS
// Upstream Client, applies the mode prompt, enforces the response
// lifecycle, and routes frames between the three.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/english-tutor-bridge/internal/audio"
	"github.com/hubenschmidt/english-tutor-bridge/internal/enforce"
	"github.com/hubenschmidt/english-tutor-bridge/internal/llmrt"
	"github.com/hubenschmidt/english-tutor-bridge/internal/metrics"
	"github.com/hubenschmidt/english-tutor-bridge/internal/prompts"
	"github.com/hubenschmidt/english-tutor-bridge/internal/segment"
	"github.com/hubenschmidt/english-tutor-bridge/internal/smoother"
	"github.com/hubenschmidt/english-tutor-bridge/internal/ttsrt"
)

// Deps holds the shared, variant-specific constructors a Session needs. One
// Deps is built per upstream variant (openai-realtime, gemini-realtime) and
// reused across all sessions dialing that endpoint.
type Deps struct {
	NewLLMClient func() llmrt.Client
	LLMRate      int

	NewTTSClient func() *ttsrt.Client
	TTSRate      int

	Enforcer    *enforce.Client
	SmootherCfg smoother.Config
}

// Session owns one live client connection end to end.
type Session struct {
	id   string
	conn *websocket.Conn
	deps Deps

	writeMu sync.Mutex

	llm llmrt.Client

	mu                 sync.Mutex
	ttsHandle          *ttsrt.Client
	smootherInst       *smoother.Smoother
	segFlusher         *segment.Flusher
	nonEnglishDetected bool
	rawAccumulator     strings.Builder
	finishOnce         *sync.Once
	turnStart          time.Time // zero unless the current turn began with audio_commit

	mode        string
	userName    string
	initialized bool

	closed atomic.Bool
	cancel context.CancelFunc
}

// NewSession constructs a Session for one accepted client connection.
func NewSession(id string, conn *websocket.Conn, deps Deps) *Session {
	s := &Session{
		id:         id,
		conn:       conn,
		deps:       deps,
		segFlusher: &segment.Flusher{},
		finishOnce: &sync.Once{},
	}
	s.smootherInst = smoother.New(deps.TTSRate, deps.SmootherCfg, s.sendBinary)
	return s
}

// Serve runs the session to completion: the client-facing contract named in
// spec.md §4.1, `serve(client_connection)`.
func (s *Session) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	s.sendFrame(serverFrame{Type: frameConnected})

	pollStop := make(chan struct{})
	go s.pollSmoother(pollStop)
	defer close(pollStop)

	defer s.teardown()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			slog.Info("bridge session closed", "session_id", s.id, "error", err)
			return
		}
		s.handleClientMessage(ctx, msgType, data)
		if s.closed.Load() {
			return
		}
	}
}

func (s *Session) pollSmoother(stop <-chan struct{}) {
	t := time.NewTicker(25 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.smootherInst.Poll()
		}
	}
}

func (s *Session) teardown() {
	s.closed.Store(true)
	s.mu.Lock()
	tts := s.ttsHandle
	s.ttsHandle = nil
	s.mu.Unlock()
	if tts != nil {
		tts.Abort()
	}
	// The client socket is already gone: discard whatever audio the
	// smoother was still holding rather than flushing it nowhere.
	s.smootherInst.Clear()
	if s.llm != nil {
		s.llm.Close()
	}
}

func (s *Session) handleClientMessage(ctx context.Context, msgType int, data []byte) {
	if msgType == websocket.TextMessage {
		s.handleTextFrame(ctx, data)
		return
	}
	if msgType != websocket.BinaryMessage {
		return
	}
	s.handleBinaryFrame(ctx, data)
}

func (s *Session) handleBinaryFrame(ctx context.Context, data []byte) {
	if !s.initialized {
		s.sendFrame(serverFrame{Type: frameError, Code: CodeNotInitialized, Message: "greeting required before audio"})
		return
	}
	pcm := audio.DecodeToPCM(data, s.deps.LLMRate)
	if _, err := s.llm.SendAudio(ctx, pcm); err != nil {
		slog.Warn("send audio to upstream", "session_id", s.id, "error", err)
	}
}

func (s *Session) handleTextFrame(ctx context.Context, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.sendFrame(serverFrame{Type: frameError, Message: "malformed json"})
		return
	}

	switch frame.Type {
	case frameGreeting:
		s.handleGreeting(ctx, frame)
	case frameAudioCommit:
		s.handleAudioCommit(ctx)
	case framePing:
		s.sendFrame(serverFrame{Type: framePong})
	case frameClose:
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
	}
}

func (s *Session) handleGreeting(ctx context.Context, frame clientFrame) {
	mode := frame.Mode
	if !prompts.IsValidMode(mode) {
		mode = prompts.ModeGeneral
	}
	s.mode = mode
	s.userName = frame.UserName
	promptText := prompts.ForMode(mode).SystemPrompt

	if s.llm == nil {
		s.llm = s.deps.NewLLMClient()
		if err := s.llm.Connect(ctx, promptText, s.onLLMEvent); err != nil {
			s.sendFrame(serverFrame{Type: frameError, Code: CodeGreetingError, Message: err.Error()})
			return
		}
	} else {
		// A greeting frame received twice updates the mode and system
		// prompt but does not reopen the LLM socket.
		if err := s.llm.UpdateMode(ctx, promptText); err != nil {
			slog.Warn("update mode", "session_id", s.id, "error", err)
		}
	}
	s.initialized = true

	greeting := prompts.Greeting(mode, s.userName)

	s.beginTurn()
	tts := s.ensureTTSOpen(ctx)
	if tts == nil {
		s.sendFrame(serverFrame{Type: frameError, Code: CodeGreetingError, Message: "tts unavailable"})
		return
	}
	if err := tts.SendText(greeting + " "); err != nil {
		slog.Warn("send greeting text", "session_id", s.id, "error", err)
	}

	s.sendFrame(serverFrame{Type: frameGreetingDone, Text: greeting})
	s.finishTurn()
}

func (s *Session) handleAudioCommit(ctx context.Context) {
	err := s.llm.CommitAndRespond(ctx)
	switch err {
	case nil:
		s.beginTurn()
		s.mu.Lock()
		s.turnStart = time.Now()
		s.mu.Unlock()
		return
	case llmrt.ErrResponseInProgress:
		s.sendFrame(serverFrame{Type: frameError, Code: CodeResponseInProgress, Message: "a response is already in flight"})
	case llmrt.ErrInsufficientAudio:
		s.sendFrame(serverFrame{Type: frameError, Code: CodeInsufficientAudio, Message: "not enough audio buffered"})
	default:
		slog.Warn("commit and respond", "session_id", s.id, "error", err)
		s.sendFrame(serverFrame{Type: frameError, Message: err.Error()})
	}
}

// beginTurn resets the per-response state: partial text buffer, raw
// accumulator, non-English flag, and the finish-once guard. turnStart is
// left zero here; handleAudioCommit sets it separately since the
// commit-to-response_done latency metric only applies to that path, not
// the greeting.
func (s *Session) beginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnStart = time.Time{}
	s.segFlusher.Reset()
	s.rawAccumulator.Reset()
	s.nonEnglishDetected = false
	s.finishOnce = &sync.Once{}
}

// ensureTTSOpen lazily opens a fresh TTS stream for the current turn, since
// the TTS Stream Handle is at most one per session and is finalized and
// reopened per response (the greeting path finalizes immediately; the next
// utterance opens a fresh stream — intended behavior per spec.md §9).
func (s *Session) ensureTTSOpen(ctx context.Context) *ttsrt.Client {
	s.mu.Lock()
	if s.ttsHandle != nil {
		tts := s.ttsHandle
		s.mu.Unlock()
		return tts
	}
	s.mu.Unlock()

	tts := s.deps.NewTTSClient()
	if err := tts.Start(ctx, s.onTTSAudio); err != nil {
		slog.Warn("open tts stream", "session_id", s.id, "error", err)
		return nil
	}

	s.mu.Lock()
	s.ttsHandle = tts
	s.mu.Unlock()

	go s.watchTTSClosed(tts)
	return tts
}

// watchTTSClosed recovers from an unexpected TTS close mid-response: the
// smoother is force-flushed and response_done is synthesized so the client
// is never stuck waiting (spec.md §4.3 failure semantics).
func (s *Session) watchTTSClosed(tts *ttsrt.Client) {
	<-tts.Done()
	s.mu.Lock()
	stillCurrent := s.ttsHandle == tts
	s.mu.Unlock()
	if stillCurrent {
		s.finishTurn()
	}
}

// finishTurn finalizes (or idempotently no-ops on an already-closed) the
// turn's TTS stream, flushes the smoother, and emits response_done exactly
// once per turn regardless of whether it is reached via the LLM's
// response_done event or via a TTS failure recovery path.
func (s *Session) finishTurn() {
	s.mu.Lock()
	once := s.finishOnce
	s.mu.Unlock()

	once.Do(func() {
		s.mu.Lock()
		tts := s.ttsHandle
		s.ttsHandle = nil
		start := s.turnStart
		s.turnStart = time.Time{}
		s.mu.Unlock()

		if tts != nil {
			tts.Finalize()
		}

		if !start.IsZero() {
			metrics.E2EResponseDuration.Observe(time.Since(start).Seconds())
		}

		s.smootherInst.Flush()
		s.sendFrame(serverFrame{Type: frameResponseDone})
	})
}

// onLLMEvent is the EventHandler passed to the LLM Upstream Client. It runs
// on the client's own receive goroutine. The partial text buffer, raw
// accumulator and non-English flag are also reset by beginTurn on the
// client-read goroutine, so the handlers below touch them under s.mu.
func (s *Session) onLLMEvent(ev llmrt.Event) {
	switch ev.Type {
	case llmrt.EventTextDelta:
		s.handleTextDelta(ev.Delta)
	case llmrt.EventTextDone:
		s.handleTextDone(ev.Text)
	case llmrt.EventResponseDone:
		s.finishTurn()
	case llmrt.EventError:
		metrics.UpstreamErrors.WithLabelValues("llm", ev.Code).Inc()
		s.sendFrame(serverFrame{Type: frameError, Code: ev.Code, Message: ev.Message})
		if ev.Code == "connection_lost" {
			s.closed.Store(true)
			if s.cancel != nil {
				s.cancel()
			}
		}
	}
}

func (s *Session) handleTextDelta(delta string) {
	s.mu.Lock()
	s.rawAccumulator.WriteString(delta)
	if !s.nonEnglishDetected && enforce.ContainsNonEnglishScript(delta) {
		s.nonEnglishDetected = true
		metrics.EnforcementTriggered.Inc()
	}
	nonEnglish := s.nonEnglishDetected
	cumulative := s.rawAccumulator.String()
	s.mu.Unlock()

	if nonEnglish {
		return
	}

	s.sendFrame(serverFrame{Type: frameTranscriptDlt, Text: cumulative})

	s.mu.Lock()
	segmentText := s.segFlusher.Add(delta, false)
	s.mu.Unlock()
	if segmentText == "" {
		return
	}
	metrics.SegmentsFlushed.WithLabelValues("false").Inc()
	s.dispatchToTTS(segmentText)
}

func (s *Session) handleTextDone(finalText string) {
	s.mu.Lock()
	nonEnglish := s.nonEnglishDetected
	raw := s.rawAccumulator.String()
	s.mu.Unlock()

	final := finalText
	if nonEnglish {
		final = s.deps.Enforcer.Rewrite(context.Background(), raw)
	} else if final == "" {
		final = raw
	}

	s.sendFrame(serverFrame{Type: frameTranscriptEnd, Text: final})

	s.mu.Lock()
	var remainder string
	if nonEnglish {
		s.segFlusher.Reset()
		remainder = final
	} else {
		remainder = s.segFlusher.Flush()
	}
	s.mu.Unlock()
	if remainder != "" {
		metrics.SegmentsFlushed.WithLabelValues("true").Inc()
		s.dispatchToTTS(remainder)
	}
}

func (s *Session) dispatchToTTS(text string) {
	tts := s.ensureTTSOpen(context.Background())
	if tts == nil {
		return
	}
	if err := tts.SendText(text + " "); err != nil {
		slog.Warn("send tts text", "session_id", s.id, "error", err)
	}
}

func (s *Session) onTTSAudio(pcm []byte) {
	s.smootherInst.Write(pcm)
}

func (s *Session) sendBinary(data []byte) {
	if s.closed.Load() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		slog.Warn("write binary frame", "session_id", s.id, "error", err)
	}
}

func (s *Session) sendFrame(f serverFrame) {
	if s.closed.Load() {
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		slog.Warn("write text frame", "session_id", s.id, "error", err)
	}
}
