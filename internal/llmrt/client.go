// Package llmrt implements the LLM Upstream Client: a single WebSocket to
// an LLM realtime endpoint that accepts streamed microphone audio and emits
// streamed text.
package llmrt

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventType enumerates the normalized events the receive loop emits.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionUpdated EventType = "session_updated"
	EventSpeechStarted  EventType = "speech_started"
	EventSpeechStopped  EventType = "speech_stopped"
	EventTextDelta      EventType = "text_delta"
	EventTextDone       EventType = "text_done"
	EventResponseDone   EventType = "response_done"
	EventError          EventType = "error"
)

// Event is the normalized shape all LLM upstream variants emit, regardless
// of their underlying wire format.
type Event struct {
	Type    EventType
	Delta   string // for text_delta
	Text    string // for text_done, may be empty meaning "no final text" per spec
	Code    string // for error
	Message string // for error
}

// EventHandler receives normalized events in arrival order. It is called
// from the client's own receive goroutine; handlers must not block.
type EventHandler func(Event)

// Errors returned synchronously by CommitAndRespond / SendAudio, matching
// the upstream-rejected error codes the orchestrator maps to wire error
// frames.
var (
	ErrResponseInProgress = errors.New("response_in_progress")
	ErrInsufficientAudio  = errors.New("insufficient_audio")
	ErrNotReady           = errors.New("session not ready")
)

// Client is the shared contract for an LLM realtime upstream, implemented
// by the OpenAI-Realtime-shaped client and the Gemini-Live-shaped client.
type Client interface {
	// Connect opens the upstream socket, sends session configuration built
	// from systemPrompt, and starts the receive loop. Events are delivered
	// to onEvent until Close.
	Connect(ctx context.Context, systemPrompt string, onEvent EventHandler) error

	// UpdateMode sends a new system prompt without reconnecting. If the
	// session is not yet ready, the update is queued and applied on
	// session_updated.
	UpdateMode(ctx context.Context, systemPrompt string) error

	// SendAudio appends PCM bytes to the upstream's input buffer. Waits up
	// to 5s for the session to become ready, then up to 100ms for a late
	// append error. Returns false, nil if the append was sent but rejected;
	// a non-nil error means it could not be sent at all.
	SendAudio(ctx context.Context, pcm []byte) (bool, error)

	// CommitAndRespond commits the input buffer and requests a text-only
	// response. Returns ErrResponseInProgress or ErrInsufficientAudio per
	// the invariants in the data model.
	CommitAndRespond(ctx context.Context) error

	// Close cancels the receive loop and closes the socket.
	Close() error
}

const (
	readyWait       = 5 * time.Second
	appendWaitWindow = 100 * time.Millisecond
)

// audioState tracks the mirrored input-buffer byte count and response
// lifecycle shared by both upstream variants — the bookkeeping spec.md §3
// describes is identical regardless of wire format.
type audioState struct {
	mu              sync.Mutex
	ready           bool
	inFlight        bool
	mirroredBytes   int
	lastAppendError string
	queuedPrompt    string
	hasQueuedPrompt bool
}

func (s *audioState) setReady() (queuedPrompt string, hadQueued bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	if s.hasQueuedPrompt {
		s.hasQueuedPrompt = false
		return s.queuedPrompt, true
	}
	return "", false
}

func (s *audioState) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *audioState) queuePrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedPrompt = prompt
	s.hasQueuedPrompt = true
}

func (s *audioState) addBytes(n int) {
	s.mu.Lock()
	s.mirroredBytes += n
	s.mu.Unlock()
}

func (s *audioState) resetBytes() {
	s.mu.Lock()
	s.mirroredBytes = 0
	s.mu.Unlock()
}

func (s *audioState) byteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirroredBytes
}

func (s *audioState) recordAppendError(msg string) {
	s.mu.Lock()
	s.lastAppendError = msg
	s.mu.Unlock()
}

func (s *audioState) takeAppendError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.lastAppendError
	s.lastAppendError = ""
	return msg
}

func (s *audioState) tryBeginResponse(minBytes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrResponseInProgress
	}
	if s.mirroredBytes < minBytes {
		return ErrInsufficientAudio
	}
	s.inFlight = true
	s.mirroredBytes = 0
	return nil
}

func (s *audioState) endResponse() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// markInFlight marks a response as in flight without touching the byte
// counter, for the case where the upstream itself reports one already
// running rather than our own tryBeginResponse having started it.
func (s *audioState) markInFlight() {
	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()
}

// waitReady blocks until ready or the 5s timeout elapses.
func waitReady(ctx context.Context, s *audioState) bool {
	if s.isReady() {
		return true
	}
	deadline := time.Now().Add(readyWait)
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			if s.isReady() {
				return true
			}
		}
	}
	return s.isReady()
}
