package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/english-tutor-bridge/internal/enforce"
	"github.com/hubenschmidt/english-tutor-bridge/internal/llmrt"
	"github.com/hubenschmidt/english-tutor-bridge/internal/smoother"
	"github.com/hubenschmidt/english-tutor-bridge/internal/ttsrt"
)

// fakeLLM is a scripted llmrt.Client double: CommitAndRespond replays a
// fixed event sequence instead of talking to a real upstream, unless
// commitErr is set, in which case it simulates an upstream-rejected commit
// (insufficient audio, or a response already in flight) by returning the
// sentinel error synchronously without replaying any events.
type fakeLLM struct {
	onEvent   llmrt.EventHandler
	events    []llmrt.Event
	commitErr error
}

func (f *fakeLLM) Connect(ctx context.Context, systemPrompt string, onEvent llmrt.EventHandler) error {
	f.onEvent = onEvent
	return nil
}
func (f *fakeLLM) UpdateMode(ctx context.Context, systemPrompt string) error { return nil }
func (f *fakeLLM) SendAudio(ctx context.Context, pcm []byte) (bool, error)  { return true, nil }
func (f *fakeLLM) CommitAndRespond(ctx context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	go func() {
		for _, ev := range f.events {
			f.onEvent(ev)
		}
	}()
	return nil
}
func (f *fakeLLM) Close() error { return nil }

// ttsEchoUpstream is the same fake ElevenLabs-shaped echo server the ttsrt
// package tests against, reused here so the orchestrator test exercises a
// real TTS Upstream Client rather than a double.
func ttsEchoUpstream(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame struct {
				Text string `json:"text"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Text == "" {
				conn.WriteJSON(map[string]any{"audio": "", "isFinal": true})
				return
			}
			if strings.TrimSpace(frame.Text) == "" {
				continue
			}
			conn.WriteJSON(map[string]any{"audio": "ZmFrZS1wY20=", "isFinal": false})
		}
	}))
}

func testDeps(t *testing.T, llm *fakeLLM) Deps {
	ttsSrv := ttsEchoUpstream(t)
	t.Cleanup(ttsSrv.Close)
	wsURL := "ws" + strings.TrimPrefix(ttsSrv.URL, "http")

	return Deps{
		NewLLMClient: func() llmrt.Client { return llm },
		LLMRate:      24000,
		NewTTSClient: func() *ttsrt.Client {
			return ttsrt.New(ttsrt.Config{WSBaseURL: wsURL, VoiceID: "v1", ModelID: "m1", OutputFormat: "pcm_24000"})
		},
		TTSRate:     24000,
		Enforcer:    enforce.New("http://127.0.0.1:0/unreachable", "", "test-model"),
		SmootherCfg: smoother.Config{MinFlushMs: 10, MaxWaitMs: 10, HardCapMs: 50},
	}
}

// dialSession starts a bridge Handler behind httptest, dials it as a
// client, and returns the connection plus a teardown func.
func dialSession(t *testing.T, deps Deps) (*websocket.Conn, func()) {
	srv := httptest.NewServer(NewHandler(deps))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readFrames(t *testing.T, conn *websocket.Conn, deadline time.Time) ([]serverFrame, int) {
	var frames []serverFrame
	binaryCount := 0
	conn.SetReadDeadline(deadline)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return frames, binaryCount
		}
		if msgType == websocket.BinaryMessage {
			binaryCount++
			continue
		}
		var f serverFrame
		if json.Unmarshal(data, &f) == nil {
			frames = append(frames, f)
		}
		if f.Type == frameResponseDone {
			return frames, binaryCount
		}
	}
}

// readFramesUntil reads text frames until one of type stopType arrives or
// the deadline elapses. Used for rejection paths that never reach
// response_done, where readFrames would otherwise block for the full
// deadline.
func readFramesUntil(t *testing.T, conn *websocket.Conn, deadline time.Time, stopType string) []serverFrame {
	var frames []serverFrame
	conn.SetReadDeadline(deadline)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return frames
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var f serverFrame
		if json.Unmarshal(data, &f) == nil {
			frames = append(frames, f)
		}
		if f.Type == stopType {
			return frames
		}
	}
}

func TestGreetingFlow(t *testing.T) {
	deps := testDeps(t, &fakeLLM{})
	conn, teardown := dialSession(t, deps)
	defer teardown()

	send(t, conn, clientFrame{Type: frameGreeting, Mode: "general", UserName: "Sam"})

	frames, binaryCount := readFrames(t, conn, time.Now().Add(3*time.Second))

	assertHasFrameType(t, frames, frameConnected)
	assertHasFrameType(t, frames, frameGreetingDone)
	assertHasFrameType(t, frames, frameResponseDone)
	if binaryCount == 0 {
		t.Error("expected at least one binary WAV frame for the spoken greeting")
	}
}

func TestAudioCommitEnglishFlow(t *testing.T) {
	llm := &fakeLLM{events: []llmrt.Event{
		{Type: llmrt.EventTextDelta, Delta: "Great job practicing today! "},
		{Type: llmrt.EventTextDone, Text: "Great job practicing today!"},
		{Type: llmrt.EventResponseDone},
	}}
	deps := testDeps(t, llm)
	conn, teardown := dialSession(t, deps)
	defer teardown()

	send(t, conn, clientFrame{Type: frameGreeting, Mode: "general", UserName: "Sam"})
	readFrames(t, conn, time.Now().Add(3*time.Second))

	send(t, conn, clientFrame{Type: frameAudioCommit})
	frames, binaryCount := readFrames(t, conn, time.Now().Add(3*time.Second))

	assertHasFrameType(t, frames, frameTranscriptEnd)
	assertHasFrameType(t, frames, frameResponseDone)
	if binaryCount == 0 {
		t.Error("expected spoken audio for the english response")
	}
}

// TestAudioCommitInsufficientAudioRejected covers the "Commit with too
// little audio" scenario: the rejected commit must surface exactly one
// insufficient_audio error frame and must not start a turn (no
// response_done, since beginTurn only runs after a successful commit).
func TestAudioCommitInsufficientAudioRejected(t *testing.T) {
	llm := &fakeLLM{commitErr: llmrt.ErrInsufficientAudio}
	deps := testDeps(t, llm)
	conn, teardown := dialSession(t, deps)
	defer teardown()

	send(t, conn, clientFrame{Type: frameGreeting, Mode: "general", UserName: "Sam"})
	readFrames(t, conn, time.Now().Add(3*time.Second))

	send(t, conn, clientFrame{Type: frameAudioCommit})
	frames := readFramesUntil(t, conn, time.Now().Add(500*time.Millisecond), frameError)

	if len(frames) != 1 || frames[0].Type != frameError || frames[0].Code != CodeInsufficientAudio {
		t.Fatalf("expected a single insufficient_audio error frame, got %+v", frames)
	}
}

// TestAudioCommitDoubleCommitRejected covers the "Double commit" scenario:
// a second commit while a response is already in flight must surface
// exactly one response_in_progress error frame and must not reset the
// first turn's state (handleAudioCommit only calls beginTurn after
// CommitAndRespond succeeds).
func TestAudioCommitDoubleCommitRejected(t *testing.T) {
	llm := &fakeLLM{commitErr: llmrt.ErrResponseInProgress}
	deps := testDeps(t, llm)
	conn, teardown := dialSession(t, deps)
	defer teardown()

	send(t, conn, clientFrame{Type: frameGreeting, Mode: "general", UserName: "Sam"})
	readFrames(t, conn, time.Now().Add(3*time.Second))

	send(t, conn, clientFrame{Type: frameAudioCommit})
	frames := readFramesUntil(t, conn, time.Now().Add(500*time.Millisecond), frameError)

	if len(frames) != 1 || frames[0].Type != frameError || frames[0].Code != CodeResponseInProgress {
		t.Fatalf("expected a single response_in_progress error frame for the rejected second commit, got %+v", frames)
	}
}

func TestAudioCommitNonEnglishTriggersEnforcement(t *testing.T) {
	llm := &fakeLLM{events: []llmrt.Event{
		{Type: llmrt.EventTextDelta, Delta: "مرحبا"},
		{Type: llmrt.EventTextDone, Text: "مرحبا"},
		{Type: llmrt.EventResponseDone},
	}}
	deps := testDeps(t, llm)
	conn, teardown := dialSession(t, deps)
	defer teardown()

	send(t, conn, clientFrame{Type: frameGreeting, Mode: "general", UserName: "Sam"})
	readFrames(t, conn, time.Now().Add(3*time.Second))

	send(t, conn, clientFrame{Type: frameAudioCommit})
	frames, _ := readFrames(t, conn, time.Now().Add(3*time.Second))

	for _, f := range frames {
		if f.Type == frameTranscriptDlt && strings.ContainsAny(f.Text, "مرحبا") {
			t.Errorf("non-English text must never reach transcript_delta, got %q", f.Text)
		}
		if f.Type == frameTranscriptEnd && strings.ContainsAny(f.Text, "مرحبا") {
			t.Errorf("transcript_done must carry the enforced rewrite, not raw script, got %q", f.Text)
		}
	}
	assertHasFrameType(t, frames, frameTranscriptEnd)
}

func send(t *testing.T, conn *websocket.Conn, f clientFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal client frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write client frame: %v", err)
	}
}

func assertHasFrameType(t *testing.T, frames []serverFrame, want string) {
	t.Helper()
	for _, f := range frames {
		if f.Type == want {
			return
		}
	}
	t.Errorf("expected a %q frame, got %+v", want, frames)
}
