package ttsrt

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// fakeUpstream speaks a trivial echo of the real ElevenLabs-shaped wire
// protocol: on receiving the init frame it does nothing, on any non-empty
// text frame it replies with one base64 audio frame, and on the empty-text
// finalize sentinel it replies with isFinal and closes.
func fakeUpstream(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upstream upgrade failed: %v", err)
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
			audio := base64.StdEncoding.EncodeToString([]byte("fake-pcm"))
			conn.WriteJSON(map[string]any{"audio": audio, "isFinal": false})
		}
	}))
}

func TestStartSendTextFinalize(t *testing.T) {
	srv := fakeUpstream(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := New(Config{
		WSBaseURL:    wsURL,
		VoiceID:      "v1",
		ModelID:      "m1",
		OutputFormat: "pcm_24000",
	})

	var mu sync.Mutex
	var received [][]byte
	err := c.Start(context.Background(), func(pcm []byte) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, pcm)
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.SendText("hello there "); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	mu.Lock()
	got := len(received)
	mu.Unlock()
	if got == 0 {
		t.Error("expected at least one audio chunk from the fake upstream")
	}

	// Finalize is idempotent.
	if err := c.Finalize(); err != nil {
		t.Errorf("expected second Finalize to be a no-op, got error: %v", err)
	}
}

func TestSendTextRejectedWhenNotOpen(t *testing.T) {
	c := New(Config{WSBaseURL: "ws://unused", VoiceID: "v1", ModelID: "m1"})
	if err := c.SendText("hi"); err == nil {
		t.Error("expected SendText to fail before Start opens the stream")
	}
}

func TestDoneClosesAfterFinalize(t *testing.T) {
	srv := fakeUpstream(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(Config{WSBaseURL: wsURL, VoiceID: "v1", ModelID: "m1", OutputFormat: "pcm_24000"})

	if err := c.Start(context.Background(), func([]byte) {}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Finalize()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done() to close after Finalize")
	}
}
