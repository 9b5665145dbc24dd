package smoother

import (
	"sync"
	"testing"
	"time"
)

func collector() (*sync.Mutex, *[][]byte, func([]byte)) {
	var mu sync.Mutex
	var got [][]byte
	return &mu, &got, func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, b)
	}
}

func TestWriteFlushesAtHardCap(t *testing.T) {
	_, got, send := collector()
	s := New(24000, Config{MinFlushMs: 1000, MaxWaitMs: 1000, HardCapMs: 10}, send)

	chunk := make([]byte, 1000)
	s.Write(chunk)

	if len(*got) == 0 {
		t.Fatal("expected hard cap to force an emit")
	}
}

func TestWriteDoesNotFlushBelowThresholds(t *testing.T) {
	_, got, send := collector()
	s := New(24000, Config{MinFlushMs: 1000, MaxWaitMs: 1000, HardCapMs: 5000}, send)

	s.Write(make([]byte, 10))

	if len(*got) != 0 {
		t.Fatalf("expected no emit below thresholds, got %d", len(*got))
	}
}

func TestPollFlushesAfterMaxWait(t *testing.T) {
	_, got, send := collector()
	s := New(24000, Config{MinFlushMs: 5000, MaxWaitMs: 5, HardCapMs: 5000}, send)

	s.Write(make([]byte, 10))
	time.Sleep(20 * time.Millisecond)
	s.Poll()

	if len(*got) == 0 {
		t.Fatal("expected poll to flush after max wait elapsed")
	}
}

func TestFlushForcesEmitRegardlessOfSize(t *testing.T) {
	_, got, send := collector()
	s := New(24000, Config{MinFlushMs: 5000, MaxWaitMs: 5000, HardCapMs: 5000}, send)

	s.Write(make([]byte, 4))
	s.Flush()

	if len(*got) == 0 {
		t.Fatal("expected forced flush to emit regardless of thresholds")
	}
}

func TestClearDiscardsWithoutEmitting(t *testing.T) {
	_, got, send := collector()
	s := New(24000, Config{MinFlushMs: 5000, MaxWaitMs: 5000, HardCapMs: 5000}, send)

	s.Write(make([]byte, 4))
	s.Clear()
	s.Flush()

	if len(*got) != 0 {
		t.Fatalf("expected cleared buffer to emit nothing, got %d", len(*got))
	}
}
