// Package smoother buffers TTS PCM by size and time and emits well-sized
// WAV chunks to the client, reducing gaps on a mobile player.
package smoother

import (
	"bytes"
	"sync"
	"time"

	"github.com/hubenschmidt/english-tutor-bridge/internal/audio"
	"github.com/hubenschmidt/english-tutor-bridge/internal/metrics"
)

// Config holds the tunable flush thresholds. Zero values fall back to the
// documented defaults (min 100ms, max wait 100ms, hard cap 500ms).
type Config struct {
	MinFlushMs int
	MaxWaitMs  int
	HardCapMs  int
}

func (c Config) withDefaults() Config {
	if c.MinFlushMs <= 0 {
		c.MinFlushMs = 100
	}
	if c.MaxWaitMs <= 0 {
		c.MaxWaitMs = 100
	}
	if c.HardCapMs <= 0 {
		c.HardCapMs = 500
	}
	return c
}

// Smoother accumulates PCM chunks under a mutex and flushes complete WAV
// frames through Send. Send is always invoked after the mutex is released,
// so I/O never happens while the lock is held.
type Smoother struct {
	cfg  Config
	rate int
	send func([]byte)

	mu         sync.Mutex
	buf        bytes.Buffer
	lastFlush  time.Time
	minBytes   int
	hardCap    int
}

// New creates a Smoother for the given output sample rate. send is called
// with a complete WAV file each time the buffer flushes.
func New(rate int, cfg Config, send func([]byte)) *Smoother {
	cfg = cfg.withDefaults()
	return &Smoother{
		cfg:       cfg,
		rate:      rate,
		send:      send,
		lastFlush: time.Time{},
		minBytes:  audio.MinDurationBytes(rate, cfg.MinFlushMs),
		hardCap:   audio.MinDurationBytes(rate, cfg.HardCapMs),
	}
}

// Write appends a PCM chunk from the TTS client, flushing if a size or hard
// cap threshold is crossed. Call Poll on a timer to catch the time-based
// threshold when no new audio is arriving.
func (s *Smoother) Write(pcm []byte) {
	s.mu.Lock()
	if s.buf.Len() == 0 {
		s.lastFlush = time.Now()
	}
	s.buf.Write(pcm)

	var reason string
	switch {
	case s.buf.Len() >= s.hardCap:
		reason = "hard_cap"
	case s.buf.Len() >= s.minBytes:
		reason = "size"
	}
	if reason == "" {
		s.mu.Unlock()
		return
	}
	out := s.drainLocked()
	s.mu.Unlock()

	s.emit(out, reason)
}

// Poll checks the time-based flush condition: if the buffer is non-empty
// and the max-wait threshold has elapsed since the last flush, flush now.
// Intended to be called periodically (e.g. every 20-50ms); the session runs
// a ticker goroutine that calls it every 25ms for the session's lifetime.
func (s *Smoother) Poll() {
	maxWait := time.Duration(s.cfg.MaxWaitMs) * time.Millisecond

	s.mu.Lock()
	if s.buf.Len() == 0 || time.Since(s.lastFlush) < maxWait {
		s.mu.Unlock()
		return
	}
	out := s.drainLocked()
	s.mu.Unlock()

	s.emit(out, "time")
}

// Flush forces an immediate flush regardless of thresholds. The session
// calls it when a turn finishes, before response_done, so one response's
// audio is sent before the next response begins. At session end the
// session calls Clear instead.
func (s *Smoother) Flush() {
	s.mu.Lock()
	if s.buf.Len() == 0 {
		s.mu.Unlock()
		return
	}
	out := s.drainLocked()
	s.mu.Unlock()

	s.emit(out, "forced")
}

// Clear discards any buffered audio without emitting it, used when a
// response is aborted and its partial audio should never reach the client.
func (s *Smoother) Clear() {
	s.mu.Lock()
	s.buf.Reset()
	s.mu.Unlock()
}

func (s *Smoother) drainLocked() []byte {
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	s.buf.Reset()
	s.lastFlush = time.Now()
	return out
}

func (s *Smoother) emit(pcm []byte, reason string) {
	if len(pcm) == 0 {
		return
	}
	wav, err := audio.PCMToWAV(pcm, s.rate)
	if err != nil {
		return
	}
	metrics.SmootherFlushes.WithLabelValues(reason).Inc()
	metrics.SmootherBufferedBytes.Observe(float64(len(pcm)))
	s.send(wav)
}
