package audio

import (
	"encoding/binary"
	"testing"
)

func sineSamples(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i%200 - 100) * 100
	}
	return out
}

func TestMinDurationBytes(t *testing.T) {
	tests := []struct {
		rate, ms, want int
	}{
		{24000, 100, 4800},
		{16000, 100, 3200},
		{24000, 500, 24000},
	}
	for _, tt := range tests {
		if got := MinDurationBytes(tt.rate, tt.ms); got != tt.want {
			t.Errorf("MinDurationBytes(%d, %d) = %d, want %d", tt.rate, tt.ms, got, tt.want)
		}
	}
}

func TestPCMToWAVRoundTrip(t *testing.T) {
	samples := sineSamples(2400)
	pcm := intToPCM16(samples)

	wavBytes, err := PCMToWAV(pcm, 24000)
	if err != nil {
		t.Fatalf("PCMToWAV failed: %v", err)
	}
	if len(wavBytes) == 0 {
		t.Fatal("expected non-empty wav output")
	}

	decoded := DecodeToPCM(wavBytes, 24000)
	if len(decoded) != len(pcm) {
		t.Fatalf("expected round-tripped pcm length %d, got %d", len(pcm), len(decoded))
	}
	for i := 0; i < len(decoded); i += 2 {
		want := int16(binary.LittleEndian.Uint16(pcm[i:]))
		got := int16(binary.LittleEndian.Uint16(decoded[i:]))
		if want != got {
			t.Fatalf("sample at byte %d: want %d, got %d", i, want, got)
		}
	}
}

func TestDecodeToPCMFallsBackToRawPCM(t *testing.T) {
	raw := intToPCM16(sineSamples(100))
	got := DecodeToPCM(raw, 24000)
	if len(got) != len(raw) {
		t.Fatalf("expected non-WAV input to pass through unchanged, got len %d want %d", len(got), len(raw))
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int{0, 32767, -32768, 1000, -1000}
	bytes := intToPCM16(samples)
	back := pcm16ToInt(bytes)
	for i, s := range samples {
		if back[i] != s {
			t.Errorf("sample %d: want %d, got %d", i, s, back[i])
		}
	}
}
