package audio

import (
	"bytes"
	"log/slog"

	"github.com/go-audio/wav"
)

// DecodeToPCM converts an arbitrary client-supplied audio blob to 16-bit
// signed little-endian mono PCM at targetRate. The client is free to send
// any container; a WAV/RIFF container is decoded properly, anything else is
// treated as already being raw PCM16 at targetRate (the common case for a
// mobile client streaming raw mic frames).
//
// If the result is shorter than the 100ms minimum duration, a warning
// is logged but the bytes are still returned — the caller decides whether to
// act on a too-short chunk.
func DecodeToPCM(data []byte, targetRate int) []byte {
	samples, srcRate, channels, ok := decodeWAV(data)
	var out []byte
	if ok {
		mono := downmix(samples, channels)
		resampled := resample(mono, srcRate, targetRate)
		out = intToPCM16(resampled)
	} else {
		// Not a recognizable container: assume raw PCM16 already at targetRate.
		out = data
	}

	if len(out) < MinDurationBytes(targetRate, 100) {
		slog.Warn("decoded audio shorter than minimum duration", "bytes", len(out), "target_rate", targetRate)
	}

	return out
}

// decodeWAV attempts to parse data as a RIFF/WAVE container, returning its
// int samples (interleaved by channel count when there is more than one
// channel), the source sample rate and channel count. ok is false if data is
// not a valid WAV file.
func decodeWAV(data []byte) (samples []int, rate int, channels int, ok bool) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, 0, false
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil || buf == nil {
		return nil, 0, 0, false
	}
	return buf.Data, buf.Format.SampleRate, buf.Format.NumChannels, true
}
