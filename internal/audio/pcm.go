package audio

import "encoding/binary"

// BytesPerSample is the frame size of PCM16 mono audio.
const BytesPerSample = 2

// MinDurationBytes returns the byte count for a minimum-duration threshold
// (e.g. 100ms) at the given sample rate, 16-bit mono.
func MinDurationBytes(rate int, ms int) int {
	return rate * ms / 1000 * BytesPerSample
}

// pcm16ToInt converts little-endian PCM16 bytes to a slice of int samples,
// the representation the go-audio container types use.
func pcm16ToInt(data []byte) []int {
	n := len(data) / BytesPerSample
	out := make([]int, n)
	for i := range n {
		out[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return out
}

// intToPCM16 converts int samples back to little-endian PCM16 bytes.
func intToPCM16(samples []int) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}
