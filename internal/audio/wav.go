package audio

import (
	"bytes"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCMToWAV prepends a RIFF/WAVE header to raw PCM16 mono samples, producing
// a self-contained WAV file at the given sample rate. This is the only
// transform the Output Smoother and the greeting path need to hand a client
// a playable binary frame.
func PCMToWAV(pcm []byte, rate int) ([]byte, error) {
	var buf bytes.Buffer
	enc := wav.NewEncoder(&buf, rate, 16, 1, 1)

	intBuf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           pcm16ToInt(pcm),
		SourceBitDepth: 16,
	}
	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return buf.Bytes(), nil
}
