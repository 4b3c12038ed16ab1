package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

// DefaultSilenceThreshold is the mean-amplitude cutoff below which a frame is
// considered silent, on the 16-bit sample scale. Calibrated for speech at
// normal mic gain; not adaptive.
const DefaultSilenceThreshold = 500

// ErrInvalidFrame reports a buffer that cannot hold whole 16-bit samples.
var ErrInvalidFrame = errors.New("audio: frame is not a whole number of 16-bit samples")

// SilenceState classifies one frame of audio.
type SilenceState struct {
	Amplitude float64
	IsSilent  bool
}

// Classify computes the mean absolute amplitude of a frame of signed 16-bit
// little-endian PCM samples and compares it against threshold. The frame must
// be non-empty and of even length.
func Classify(frame []byte, threshold float64) (SilenceState, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return SilenceState{}, ErrInvalidFrame
	}
	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		v := int16(binary.LittleEndian.Uint16(frame[i : i+2]))
		if v < 0 {
			sum -= float64(v)
		} else {
			sum += float64(v)
		}
	}
	amp := sum / float64(len(frame)/2)
	return SilenceState{Amplitude: amp, IsSilent: amp < threshold}, nil
}

// FrameDuration returns the audio time covered by n bytes of mono 16-bit PCM
// at the given sample rate.
func FrameDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}

// SilenceRun accumulates the duration of contiguous silent frames. It is
// measured in audio time rather than wall-clock time, so it is independent of
// network delivery jitter. A voiced frame resets the run.
type SilenceRun struct {
	elapsed time.Duration
}

// Observe folds one frame classification into the run and returns the
// accumulated silence duration.
func (r *SilenceRun) Observe(state SilenceState, frame time.Duration) time.Duration {
	if state.IsSilent {
		r.elapsed += frame
	} else {
		r.elapsed = 0
	}
	return r.elapsed
}

// Elapsed reports the current accumulated silence duration.
func (r *SilenceRun) Elapsed() time.Duration { return r.elapsed }

// Reset clears the run.
func (r *SilenceRun) Reset() { r.elapsed = 0 }
