package audio

import "time"

// Frame represents a single fixed-duration block of audio flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from the
// input device, classified by VAD, accumulated into recording sessions, and
// handed to playback. A frame is immutable once produced; ownership passes to
// whichever stage is currently processing it.
type Frame struct {
	// Data is raw little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for device capture, 16000 for VAD/STT).
	SampleRate int

	// Channels: 1 for mono (VAD/STT input), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame, derived from its PCM
// length and format. Returns 0 for malformed frames.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerFrame returns the PCM byte length of one frame of the given duration
// in this format (little-endian int16 samples).
func (f Format) BytesPerFrame(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * 2 * f.Channels
}
