// Package device abstracts the duplex audio hardware boundary: a microphone
// capture stream delivering fixed-size PCM frames and a speaker playback sink
// that plays queued frames back-to-back without gaps.
//
// The portaudio-backed implementation lives in this package; a scripted test
// double lives in the mock subpackage. The audio callback thread must never
// block on network I/O or locks held across slow operations — captured frames
// are pushed onto a buffered channel and dropped (counted) when the consumer
// falls behind.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
)

// ErrDeviceUnavailable is returned when the audio hardware cannot be opened.
// This is fatal for the call that needed the device.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrPlaybackActive is returned by Play when a playback session is already
// running; the device handle is owned by one conversation at a time.
var ErrPlaybackActive = errors.New("playback already active")

// Config describes the stream format negotiated with the hardware.
type Config struct {
	// SampleRate in Hz for both capture and playback. Default: 16000.
	SampleRate int

	// Channels for both directions. Default: 1 (mono).
	Channels int

	// FrameDuration is the cadence at which captured frames are delivered.
	// Default: 30ms.
	FrameDuration time.Duration

	// CaptureBuffer is the capture channel depth in frames. When the consumer
	// falls behind, the oldest pending frames are dropped. Default: 64.
	CaptureBuffer int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 30 * time.Millisecond
	}
	if c.CaptureBuffer <= 0 {
		c.CaptureBuffer = 64
	}
	return c
}

// Format returns the stream format of the device.
func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Duplex is the device handle owned by the orchestrator for the duration of
// one conversation. Implementations must make StopCapture and StopPlayback
// safe to call from a goroutine other than the one driving I/O; both return
// only after the underlying stream has released its hardware resource, and
// both are harmless no-ops when the corresponding direction is already idle.
type Duplex interface {
	// StartCapture opens the input direction and returns the frame stream.
	// The channel is closed when capture stops (StopCapture, ctx cancellation,
	// or Close). Frames are mono PCM at the configured rate and cadence.
	StartCapture(ctx context.Context) (<-chan audio.Frame, error)

	// StopCapture stops the input direction and closes the frame channel.
	StopCapture()

	// Play begins a playback session consuming PCM chunks from pcm. Chunks are
	// played gaplessly in order; transient underruns insert silence and are
	// logged, not fatal. The returned channel is closed when every queued chunk
	// has been played (pcm closed and drained) or when playback is stopped.
	Play(pcm <-chan []byte) (done <-chan struct{}, err error)

	// StopPlayback cancels the active playback session from the current
	// position, discarding queued audio. No-op when nothing is playing —
	// including when playback has already finished naturally.
	StopPlayback()

	// Close releases the device. Stops both directions first.
	Close() error
}
