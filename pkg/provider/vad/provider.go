// Package vad defines the Engine interface for voice-activity classifiers.
//
// A VAD engine wraps a frame-level speech detector (WebRTC VAD or a pure-Go
// energy classifier) and surfaces it as a per-stream classifier. Each
// classifier maintains its own internal state (noise-floor estimate, decoder
// state) so that independent audio streams — the capture path and the
// barge-in monitor path — can be classified concurrently with different
// aggressiveness settings.
//
// Classification is synchronous by design: IsSpeech returns immediately,
// making it suitable for the audio-callback pipeline that gates recording.
// Classifiers require frames of exactly the configured sample rate and
// duration; callers must rebuffer/resample first (see audio.Rebuffer).
// Feeding a mismatched frame is a programming defect and returns a
// [FrameSizeError], never a silent misclassification.
package vad

import (
	"fmt"
	"slices"
)

// Aggressiveness bounds. Higher values are stricter: fewer false positives at
// the risk of clipping soft speech.
const (
	MinAggressiveness = 0
	MaxAggressiveness = 3

	// DefaultAggressiveness favours precision over recall — in a noisy room a
	// missed soft syllable costs less than a capture that never terminates.
	DefaultAggressiveness = 3
)

// SupportedRates lists the sample rates classifiers accept.
var SupportedRates = []int{8000, 16000, 32000, 48000}

// SupportedFrameMs lists the frame durations classifiers accept.
var SupportedFrameMs = []int{10, 20, 30}

// Config holds the parameters for a classifier instance.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. One of 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameMs is the duration of each frame in milliseconds. One of 10, 20, 30.
	FrameMs int

	// Aggressiveness selects the operating point, 0 (permissive) to 3 (strict).
	Aggressiveness int
}

// Validate checks the config against the supported rate/duration grid.
func (c Config) Validate() error {
	if !slices.Contains(SupportedRates, c.SampleRate) {
		return fmt.Errorf("vad: unsupported sample rate %d (want one of %v)", c.SampleRate, SupportedRates)
	}
	if !slices.Contains(SupportedFrameMs, c.FrameMs) {
		return fmt.Errorf("vad: unsupported frame duration %dms (want one of %v)", c.FrameMs, SupportedFrameMs)
	}
	if c.Aggressiveness < MinAggressiveness || c.Aggressiveness > MaxAggressiveness {
		return fmt.Errorf("vad: aggressiveness %d out of range [%d, %d]", c.Aggressiveness, MinAggressiveness, MaxAggressiveness)
	}
	return nil
}

// FrameBytes returns the expected PCM byte length of one frame (mono int16).
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameMs / 1000 * 2
}

// FrameSizeError reports a frame whose byte length does not match the
// classifier's configured rate/duration. This indicates a bug in the caller's
// rebuffering, not a property of the audio.
type FrameSizeError struct {
	Got  int
	Want int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("vad: frame is %d bytes, classifier requires %d", e.Got, e.Want)
}

// Classifier judges one fixed-duration frame at a time. A Classifier should
// not be shared between goroutines unless the implementation explicitly
// documents thread safety.
type Classifier interface {
	// IsSpeech reports whether the frame contains speech. The frame must be
	// mono little-endian int16 PCM of exactly Config.FrameBytes() bytes;
	// anything else returns a *FrameSizeError.
	//
	// Called synchronously from the audio pipeline loop; must not block.
	IsSpeech(frame []byte) (bool, error)

	// Reset clears accumulated adaptive state (noise floor, smoothing) without
	// closing the classifier. Use when a stream restarts.
	Reset()

	// Close releases classifier resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for classifiers. Implementations must be safe for
// concurrent use: multiple goroutines may call NewClassifier simultaneously.
type Engine interface {
	// NewClassifier creates a classifier with the given configuration.
	// Returns an error if the configuration is invalid.
	NewClassifier(cfg Config) (Classifier, error)
}
