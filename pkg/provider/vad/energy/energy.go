// Package energy implements a pure-Go adaptive-energy voice-activity
// classifier. It needs no cgo and is the default engine.
//
// A frame is classified as speech when its RMS energy exceeds both a fixed
// floor derived from the aggressiveness level and a multiple of the running
// noise-floor estimate. The noise floor adapts slowly upward and quickly
// downward so that a change in ambient level is tracked without absorbing
// actual speech into the floor.
package energy

import (
	"math"

	"github.com/parley-ai/parley/pkg/provider/vad"
)

// Per-aggressiveness operating points. Index = aggressiveness 0–3.
var (
	// rmsFloor is the absolute minimum RMS (int16 scale) to count as speech.
	rmsFloor = [4]float64{200, 350, 550, 900}

	// noiseRatio is the multiple of the noise-floor estimate a frame must
	// exceed to count as speech.
	noiseRatio = [4]float64{1.5, 2.0, 2.5, 3.2}
)

const (
	// noiseAttack is the EMA coefficient when the signal is below the current
	// floor (fast downward adaptation).
	noiseAttack = 0.30

	// noiseRelease is the EMA coefficient when the signal is above the floor
	// (slow upward adaptation, so speech does not raise the floor).
	noiseRelease = 0.01

	// initialFloor seeds the noise estimate before any frames are seen.
	initialFloor = 150.0
)

// Engine creates energy classifiers.
type Engine struct{}

// Compile-time interface assertion.
var _ vad.Engine = Engine{}

// New returns the energy VAD engine.
func New() Engine { return Engine{} }

// NewClassifier creates a classifier for the given config.
func (Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &classifier{
		frameBytes: cfg.FrameBytes(),
		floor:      rmsFloor[cfg.Aggressiveness],
		ratio:      noiseRatio[cfg.Aggressiveness],
		noise:      initialFloor,
	}, nil
}

type classifier struct {
	frameBytes int
	floor      float64
	ratio      float64
	noise      float64
	closed     bool
}

// IsSpeech classifies one frame by RMS energy against the adaptive floor.
func (c *classifier) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != c.frameBytes {
		return false, &vad.FrameSizeError{Got: len(frame), Want: c.frameBytes}
	}

	rms := frameRMS(frame)

	speech := rms > c.floor && rms > c.noise*c.ratio

	// Update the noise estimate only from frames we did not call speech, so
	// sustained talking cannot drag the floor up underneath itself.
	if !speech {
		coeff := noiseRelease
		if rms < c.noise {
			coeff = noiseAttack
		}
		c.noise += coeff * (rms - c.noise)
	}
	return speech, nil
}

// Reset clears the adaptive noise floor.
func (c *classifier) Reset() {
	c.noise = initialFloor
}

// Close marks the classifier closed. No resources are held.
func (c *classifier) Close() error {
	c.closed = true
	return nil
}

// frameRMS computes the root-mean-square of little-endian int16 PCM.
func frameRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
