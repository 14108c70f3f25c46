// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify classifiers are created with the expected Config.
// Use Classifier to script per-frame speech judgments and inspect the frames
// submitted for classification.
package mock

import (
	"sync"

	"github.com/parley-ai/parley/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, a default Classifier
	// is returned.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned as the error from NewClassifier.
	NewClassifierErr error

	// Configs records the Config of every NewClassifier call in order.
	Configs []vad.Config
}

// NewClassifier records the call and returns Classifier, NewClassifierErr.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// Classifier is a mock implementation of vad.Classifier. With no script set,
// every frame is judged non-speech.
type Classifier struct {
	mu sync.Mutex

	// Script is consumed one judgment per IsSpeech call. When exhausted,
	// Fallback is returned.
	Script []bool

	// Fallback is the judgment returned after Script is exhausted.
	Fallback bool

	// Err, if non-nil, is returned by every IsSpeech call.
	Err error

	// Frames records a copy of every frame passed to IsSpeech.
	Frames [][]byte

	// ResetCount is the number of Reset calls.
	ResetCount int

	// CloseCount is the number of Close calls.
	CloseCount int
}

// IsSpeech records the frame and returns the next scripted judgment.
func (c *Classifier) IsSpeech(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.Frames = append(c.Frames, cp)
	if c.Err != nil {
		return false, c.Err
	}
	if len(c.Script) > 0 {
		v := c.Script[0]
		c.Script = c.Script[1:]
		return v, nil
	}
	return c.Fallback, nil
}

// Reset records the call.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCount++
}

// Close records the call and returns nil.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}

// Compile-time interface assertion.
var _ vad.Classifier = (*Classifier)(nil)
