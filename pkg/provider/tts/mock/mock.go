// Package mock provides a test double for the tts package interface.
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Result is returned by every Synthesize call when Err is nil.
	Result *tts.SpeechResult

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Requests records every request in order.
	Requests []tts.SpeechRequest
}

// Synthesize records the request and returns Result, Err.
func (s *Synthesizer) Synthesize(_ context.Context, req tts.SpeechRequest) (*tts.SpeechResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result != nil {
		return s.Result, nil
	}
	return &tts.SpeechResult{Audio: []byte{0, 0}, Encoding: req.Encoding}, nil
}

// Calls returns the number of recorded requests.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)
