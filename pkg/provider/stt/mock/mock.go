// Package mock provides a test double for the stt package interface.
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/stt"
)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call when Err is nil. If nil, a
	// Transcript with Text "ok" is returned.
	Result *stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Requests records every request in order.
	Requests []stt.TranscribeRequest
}

// Transcribe records the request and returns Result, Err.
func (t *Transcriber) Transcribe(_ context.Context, req stt.TranscribeRequest) (*stt.Transcript, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Requests = append(t.Requests, req)
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Result != nil {
		return t.Result, nil
	}
	return &stt.Transcript{Text: "ok"}, nil
}

// Calls returns the number of recorded requests.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Requests)
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*Transcriber)(nil)
