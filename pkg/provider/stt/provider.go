// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber wraps one speech endpoint (a local Whisper server behind an
// OpenAI-compatible HTTP facade, or a cloud service) and transcribes one
// complete captured utterance per call. Transcription is batch-oriented here:
// the silence detector has already decided where the utterance ends, so
// streaming partials buy nothing and batch uploads keep local and cloud
// backends interchangeable.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"

	"github.com/parley-ai/parley/pkg/audio/codec"
)

// TranscribeRequest carries one encoded utterance for transcription.
type TranscribeRequest struct {
	// Audio is the encoded utterance payload.
	Audio []byte

	// Encoding identifies the format of Audio (chosen by format negotiation).
	Encoding codec.Encoding

	// Model selects the backend model (e.g., "whisper-1", "Systran/faster-whisper-small").
	Model string

	// Language is the BCP-47 language hint. Empty lets the backend detect.
	Language string

	// Prompt optionally biases recognition toward expected vocabulary.
	Prompt string
}

// Segment is a timed span of the transcript, when the backend reports timing.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Transcript is the recognition result for one utterance.
type Transcript struct {
	// Text is the full transcribed speech. May be empty when the backend
	// heard nothing intelligible.
	Text string

	// Duration is the audio length as measured by the backend, if reported.
	Duration time.Duration

	// Segments holds per-span timing detail when available; nil otherwise.
	Segments []Segment
}

// Transcriber is the abstraction over any STT backend endpoint.
type Transcriber interface {
	// Transcribe recognizes the utterance in req.Audio. Returns an error when
	// the backend is unreachable, times out, or responds with a non-success
	// status; the failover executor classifies those errors to decide whether
	// to try the next endpoint.
	Transcribe(ctx context.Context, req TranscribeRequest) (*Transcript, error)
}
