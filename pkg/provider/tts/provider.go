// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer wraps one speech endpoint (a local engine such as Kokoro or
// Piper behind an OpenAI-compatible HTTP facade, or a cloud service) and
// produces a complete encoded utterance per call. Synthesis here is
// batch-oriented: the conversation engine needs the full audio before playback
// starts so that barge-in cancellation has a well-defined "current position".
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/parley-ai/parley/pkg/audio/codec"
)

// SpeechRequest describes one utterance to synthesize.
type SpeechRequest struct {
	// Text is the utterance to speak. Must be non-empty.
	Text string

	// Voice is the backend voice identifier (e.g., "alloy", "af_sky").
	Voice string

	// Model selects the backend model (e.g., "tts-1", "kokoro").
	Model string

	// Speed adjusts the speaking rate (0.25–4.0, 1.0 = default; 0 means
	// backend default).
	Speed float64

	// Encoding is the wire format the backend should return, chosen by
	// format negotiation.
	Encoding codec.Encoding
}

// SpeechResult is the synthesized audio in the requested wire format.
type SpeechResult struct {
	// Audio is the encoded utterance.
	Audio []byte

	// Encoding identifies the format of Audio.
	Encoding codec.Encoding
}

// Synthesizer is the abstraction over any TTS backend endpoint.
type Synthesizer interface {
	// Synthesize produces the spoken form of req.Text. Returns an error when
	// the backend is unreachable, times out, or responds with a non-success
	// status; the failover executor classifies those errors to decide whether
	// to try the next endpoint.
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
}
