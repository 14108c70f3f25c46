package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/codec"
	"github.com/parley-ai/parley/pkg/provider/stt"
	"github.com/parley-ai/parley/pkg/provider/tts"
)

// Executor drives one operation (synthesize or transcribe) across the
// registry's endpoints in strict priority order. On a connection-level
// failure — unreachable, timeout, or malformed response — it moves
// immediately to the next endpoint: no retry against the same endpoint, no
// inter-endpoint backoff. On success it stops and returns.
//
// Safe for concurrent use.
type Executor struct {
	registry *Registry

	// pcmFormat is the pipeline's internal PCM format; synthesis results are
	// converted into it and capture buffers are encoded from it.
	pcmFormat audio.Format
}

// NewExecutor creates an Executor over the registry. pcmFormat is the
// caller's internal PCM format (typically the audio device format).
func NewExecutor(registry *Registry, pcmFormat audio.Format) *Executor {
	return &Executor{registry: registry, pcmFormat: pcmFormat}
}

// SynthesisOptions carries per-call overrides for Synthesize.
type SynthesisOptions struct {
	// Voice overrides the endpoint's default voice.
	Voice string

	// Speed adjusts speaking rate (0 = endpoint default).
	Speed float64
}

// SynthesisOutcome is a successful synthesis converted to the pipeline's
// internal PCM format.
type SynthesisOutcome struct {
	// PCM is little-endian int16 audio in the executor's pcmFormat.
	PCM []byte

	// Format is the PCM format (equal to the executor's pcmFormat).
	Format audio.Format

	// Endpoint names the endpoint that produced the audio.
	Endpoint string

	// Attempts lists every endpoint tried in order, including the success.
	Attempts []Attempt
}

// Synthesize runs text through the TTS endpoints in priority order and
// returns decoded PCM. On total failure it returns an *AllEndpointsError
// naming every endpoint and its failure reason.
func (x *Executor) Synthesize(ctx context.Context, text string, opts SynthesisOptions) (*SynthesisOutcome, error) {
	var attempts []Attempt

	for _, ep := range x.registry.Endpoints(KindTTS) {
		if ep.breaker != nil && !ep.breaker.allow() {
			attempts = append(attempts, Attempt{Endpoint: ep.Name, Err: ErrSkippedOpen})
			continue
		}

		enc := ep.encoding()
		start := time.Now()
		result, err := x.synthesizeOne(ctx, ep, text, opts, enc)
		if err != nil {
			attempts = append(attempts, Attempt{Endpoint: ep.Name, Err: err})
			x.recordFailure(ep, err)
			continue
		}

		pcm, err := x.decodeToPipeline(result)
		if err != nil {
			// The endpoint answered but with bytes we cannot decode — treat as
			// a malformed response and keep failing over.
			err = fmt.Errorf("%w: %v", ErrEndpointBadResponse, err)
			attempts = append(attempts, Attempt{Endpoint: ep.Name, Err: err})
			x.recordFailure(ep, err)
			continue
		}

		x.recordSuccess(ep)
		attempts = append(attempts, Attempt{Endpoint: ep.Name})
		slog.Debug("synthesis succeeded",
			"endpoint", ep.Name,
			"encoding", enc,
			"bytes", len(pcm),
			"took", time.Since(start))
		return &SynthesisOutcome{
			PCM:      pcm,
			Format:   x.pcmFormat,
			Endpoint: ep.Name,
			Attempts: attempts,
		}, nil
	}

	return nil, &AllEndpointsError{Kind: KindTTS, Attempts: attempts}
}

func (x *Executor) synthesizeOne(ctx context.Context, ep *Endpoint, text string, opts SynthesisOptions, enc codec.Encoding) (*tts.SpeechResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	voice := opts.Voice
	if voice == "" {
		voice = ep.Voice
	}
	result, err := ep.synth.Synthesize(ctx, tts.SpeechRequest{
		Text:     text,
		Voice:    voice,
		Model:    ep.Model,
		Speed:    opts.Speed,
		Encoding: enc,
	})
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// decodeToPipeline unwraps an encoded synthesis result into the executor's
// internal PCM format.
func (x *Executor) decodeToPipeline(result *tts.SpeechResult) ([]byte, error) {
	tc, err := codec.For(result.Encoding, x.pcmFormat)
	if err != nil {
		return nil, err
	}
	pcm, format, err := tc.Decode(result.Audio)
	if err != nil {
		return nil, err
	}
	conv := audio.Converter{Target: x.pcmFormat}
	out := conv.Convert(audio.Frame{Data: pcm, SampleRate: format.SampleRate, Channels: format.Channels})
	if len(out.Data) == 0 {
		return nil, errors.New("decoded audio is empty")
	}
	return out.Data, nil
}

// TranscribeOptions carries per-call overrides for Transcribe.
type TranscribeOptions struct {
	// Language overrides the endpoint's default language hint.
	Language string

	// Prompt optionally biases recognition toward expected vocabulary.
	Prompt string
}

// TranscribeOutcome is a successful transcription.
type TranscribeOutcome struct {
	// Transcript is the recognition result.
	Transcript *stt.Transcript

	// Endpoint names the endpoint that produced the transcript.
	Endpoint string

	// Attempts lists every endpoint tried in order, including the success.
	Attempts []Attempt
}

// Transcribe encodes the captured PCM buffer per endpoint negotiation and
// runs it through the STT endpoints in priority order. On total failure it
// returns an *AllEndpointsError naming every endpoint and its failure reason.
func (x *Executor) Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*TranscribeOutcome, error) {
	var attempts []Attempt

	// Encoded payloads are cached per encoding so two endpoints negotiating
	// the same format don't transcode the buffer twice.
	encoded := make(map[codec.Encoding][]byte, 2)

	for _, ep := range x.registry.Endpoints(KindSTT) {
		if ep.breaker != nil && !ep.breaker.allow() {
			attempts = append(attempts, Attempt{Endpoint: ep.Name, Err: ErrSkippedOpen})
			continue
		}

		enc := ep.encoding()
		payload, ok := encoded[enc]
		if !ok {
			var err error
			payload, err = x.encodePayload(pcm, enc)
			if err != nil {
				// Encoding for this endpoint's negotiated format failed before
				// the endpoint was ever contacted, so its status and failure
				// memory are left alone. The remaining endpoints may negotiate
				// a format that does work.
				attempts = append(attempts, Attempt{Endpoint: ep.Name, Err: err})
				slog.Warn("encode failed for endpoint, trying next",
					"endpoint", ep.Name,
					"encoding", enc,
					"err", err)
				continue
			}
			encoded[enc] = payload
		}

		start := time.Now()
		transcript, err := x.transcribeOne(ctx, ep, payload, enc, opts)
		if err != nil {
			attempts = append(attempts, Attempt{Endpoint: ep.Name, Err: err})
			x.recordFailure(ep, err)
			continue
		}

		x.recordSuccess(ep)
		attempts = append(attempts, Attempt{Endpoint: ep.Name})
		slog.Debug("transcription succeeded",
			"endpoint", ep.Name,
			"encoding", enc,
			"chars", len(transcript.Text),
			"took", time.Since(start))
		return &TranscribeOutcome{
			Transcript: transcript,
			Endpoint:   ep.Name,
			Attempts:   attempts,
		}, nil
	}

	return nil, &AllEndpointsError{Kind: KindSTT, Attempts: attempts}
}

// encodePayload wraps the capture buffer in the given wire format.
func (x *Executor) encodePayload(pcm []byte, enc codec.Encoding) ([]byte, error) {
	tc, err := codec.For(enc, x.pcmFormat)
	if err != nil {
		return nil, err
	}
	payload, err := tc.Encode(pcm, x.pcmFormat)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", enc, err)
	}
	return payload, nil
}

func (x *Executor) transcribeOne(ctx context.Context, ep *Endpoint, payload []byte, enc codec.Encoding, opts TranscribeOptions) (*stt.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	language := opts.Language
	if language == "" {
		language = ep.Language
	}
	transcript, err := ep.trans.Transcribe(ctx, stt.TranscribeRequest{
		Audio:    payload,
		Encoding: enc,
		Model:    ep.Model,
		Language: language,
		Prompt:   opts.Prompt,
	})
	if err != nil {
		return nil, classify(err)
	}
	return transcript, nil
}

func (x *Executor) recordFailure(ep *Endpoint, err error) {
	ep.setStatus(StatusUnreachable)
	if ep.breaker != nil {
		ep.breaker.recordFailure()
	}
	slog.Warn("endpoint failed, trying next",
		"kind", ep.Kind,
		"endpoint", ep.Name,
		"local", ep.Local,
		"err", err)
}

func (x *Executor) recordSuccess(ep *Endpoint) {
	ep.setStatus(StatusOK)
	if ep.breaker != nil {
		ep.breaker.recordSuccess()
	}
}

// ---- failure classification ----

// Sentinel failure classes. Every endpoint-level failure is wrapped in
// exactly one of these so callers and logs can distinguish them, while all
// three trigger identical failover behaviour.
var (
	ErrEndpointUnreachable = errors.New("endpoint unreachable")
	ErrEndpointTimeout     = errors.New("endpoint timeout")
	ErrEndpointBadResponse = errors.New("endpoint bad response")
)

// classify wraps an endpoint error with its failure class.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrEndpointUnreachable),
		errors.Is(err, ErrEndpointTimeout),
		errors.Is(err, ErrEndpointBadResponse):
		return err
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", ErrEndpointBadResponse, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrEndpointTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrEndpointTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
}
