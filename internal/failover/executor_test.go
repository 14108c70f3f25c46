package failover_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/failover"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/codec"
	sttmock "github.com/parley-ai/parley/pkg/provider/stt/mock"
	"github.com/parley-ai/parley/pkg/provider/tts"
	ttsmock "github.com/parley-ai/parley/pkg/provider/tts/mock"
)

var pcmFormat = audio.Format{SampleRate: 16000, Channels: 1}

var errRefused = errors.New("dial tcp 127.0.0.1:8880: connection refused")

// goodWAV is a decodable synthesis payload in the pipeline format.
func goodWAV() []byte {
	return audio.EncodeWAV(audio.Int16sToBytes(make([]int16, 160)), pcmFormat)
}

func wavSynth() *ttsmock.Synthesizer {
	return &ttsmock.Synthesizer{Result: &tts.SpeechResult{Audio: goodWAV(), Encoding: codec.EncodingWAV}}
}

func newExecutor(t *testing.T, endpoints ...*failover.Endpoint) *failover.Executor {
	t.Helper()
	reg, err := failover.NewRegistry(endpoints...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return failover.NewExecutor(reg, pcmFormat)
}

// ── synthesis failover ───────────────────────────────────────────────────────

func TestSynthesizeFailsOverInPriorityOrder(t *testing.T) {
	down := &ttsmock.Synthesizer{Err: errRefused}
	up := wavSynth()
	x := newExecutor(t,
		failover.NewTTS("kokoro-local", down, failover.AsLocal()),
		failover.NewTTS("openai", up, failover.WithEncoding(codec.EncodingWAV)),
	)

	outcome, err := x.Synthesize(context.Background(), "hello", failover.SynthesisOptions{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if outcome.Endpoint != "openai" {
		t.Errorf("endpoint: got %q, want %q", outcome.Endpoint, "openai")
	}
	if outcome.Format != pcmFormat {
		t.Errorf("format: got %+v, want %+v", outcome.Format, pcmFormat)
	}
	if len(outcome.Attempts) != 2 {
		t.Fatalf("attempts: got %d, want 2", len(outcome.Attempts))
	}
	if !errors.Is(outcome.Attempts[0].Err, failover.ErrEndpointUnreachable) {
		t.Errorf("first attempt: got %v, want unreachable class", outcome.Attempts[0].Err)
	}
	if outcome.Attempts[1].Err != nil {
		t.Errorf("winning attempt carries an error: %v", outcome.Attempts[1].Err)
	}
	if down.Calls() != 1 {
		t.Errorf("failed endpoint tried %d times, want exactly 1 (no same-endpoint retry)", down.Calls())
	}
}

func TestSynthesizeSingleAttemptPerEndpoint(t *testing.T) {
	down := &ttsmock.Synthesizer{Err: errRefused}
	x := newExecutor(t, failover.NewTTS("kokoro-local", down, failover.AsLocal()))

	_, err := x.Synthesize(context.Background(), "hello", failover.SynthesisOptions{})
	var all *failover.AllEndpointsError
	if !errors.As(err, &all) {
		t.Fatalf("expected *AllEndpointsError, got %v", err)
	}
	if down.Calls() != 1 {
		t.Errorf("endpoint tried %d times within one pass, want 1", down.Calls())
	}
}

func TestSynthesizeLocalEndpointAlwaysRetried(t *testing.T) {
	// A local endpoint carries no failure memory: every conversation gets a
	// fresh connection attempt even after many failures.
	down := &ttsmock.Synthesizer{Err: errRefused}
	x := newExecutor(t, failover.NewTTS("kokoro-local", down, failover.AsLocal()))

	for range 5 {
		if _, err := x.Synthesize(context.Background(), "hi", failover.SynthesisOptions{}); err == nil {
			t.Fatal("expected failure")
		}
	}
	if down.Calls() != 5 {
		t.Errorf("local endpoint tried %d times across 5 passes, want 5", down.Calls())
	}
}

func TestSynthesizeRemoteFailureMemorySkips(t *testing.T) {
	down := &ttsmock.Synthesizer{Err: errRefused}
	fallback := wavSynth()
	x := newExecutor(t,
		failover.NewTTS("flaky-remote", down,
			failover.WithFailureMemory(1, time.Hour)),
		failover.NewTTS("openai", fallback, failover.WithEncoding(codec.EncodingWAV)),
	)

	// First pass tries the remote and opens its failure memory.
	if _, err := x.Synthesize(context.Background(), "one", failover.SynthesisOptions{}); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// Second pass must skip it without a connection attempt.
	outcome, err := x.Synthesize(context.Background(), "two", failover.SynthesisOptions{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if down.Calls() != 1 {
		t.Errorf("remote tried %d times, want 1 (second pass skips)", down.Calls())
	}
	if !errors.Is(outcome.Attempts[0].Err, failover.ErrSkippedOpen) {
		t.Errorf("skipped attempt: got %v, want ErrSkippedOpen", outcome.Attempts[0].Err)
	}
}

func TestSynthesizeUndecodableResponseFailsOver(t *testing.T) {
	garbage := &ttsmock.Synthesizer{Result: &tts.SpeechResult{Audio: []byte("not a wav"), Encoding: codec.EncodingWAV}}
	up := wavSynth()
	x := newExecutor(t,
		failover.NewTTS("broken", garbage, failover.AsLocal()),
		failover.NewTTS("openai", up, failover.WithEncoding(codec.EncodingWAV)),
	)

	outcome, err := x.Synthesize(context.Background(), "hello", failover.SynthesisOptions{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if outcome.Endpoint != "openai" {
		t.Errorf("endpoint: got %q, want %q", outcome.Endpoint, "openai")
	}
	if !errors.Is(outcome.Attempts[0].Err, failover.ErrEndpointBadResponse) {
		t.Errorf("first attempt: got %v, want bad-response class", outcome.Attempts[0].Err)
	}
}

func TestSynthesizeAppliesDefaultsAndOverrides(t *testing.T) {
	synth := wavSynth()
	x := newExecutor(t, failover.NewTTS("kokoro-local", synth,
		failover.AsLocal(),
		failover.WithModel("kokoro"),
		failover.WithVoice("af_sky"),
	))

	if _, err := x.Synthesize(context.Background(), "hello", failover.SynthesisOptions{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, err := x.Synthesize(context.Background(), "hello", failover.SynthesisOptions{Voice: "af_bella", Speed: 1.5}); err != nil {
		t.Fatalf("Synthesize with overrides: %v", err)
	}

	if got := synth.Requests[0]; got.Model != "kokoro" || got.Voice != "af_sky" {
		t.Errorf("defaults: got model=%q voice=%q", got.Model, got.Voice)
	}
	if got := synth.Requests[1]; got.Voice != "af_bella" || got.Speed != 1.5 {
		t.Errorf("overrides: got voice=%q speed=%v", got.Voice, got.Speed)
	}
}

func TestAllEndpointsErrorNamesEveryAttempt(t *testing.T) {
	a := &ttsmock.Synthesizer{Err: errRefused}
	b := &ttsmock.Synthesizer{Err: context.DeadlineExceeded}
	x := newExecutor(t,
		failover.NewTTS("alpha", a, failover.AsLocal()),
		failover.NewTTS("beta", b, failover.AsLocal()),
	)

	_, err := x.Synthesize(context.Background(), "hello", failover.SynthesisOptions{})
	var all *failover.AllEndpointsError
	if !errors.As(err, &all) {
		t.Fatalf("expected *AllEndpointsError, got %v", err)
	}
	if all.Kind != failover.KindTTS {
		t.Errorf("kind: got %q, want %q", all.Kind, failover.KindTTS)
	}
	if len(all.Attempts) != 2 {
		t.Fatalf("attempts: got %d, want 2", len(all.Attempts))
	}
	if !errors.Is(all.Attempts[0].Err, failover.ErrEndpointUnreachable) {
		t.Errorf("alpha: got %v, want unreachable class", all.Attempts[0].Err)
	}
	if !errors.Is(all.Attempts[1].Err, failover.ErrEndpointTimeout) {
		t.Errorf("beta: got %v, want timeout class", all.Attempts[1].Err)
	}
	msg := all.Error()
	for _, name := range []string{"alpha", "beta"} {
		if !bytes.Contains([]byte(msg), []byte(name)) {
			t.Errorf("error message %q does not name endpoint %q", msg, name)
		}
	}
}

// ── transcription failover and negotiation ───────────────────────────────────

func TestTranscribeNegotiatesEncodingPerEndpoint(t *testing.T) {
	down := &sttmock.Transcriber{Err: errRefused}
	up := &sttmock.Transcriber{}
	x := newExecutor(t,
		failover.NewSTT("whisper-local", down, failover.AsLocal()),
		failover.NewSTT("openai", up),
	)

	pcm := audio.Int16sToBytes(make([]int16, 16000)) // one second of silence
	outcome, err := x.Transcribe(context.Background(), pcm, failover.TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if outcome.Endpoint != "openai" {
		t.Errorf("endpoint: got %q, want %q", outcome.Endpoint, "openai")
	}

	// Loopback negotiates uncompressed WAV; the network endpoint gets Ogg Opus.
	local := down.Requests[0]
	if local.Encoding != codec.EncodingWAV {
		t.Errorf("local encoding: got %q, want %q", local.Encoding, codec.EncodingWAV)
	}
	if !bytes.HasPrefix(local.Audio, []byte("RIFF")) {
		t.Error("local payload is not a WAV container")
	}
	remote := up.Requests[0]
	if remote.Encoding != codec.EncodingOpus {
		t.Errorf("remote encoding: got %q, want %q", remote.Encoding, codec.EncodingOpus)
	}
	if !bytes.HasPrefix(remote.Audio, []byte("OggS")) {
		t.Error("remote payload is not an Ogg stream")
	}
}

func TestTranscribePinnedEncodingWins(t *testing.T) {
	up := &sttmock.Transcriber{}
	x := newExecutor(t, failover.NewSTT("openai", up, failover.WithEncoding(codec.EncodingWAV)))

	pcm := audio.Int16sToBytes(make([]int16, 480))
	if _, err := x.Transcribe(context.Background(), pcm, failover.TranscribeOptions{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := up.Requests[0].Encoding; got != codec.EncodingWAV {
		t.Errorf("encoding: got %q, want pinned %q", got, codec.EncodingWAV)
	}
}

func TestTranscribeAppliesLanguageDefaultsAndOverrides(t *testing.T) {
	up := &sttmock.Transcriber{}
	x := newExecutor(t, failover.NewSTT("whisper-local", up,
		failover.AsLocal(),
		failover.WithModel("Systran/faster-whisper-small"),
		failover.WithLanguage("en"),
	))

	pcm := audio.Int16sToBytes(make([]int16, 480))
	if _, err := x.Transcribe(context.Background(), pcm, failover.TranscribeOptions{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, err := x.Transcribe(context.Background(), pcm, failover.TranscribeOptions{Language: "de", Prompt: "Parley"}); err != nil {
		t.Fatalf("Transcribe with overrides: %v", err)
	}

	if got := up.Requests[0]; got.Language != "en" || got.Model != "Systran/faster-whisper-small" {
		t.Errorf("defaults: got language=%q model=%q", got.Language, got.Model)
	}
	if got := up.Requests[1]; got.Language != "de" || got.Prompt != "Parley" {
		t.Errorf("overrides: got language=%q prompt=%q", got.Language, got.Prompt)
	}
}

func TestTranscribeAllEndpointsFail(t *testing.T) {
	down := &sttmock.Transcriber{Err: errRefused}
	x := newExecutor(t, failover.NewSTT("whisper-local", down, failover.AsLocal()))

	_, err := x.Transcribe(context.Background(), audio.Int16sToBytes(make([]int16, 480)), failover.TranscribeOptions{})
	var all *failover.AllEndpointsError
	if !errors.As(err, &all) {
		t.Fatalf("expected *AllEndpointsError, got %v", err)
	}
	if all.Kind != failover.KindSTT {
		t.Errorf("kind: got %q, want %q", all.Kind, failover.KindSTT)
	}
}

func TestTranscribeEncodeFailureFailsOver(t *testing.T) {
	// An endpoint pinned to a format the codec layer cannot produce must cost
	// one failed attempt, not the whole pass.
	skipped := &sttmock.Transcriber{}
	up := &sttmock.Transcriber{}
	x := newExecutor(t,
		failover.NewSTT("legacy", skipped, failover.AsLocal(), failover.WithEncoding("mp3")),
		failover.NewSTT("whisper-local", up, failover.AsLocal()),
	)

	outcome, err := x.Transcribe(context.Background(), audio.Int16sToBytes(make([]int16, 480)), failover.TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if outcome.Endpoint != "whisper-local" {
		t.Errorf("endpoint: got %q, want %q", outcome.Endpoint, "whisper-local")
	}
	if len(outcome.Attempts) != 2 {
		t.Fatalf("attempts: got %d, want 2", len(outcome.Attempts))
	}
	if outcome.Attempts[0].Err == nil {
		t.Error("unencodable endpoint's attempt carries no error")
	}
	if skipped.Calls() != 0 {
		t.Errorf("unencodable endpoint contacted %d times, want 0", skipped.Calls())
	}
}

func TestTranscribeEncodeFailureEverywhereIsAggregate(t *testing.T) {
	only := &sttmock.Transcriber{}
	ep := failover.NewSTT("legacy", only, failover.AsLocal(), failover.WithEncoding("mp3"))
	x := newExecutor(t, ep)

	_, err := x.Transcribe(context.Background(), audio.Int16sToBytes(make([]int16, 480)), failover.TranscribeOptions{})
	var all *failover.AllEndpointsError
	if !errors.As(err, &all) {
		t.Fatalf("expected *AllEndpointsError, got %T: %v", err, err)
	}
	if len(all.Attempts) != 1 || all.Attempts[0].Endpoint != "legacy" {
		t.Errorf("attempts: got %+v, want one for legacy", all.Attempts)
	}
	if only.Calls() != 0 {
		t.Errorf("endpoint contacted %d times, want 0", only.Calls())
	}
	// The endpoint was never tried, so nothing was learned about it.
	if ep.Status() != failover.StatusUnknown {
		t.Errorf("status: got %v, want unknown", ep.Status())
	}
}

// ── endpoint status ──────────────────────────────────────────────────────────

func TestEndpointStatusTracksOutcome(t *testing.T) {
	down := &ttsmock.Synthesizer{Err: errRefused}
	up := wavSynth()
	downEp := failover.NewTTS("kokoro-local", down, failover.AsLocal())
	upEp := failover.NewTTS("openai", up, failover.WithEncoding(codec.EncodingWAV))
	x := newExecutor(t, downEp, upEp)

	if downEp.Status() != failover.StatusUnknown {
		t.Errorf("initial status: got %v, want unknown", downEp.Status())
	}
	if _, err := x.Synthesize(context.Background(), "hello", failover.SynthesisOptions{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if downEp.Status() != failover.StatusUnreachable {
		t.Errorf("failed endpoint status: got %v, want unreachable", downEp.Status())
	}
	if upEp.Status() != failover.StatusOK {
		t.Errorf("healthy endpoint status: got %v, want ok", upEp.Status())
	}
}
