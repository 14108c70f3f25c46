package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/failover"
	"github.com/parley-ai/parley/internal/listen"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/codec"
	devmock "github.com/parley-ai/parley/pkg/audio/device/mock"
	"github.com/parley-ai/parley/pkg/provider/stt"
	sttmock "github.com/parley-ai/parley/pkg/provider/stt/mock"
	"github.com/parley-ai/parley/pkg/provider/tts"
	ttsmock "github.com/parley-ai/parley/pkg/provider/tts/mock"
	"github.com/parley-ai/parley/pkg/provider/vad"
	vadmock "github.com/parley-ai/parley/pkg/provider/vad/mock"
)

var pipeFormat = audio.Format{SampleRate: 16000, Channels: 1}

// wavOf builds a decodable synthesis payload of the given sample count.
func wavOf(samples int) []byte {
	return audio.EncodeWAV(audio.Int16sToBytes(make([]int16, samples)), pipeFormat)
}

func errRefused() error {
	return errors.New("dial tcp 127.0.0.1:8880: connection refused")
}

func silenceFrames(n int) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = devmock.SilenceFrame(16000, 30*time.Millisecond, time.Duration(i)*30*time.Millisecond)
	}
	return frames
}

// fixture wires an orchestrator around mocks with fast listen bounds.
type fixture struct {
	dev    *devmock.Duplex
	engine *vadmock.Engine
	synth  *ttsmock.Synthesizer
	trans  *sttmock.Transcriber
	orch   *orchestrator.Orchestrator
}

func newFixture(t *testing.T, mod func(*orchestrator.Options)) *fixture {
	t.Helper()
	f := &fixture{
		dev: &devmock.Duplex{
			CaptureFrames:    silenceFrames(60),
			CloseAfterScript: true,
		},
		engine: &vadmock.Engine{},
		synth:  &ttsmock.Synthesizer{Result: &tts.SpeechResult{Audio: wavOf(1600), Encoding: codec.EncodingWAV}},
		trans:  &sttmock.Transcriber{},
	}
	reg, err := failover.NewRegistry(
		failover.NewTTS("kokoro", f.synth, failover.AsLocal()),
		failover.NewSTT("whisper", f.trans, failover.AsLocal()),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	opts := orchestrator.Options{
		Device:    f.dev,
		Executor:  failover.NewExecutor(reg, pipeFormat),
		VAD:       f.engine,
		ListenVAD: vad.Config{SampleRate: 16000, FrameMs: 30, Aggressiveness: 3},
		Listen: listen.Config{
			SilenceThreshold: 150 * time.Millisecond, // 5 frames
			MinDuration:      60 * time.Millisecond,
			MaxDuration:      3 * time.Second,
			GracePeriod:      300 * time.Millisecond, // 10 frames
		},
	}
	if mod != nil {
		mod(&opts)
	}
	f.orch, err = orchestrator.New(opts)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return f
}

// ── rounds without playback ──────────────────────────────────────────────────

func TestConverseSilentRound(t *testing.T) {
	f := newFixture(t, nil)

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if ex.Reason != listen.ReasonSilent {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonSilent)
	}
	if ex.Transcript != nil {
		t.Errorf("silent round must carry no transcript, got %+v", ex.Transcript)
	}
	if f.trans.Calls() != 0 {
		t.Errorf("transcriber called %d times on a silent round, want 0", f.trans.Calls())
	}
	if ex.ID == "" {
		t.Error("exchange has no ID")
	}
}

func TestConverseTranscribesReply(t *testing.T) {
	f := newFixture(t, nil)
	// 10 speech frames then silence: the capture completes on its own.
	f.engine.Classifier = &vadmock.Classifier{Script: []bool{
		true, true, true, true, true, true, true, true, true, true,
	}}
	f.trans.Result = &stt.Transcript{Text: "hello there"}

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{Language: "en"})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if ex.Reason != listen.ReasonCompleted {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonCompleted)
	}
	if ex.Transcript == nil || ex.Transcript.Text != "hello there" {
		t.Errorf("transcript: got %+v, want %q", ex.Transcript, "hello there")
	}
	if ex.STTEndpoint != "whisper" {
		t.Errorf("stt endpoint: got %q, want %q", ex.STTEndpoint, "whisper")
	}
	if ex.Duration <= 0 {
		t.Error("exchange duration not set")
	}
	// Loopback endpoint receives the reply as a WAV container.
	if got := f.trans.Requests[0]; got.Encoding != codec.EncodingWAV || got.Language != "en" {
		t.Errorf("request: got encoding=%q language=%q", got.Encoding, got.Language)
	}
}

func TestConverseTranscriptionFailureRetainsAudio(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Classifier = &vadmock.Classifier{Script: []bool{true, true, true, true, true}}
	f.trans.Err = errRefused()

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{})
	if err != nil {
		t.Fatalf("Converse must not fail on endpoint errors: %v", err)
	}
	if ex.Reason != listen.ReasonTranscriptionFailed {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonTranscriptionFailed)
	}
	if ex.Transcript != nil {
		t.Error("failed transcription must leave the transcript nil")
	}
	if ex.TranscribeErr == nil {
		t.Error("aggregate STT failure not surfaced on the exchange")
	}
	if !bytes.HasPrefix(ex.RawAudio, []byte("RIFF")) {
		t.Error("captured reply not retained as WAV")
	}
}

// ── rounds with playback ─────────────────────────────────────────────────────

func TestConversePlaysSynthesizedText(t *testing.T) {
	f := newFixture(t, nil)

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{Text: "how can I help?"})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if ex.TTSEndpoint != "kokoro" {
		t.Errorf("tts endpoint: got %q, want %q", ex.TTSEndpoint, "kokoro")
	}
	// 1600 synthesized samples reach the device intact.
	if got := f.dev.PlayedBytes(); got != 3200 {
		t.Errorf("played bytes: got %d, want 3200", got)
	}
	if ex.BargeIn {
		t.Error("no interruption was scripted")
	}
	if ex.Reason != listen.ReasonSilent {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonSilent)
	}
}

func TestConverseSynthesisFailureStillListens(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.Err = errRefused()

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{Text: "anyone there?"})
	if err != nil {
		t.Fatalf("Converse must not fail on endpoint errors: %v", err)
	}
	if ex.TTSEndpoint != "" {
		t.Errorf("tts endpoint: got %q, want empty", ex.TTSEndpoint)
	}
	if f.dev.PlayedBytes() != 0 {
		t.Error("nothing should play when synthesis fails everywhere")
	}
	// The round still listened.
	if ex.Reason != listen.ReasonSilent {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonSilent)
	}
}

func TestConverseBargeInInterruptsPlayback(t *testing.T) {
	f := newFixture(t, func(o *orchestrator.Options) {
		o.BargeIn = orchestrator.BargeInConfig{
			Enabled:        true,
			Aggressiveness: 2,
			MinSpeech:      90 * time.Millisecond, // 3 frames
		}
	})
	// Playback would run far longer than the scripted interruption.
	f.dev.PlayDuration = 5 * time.Second
	// Two quiet frames, then sustained speech: the monitor triggers with a
	// 3-frame onset; the reply capture continues on the same stream and
	// completes after trailing silence.
	f.engine.Classifier = &vadmock.Classifier{Script: []bool{false, false, true, true, true}}

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{Text: "let me explain at length"})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if !ex.BargeIn {
		t.Fatal("barge-in not reported")
	}
	if ex.Reason != listen.ReasonBargeIn {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonBargeIn)
	}
	if f.dev.StopPlaybackCalls == 0 {
		t.Error("playback was never stopped")
	}
	if ex.Transcript == nil {
		t.Error("interrupting reply was not transcribed")
	}
	// The monitor classifier is built with its own aggressiveness; the reply
	// classifier keeps the capture setting.
	if len(f.engine.Configs) != 2 {
		t.Fatalf("classifiers built: got %d, want 2", len(f.engine.Configs))
	}
	if got := f.engine.Configs[0].Aggressiveness; got != 2 {
		t.Errorf("monitor aggressiveness: got %d, want 2", got)
	}
	if got := f.engine.Configs[1].Aggressiveness; got != 3 {
		t.Errorf("capture aggressiveness: got %d, want 3", got)
	}
}

// ── speak-only rounds ────────────────────────────────────────────────────────

func TestConverseSpeakOnlySkipsListening(t *testing.T) {
	f := newFixture(t, nil)

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{
		Text:      "good night",
		SpeakOnly: true,
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if ex.Reason != listen.ReasonCompleted {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonCompleted)
	}
	if got := f.dev.PlayedBytes(); got != 3200 {
		t.Errorf("played bytes: got %d, want 3200", got)
	}
	if ex.Transcript != nil {
		t.Errorf("speak-only round must carry no transcript, got %+v", ex.Transcript)
	}
	if f.trans.Calls() != 0 {
		t.Errorf("transcriber called %d times on a speak-only round, want 0", f.trans.Calls())
	}
	if f.dev.StopCaptureCalls != 0 {
		t.Error("microphone capture ran on a speak-only round")
	}
}

func TestConverseSpeakOnlyBargeInStillCaptures(t *testing.T) {
	f := newFixture(t, func(o *orchestrator.Options) {
		o.BargeIn = orchestrator.BargeInConfig{
			Enabled:        true,
			Aggressiveness: 2,
			MinSpeech:      90 * time.Millisecond, // 3 frames
		}
	})
	f.dev.PlayDuration = 5 * time.Second
	f.engine.Classifier = &vadmock.Classifier{Script: []bool{false, true, true, true}}
	f.trans.Result = &stt.Transcript{Text: "wait, stop"}

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{
		Text:      "a long announcement",
		SpeakOnly: true,
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	// Interrupting the agent overrides the caller's wish for silence.
	if !ex.BargeIn {
		t.Fatal("barge-in not reported")
	}
	if ex.Reason != listen.ReasonBargeIn {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonBargeIn)
	}
	if ex.Transcript == nil || ex.Transcript.Text != "wait, stop" {
		t.Errorf("transcript: got %+v, want %q", ex.Transcript, "wait, stop")
	}
}

// ── per-round listen overrides ───────────────────────────────────────────────

func TestConverseListenOverridesApply(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Classifier = &vadmock.Classifier{Script: []bool{
		true, true, true, true, true, true, true, true, true, true,
	}}
	f.trans.Result = &stt.Transcript{Text: "still talking"}

	agg := 1
	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{
		Listen: &orchestrator.ListenOverrides{
			MaxDuration:             240 * time.Millisecond, // 8 frames
			DisableSilenceDetection: true,
			VADAggressiveness:       &agg,
		},
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	// Silence detection is off for this round, so the shortened deadline wins.
	if ex.Reason != listen.ReasonTimedOut {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonTimedOut)
	}
	if ex.Transcript == nil || ex.Transcript.Text != "still talking" {
		t.Errorf("transcript: got %+v, want %q", ex.Transcript, "still talking")
	}
	if len(f.engine.Configs) != 1 {
		t.Fatalf("classifiers built: got %d, want 1", len(f.engine.Configs))
	}
	if got := f.engine.Configs[0].Aggressiveness; got != 1 {
		t.Errorf("capture aggressiveness: got %d, want override 1", got)
	}
}

func TestConversePlaysReadyCue(t *testing.T) {
	f := newFixture(t, func(o *orchestrator.Options) {
		o.Cue = orchestrator.CueConfig{Enabled: true, Lead: 50 * time.Millisecond, Trail: 50 * time.Millisecond}
	})

	ex, err := f.orch.Converse(context.Background(), orchestrator.Request{})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if f.dev.PlayedBytes() == 0 {
		t.Error("ready cue did not reach the device")
	}
	if ex.Reason != listen.ReasonSilent {
		t.Errorf("reason: got %q, want %q", ex.Reason, listen.ReasonSilent)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	f := newFixture(t, nil) // just for wired mocks
	base := orchestrator.Options{
		Device:    f.dev,
		Executor:  failover.NewExecutor(mustRegistry(t), pipeFormat),
		VAD:       f.engine,
		ListenVAD: vad.Config{SampleRate: 16000, FrameMs: 30, Aggressiveness: 3},
	}

	tests := []struct {
		name string
		mod  func(*orchestrator.Options)
	}{
		{"missing device", func(o *orchestrator.Options) { o.Device = nil }},
		{"missing executor", func(o *orchestrator.Options) { o.Executor = nil }},
		{"missing vad engine", func(o *orchestrator.Options) { o.VAD = nil }},
		{"invalid vad config", func(o *orchestrator.Options) { o.ListenVAD.SampleRate = 44100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mod(&opts)
			if _, err := orchestrator.New(opts); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func mustRegistry(t *testing.T) *failover.Registry {
	t.Helper()
	reg, err := failover.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}
