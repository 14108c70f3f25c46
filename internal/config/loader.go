package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/parley-ai/parley/pkg/provider/vad"
)

// Load reads the YAML configuration file at path and returns a validated,
// defaulted [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameDurationMs <= 0 {
		cfg.Audio.FrameDurationMs = 30
	}
	if cfg.Audio.CaptureBuffer <= 0 {
		cfg.Audio.CaptureBuffer = 64
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = VADEnergy
	}
	if cfg.VAD.Aggressiveness == nil {
		cfg.VAD.Aggressiveness = intPtr(vad.DefaultAggressiveness)
	}
	if cfg.Listen.SilenceThresholdMs <= 0 {
		cfg.Listen.SilenceThresholdMs = 1000
	}
	if cfg.Listen.MinDurationMs <= 0 {
		cfg.Listen.MinDurationMs = 500
	}
	if cfg.Listen.MaxDurationMs <= 0 {
		cfg.Listen.MaxDurationMs = 30000
	}
	if cfg.Listen.GracePeriodMs <= 0 {
		cfg.Listen.GracePeriodMs = cfg.Listen.MaxDurationMs
	}
	if cfg.BargeIn.Enabled == nil {
		cfg.BargeIn.Enabled = boolPtr(true)
	}
	if cfg.BargeIn.Aggressiveness == nil {
		cfg.BargeIn.Aggressiveness = intPtr(2)
	}
	if cfg.BargeIn.MinSpeechMs <= 0 {
		cfg.BargeIn.MinSpeechMs = 150
	}
	if cfg.Cue.Enabled == nil {
		cfg.Cue.Enabled = boolPtr(true)
	}
	if cfg.Cue.LeadMs <= 0 {
		cfg.Cue.LeadMs = 100
	}
	if cfg.Cue.TrailMs <= 0 {
		cfg.Cue.TrailMs = 100
	}
	for i := range cfg.TTS {
		if cfg.TTS[i].TimeoutMs <= 0 {
			cfg.TTS[i].TimeoutMs = 30000
		}
	}
	for i := range cfg.STT {
		if cfg.STT[i].TimeoutMs <= 0 {
			cfg.STT[i].TimeoutMs = 60000
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.VAD.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("vad.engine %q is invalid; valid values: energy, webrtc", cfg.VAD.Engine))
	}
	if a := *cfg.VAD.Aggressiveness; a < vad.MinAggressiveness || a > vad.MaxAggressiveness {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [%d, %d]", a, vad.MinAggressiveness, vad.MaxAggressiveness))
	}
	if a := *cfg.BargeIn.Aggressiveness; a < vad.MinAggressiveness || a > vad.MaxAggressiveness {
		errs = append(errs, fmt.Errorf("barge_in.aggressiveness %d is out of range [%d, %d]", a, vad.MinAggressiveness, vad.MaxAggressiveness))
	}

	if !slices.Contains(vad.SupportedRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %v", cfg.Audio.SampleRate, vad.SupportedRates))
	}
	if !slices.Contains(vad.SupportedFrameMs, cfg.Audio.FrameDurationMs) {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is invalid; valid values: %v", cfg.Audio.FrameDurationMs, vad.SupportedFrameMs))
	}
	if cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; mono or stereo only", cfg.Audio.Channels))
	}

	if cfg.Listen.MinDurationMs > cfg.Listen.MaxDurationMs {
		errs = append(errs, fmt.Errorf("listen.min_duration_ms %d exceeds listen.max_duration_ms %d", cfg.Listen.MinDurationMs, cfg.Listen.MaxDurationMs))
	}
	if cfg.Listen.GracePeriodMs > cfg.Listen.MaxDurationMs {
		errs = append(errs, fmt.Errorf("listen.grace_period_ms %d exceeds listen.max_duration_ms %d", cfg.Listen.GracePeriodMs, cfg.Listen.MaxDurationMs))
	}

	if len(cfg.TTS) == 0 {
		slog.Warn("no TTS endpoints configured; conversations will be listen-only")
	}
	if len(cfg.STT) == 0 {
		errs = append(errs, errors.New("at least one STT endpoint is required"))
	}

	errs = append(errs, validateEndpoints("tts", cfg.TTS)...)
	errs = append(errs, validateEndpoints("stt", cfg.STT)...)

	return errors.Join(errs...)
}

func validateEndpoints(kind string, list []EndpointConfig) []error {
	var errs []error
	seen := make(map[string]int, len(list))
	for i, ep := range list {
		prefix := fmt.Sprintf("%s[%d]", kind, i)
		if ep.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[ep.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s[%d]", prefix, ep.Name, kind, prev))
			}
			seen[ep.Name] = i
		}
		if ep.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
		if ep.Format != "" && !ep.Format.IsValid() {
			errs = append(errs, fmt.Errorf("%s.format %q is invalid; valid values: pcm, wav, opus", prefix, ep.Format))
		}
	}
	return errs
}

// SortedEndpoints returns the endpoints in failover priority order: explicit
// priorities first (ascending), ties and unset priorities keeping their list
// position.
func SortedEndpoints(list []EndpointConfig) []EndpointConfig {
	out := make([]EndpointConfig, len(list))
	copy(out, list)
	slices.SortStableFunc(out, func(a, b EndpointConfig) int {
		return endpointRank(a) - endpointRank(b)
	})
	return out
}

func endpointRank(e EndpointConfig) int {
	if e.Priority != nil {
		return *e.Priority
	}
	return int(^uint(0) >> 1) // unset sorts after any explicit priority
}

// Secrets holds credentials read from the environment rather than the config
// file. Populate with [LoadSecrets] after loading any .env file.
type Secrets struct {
	// OpenAIAPIKey is the default key for endpoints without an explicit
	// api_key.
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
}

// LoadSecrets reads [Secrets] from the process environment.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	return &s, nil
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
