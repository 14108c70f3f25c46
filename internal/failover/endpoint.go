// Package failover selects and drives speech backends. It holds the ordered
// endpoint registry and the executor that attempts synthesis or transcription
// against each endpoint strictly in priority order, moving on immediately on
// connection-level failure so that an unreachable local service costs one
// connection attempt, never a retry loop.
package failover

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/parley-ai/parley/pkg/audio/codec"
	"github.com/parley-ai/parley/pkg/provider/stt"
	"github.com/parley-ai/parley/pkg/provider/tts"
)

// Kind distinguishes the two endpoint roles.
type Kind string

const (
	KindTTS Kind = "tts"
	KindSTT Kind = "stt"
)

// Status is the last known reachability of an endpoint. It is advisory
// (logged, surfaced on /readyz) and never used to skip a local endpoint.
type Status int32

const (
	StatusUnknown Status = iota
	StatusOK
	StatusUnreachable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Endpoint represents one reachable speech backend. Endpoints are created
// from static configuration at startup and never deleted; only the status
// field mutates, and only the executor mutates it.
type Endpoint struct {
	// Kind is the endpoint role (TTS or STT).
	Kind Kind

	// Name is the configured label used in logs and aggregate errors.
	Name string

	// BaseURL is the endpoint's API root.
	BaseURL string

	// Local marks loopback endpoints. Local endpoints are retried on every
	// call and never carry standing failure state.
	Local bool

	// Model, Voice, Language are the endpoint's defaults for requests that do
	// not specify their own.
	Model    string
	Voice    string
	Language string

	// Encoding pins the wire format. Empty means negotiate: uncompressed for
	// local endpoints, Ogg Opus for remote ones.
	Encoding codec.Encoding

	// Timeout is the per-attempt budget. Exceeding it is treated exactly like
	// a connection failure.
	Timeout time.Duration

	synth   tts.Synthesizer
	trans   stt.Transcriber
	breaker *breaker
	status  atomic.Int32
}

// NewTTS creates a TTS endpoint backed by the given synthesizer.
func NewTTS(name string, synth tts.Synthesizer, opts ...EndpointOption) *Endpoint {
	ep := &Endpoint{Kind: KindTTS, Name: name, synth: synth}
	ep.apply(opts)
	return ep
}

// NewSTT creates an STT endpoint backed by the given transcriber.
func NewSTT(name string, trans stt.Transcriber, opts ...EndpointOption) *Endpoint {
	ep := &Endpoint{Kind: KindSTT, Name: name, trans: trans}
	ep.apply(opts)
	return ep
}

func (e *Endpoint) apply(opts []EndpointOption) {
	for _, o := range opts {
		o(e)
	}
	if e.Timeout <= 0 {
		e.Timeout = 30 * time.Second
	}
	if !e.Local {
		e.breaker = newBreaker(e.Name, breakerConfig{})
	}
}

// EndpointOption configures an Endpoint at construction.
type EndpointOption func(*Endpoint)

// AsLocal marks the endpoint as a loopback service (always retried, never
// remembered as failed).
func AsLocal() EndpointOption { return func(e *Endpoint) { e.Local = true } }

// WithBaseURL records the endpoint URL (informational; the backing client
// already carries it).
func WithBaseURL(u string) EndpointOption { return func(e *Endpoint) { e.BaseURL = u } }

// WithModel sets the endpoint's default model.
func WithModel(m string) EndpointOption { return func(e *Endpoint) { e.Model = m } }

// WithVoice sets the endpoint's default voice (TTS only).
func WithVoice(v string) EndpointOption { return func(e *Endpoint) { e.Voice = v } }

// WithLanguage sets the endpoint's default language (STT only).
func WithLanguage(l string) EndpointOption { return func(e *Endpoint) { e.Language = l } }

// WithEncoding pins the wire encoding instead of negotiating from Local.
func WithEncoding(enc codec.Encoding) EndpointOption { return func(e *Endpoint) { e.Encoding = enc } }

// WithTimeout sets the per-attempt budget.
func WithTimeout(d time.Duration) EndpointOption { return func(e *Endpoint) { e.Timeout = d } }

// WithFailureMemory overrides the remote failure-memory tuning. Ignored for
// local endpoints.
func WithFailureMemory(maxFailures int, resetTimeout time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if !e.Local {
			e.breaker = newBreaker(e.Name, breakerConfig{maxFailures: maxFailures, resetTimeout: resetTimeout})
		}
	}
}

// Status returns the last known reachability.
func (e *Endpoint) Status() Status { return Status(e.status.Load()) }

func (e *Endpoint) setStatus(s Status) { e.status.Store(int32(s)) }

// encoding resolves the negotiated wire format: pinned if configured,
// otherwise the cheapest path for the endpoint's locality — uncompressed WAV
// for loopback, compressed Ogg Opus for network-bound endpoints.
func (e *Endpoint) encoding() codec.Encoding {
	if e.Encoding != "" {
		return e.Encoding
	}
	if e.Local {
		return codec.EncodingWAV
	}
	return codec.EncodingOpus
}

// Registry holds the ordered endpoint lists. Ordering is read-only
// configuration (list position = priority); per-endpoint status is the only
// mutable state and is synchronised inside each Endpoint, so a Registry may
// be shared across overlapping conversations.
type Registry struct {
	tts []*Endpoint
	stt []*Endpoint
}

// NewRegistry creates a Registry from the given endpoints, preserving the
// order within each kind as the failover priority order.
func NewRegistry(endpoints ...*Endpoint) (*Registry, error) {
	r := &Registry{}
	for _, ep := range endpoints {
		switch ep.Kind {
		case KindTTS:
			if ep.synth == nil {
				return nil, fmt.Errorf("failover: TTS endpoint %q has no synthesizer", ep.Name)
			}
			r.tts = append(r.tts, ep)
		case KindSTT:
			if ep.trans == nil {
				return nil, fmt.Errorf("failover: STT endpoint %q has no transcriber", ep.Name)
			}
			r.stt = append(r.stt, ep)
		default:
			return nil, fmt.Errorf("failover: endpoint %q has unknown kind %q", ep.Name, ep.Kind)
		}
	}
	return r, nil
}

// Endpoints returns the priority-ordered endpoints of the given kind. The
// returned slice is a copy; the endpoints themselves are shared.
func (r *Registry) Endpoints(kind Kind) []*Endpoint {
	var src []*Endpoint
	switch kind {
	case KindTTS:
		src = r.tts
	case KindSTT:
		src = r.stt
	}
	out := make([]*Endpoint, len(src))
	copy(out, src)
	return out
}

// Attempt records the outcome of one endpoint try within a failover pass.
type Attempt struct {
	// Endpoint is the endpoint name.
	Endpoint string

	// Err is nil for the successful attempt, otherwise the classified failure.
	Err error
}

// ErrSkippedOpen marks an attempt that was skipped because the endpoint's
// failure memory was open.
var ErrSkippedOpen = errors.New("skipped: recent failures, retry pending")

// AllEndpointsError is returned when every endpoint of a kind failed. It
// names each endpoint tried and its failure so that no failure is ever
// swallowed silently.
type AllEndpointsError struct {
	Kind     Kind
	Attempts []Attempt
}

func (e *AllEndpointsError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failover: all %s endpoints failed", e.Kind)
	if len(e.Attempts) == 0 {
		b.WriteString(" (none configured)")
		return b.String()
	}
	b.WriteString(": ")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Endpoint, a.Err)
	}
	return b.String()
}
