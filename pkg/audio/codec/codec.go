// Package codec provides the transcoding collaborator used during audio-format
// negotiation with speech endpoints.
//
// Each speech endpoint accepts/produces one encoding; the failover executor
// picks the cheapest mutually acceptable one (raw PCM or WAV for local
// loopback endpoints, Ogg Opus for network-bound cloud endpoints) and uses a
// [Transcoder] to bridge between the pipeline's internal int16 PCM and the
// wire format. Codec internals stay behind this interface — the rest of the
// engine never inspects container bytes.
package codec

import (
	"fmt"

	"github.com/parley-ai/parley/pkg/audio"
)

// Encoding identifies a wire audio format. The names match the
// response_format / upload file types of OpenAI-compatible speech endpoints.
type Encoding string

const (
	// EncodingPCM is raw little-endian int16 PCM with no container.
	EncodingPCM Encoding = "pcm"

	// EncodingWAV is int16 PCM in a RIFF/WAVE container.
	EncodingWAV Encoding = "wav"

	// EncodingOpus is Opus in an Ogg container.
	EncodingOpus Encoding = "opus"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingPCM, EncodingWAV, EncodingOpus:
		return true
	}
	return false
}

// Compressed reports whether the encoding reduces payload size on the wire.
func (e Encoding) Compressed() bool { return e == EncodingOpus }

// FileExt returns the upload filename extension for the encoding.
func (e Encoding) FileExt() string {
	switch e {
	case EncodingWAV:
		return "wav"
	case EncodingOpus:
		return "ogg"
	default:
		return "pcm"
	}
}

// MIMEType returns the content type for the encoding.
func (e Encoding) MIMEType() string {
	switch e {
	case EncodingWAV:
		return "audio/wav"
	case EncodingOpus:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// Transcoder converts between the pipeline's internal int16 PCM and one wire
// encoding. Implementations are stateless per call and safe for concurrent use.
type Transcoder interface {
	// Encoding identifies the wire format this transcoder handles.
	Encoding() Encoding

	// Encode wraps PCM of the given format into the wire format.
	Encode(pcm []byte, format audio.Format) ([]byte, error)

	// Decode unwraps wire-format data into PCM, reporting the PCM's format.
	Decode(data []byte) ([]byte, audio.Format, error)
}

// For returns the Transcoder for enc. pcmFormat is the format assumed for
// container-less encodings (raw PCM carries no self-description).
func For(enc Encoding, pcmFormat audio.Format) (Transcoder, error) {
	switch enc {
	case EncodingPCM:
		return pcmTranscoder{format: pcmFormat}, nil
	case EncodingWAV:
		return wavTranscoder{}, nil
	case EncodingOpus:
		return oggOpusTranscoder{}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported encoding %q", enc)
	}
}

// pcmTranscoder passes raw PCM through unchanged. The format is fixed at
// construction because raw PCM is not self-describing.
type pcmTranscoder struct {
	format audio.Format
}

func (pcmTranscoder) Encoding() Encoding { return EncodingPCM }

func (t pcmTranscoder) Encode(pcm []byte, format audio.Format) ([]byte, error) {
	conv := audio.Converter{Target: t.format}
	out := conv.Convert(audio.Frame{Data: pcm, SampleRate: format.SampleRate, Channels: format.Channels})
	return out.Data, nil
}

func (t pcmTranscoder) Decode(data []byte) ([]byte, audio.Format, error) {
	if len(data)%2 != 0 {
		return nil, audio.Format{}, fmt.Errorf("codec: raw PCM has odd byte count %d", len(data))
	}
	return data, t.format, nil
}

// wavTranscoder wraps/unwraps int16 PCM in a RIFF/WAVE container.
type wavTranscoder struct{}

func (wavTranscoder) Encoding() Encoding { return EncodingWAV }

func (wavTranscoder) Encode(pcm []byte, format audio.Format) ([]byte, error) {
	return audio.EncodeWAV(pcm, format), nil
}

func (wavTranscoder) Decode(data []byte) ([]byte, audio.Format, error) {
	info, err := audio.ParseWAV(data)
	if err != nil {
		return nil, audio.Format{}, err
	}
	pcm := data[info.DataOffset : info.DataOffset+info.DataLen]
	return pcm, audio.Format{SampleRate: info.SampleRate, Channels: info.Channels}, nil
}
