package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/parley-ai/parley/pkg/audio"
)

// Opus operates at fixed rates; 48 kHz mono at 20 ms frames is the standard
// choice for speech and what every OpenAI-compatible endpoint accepts.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	// opusMaxPacket bounds the encoded size of one frame.
	opusMaxPacket = 4000

	// opusPreSkip is the standard encoder priming delay declared in OpusHead,
	// in 48 kHz samples.
	opusPreSkip = 312

	// maxDecodedFrame is the largest possible decoded frame (120 ms at 48 kHz).
	maxDecodedFrame = 5760
)

// oggOpusTranscoder encodes/decodes int16 PCM to/from Opus packets in an Ogg
// container. Input PCM of any format is converted to 48 kHz mono before
// encoding; decoded output is always 48 kHz mono.
type oggOpusTranscoder struct{}

func (oggOpusTranscoder) Encoding() Encoding { return EncodingOpus }

func (oggOpusTranscoder) Encode(pcm []byte, format audio.Format) ([]byte, error) {
	conv := audio.Converter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}
	frame := conv.Convert(audio.Frame{Data: pcm, SampleRate: format.SampleRate, Channels: format.Channels})
	samples := audio.BytesToInt16s(frame.Data)

	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}

	w := newOggWriter()
	w.writePacket(opusHead(), 0, true)
	w.writePacket(opusTags(), 0, true)
	w.flush(false)

	var granule int64
	for off := 0; off < len(samples); off += opusFrameSize {
		chunk := make([]int16, opusFrameSize)
		n := copy(chunk, samples[off:])
		_ = n // tail frame is zero-padded to a full 20 ms
		packet, err := enc.Encode(chunk, opusFrameSize, opusMaxPacket)
		if err != nil {
			return nil, fmt.Errorf("codec: opus encode: %w", err)
		}
		granule += opusFrameSize
		last := off+opusFrameSize >= len(samples)
		w.writePacket(packet, granule+opusPreSkip, false)
		if w.segmentsFull() || last {
			w.flush(last)
		}
	}
	return w.bytes(), nil
}

func (oggOpusTranscoder) Decode(data []byte) ([]byte, audio.Format, error) {
	packets, channels, err := oggOpusPackets(data)
	if err != nil {
		return nil, audio.Format{}, err
	}

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("codec: create opus decoder: %w", err)
	}

	var pcm []int16
	for _, pkt := range packets {
		out, err := dec.Decode(pkt, maxDecodedFrame, false)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("codec: opus decode: %w", err)
		}
		pcm = append(pcm, out...)
	}

	raw := audio.Int16sToBytes(pcm)
	format := audio.Format{SampleRate: opusSampleRate, Channels: channels}
	if channels != 1 {
		raw = audio.StereoToMono(raw)
		format.Channels = 1
	}
	return raw, format, nil
}

// opusHead builds the mandatory OpusHead identification packet.
func opusHead() []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = opusChannels
	binary.LittleEndian.PutUint16(head[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:16], opusSampleRate)
	// output gain (0) and channel mapping family (0) are already zero.
	return head
}

// opusTags builds the mandatory OpusTags comment packet.
func opusTags() []byte {
	const vendor = "parley"
	tags := make([]byte, 8+4+len(vendor)+4)
	copy(tags, "OpusTags")
	binary.LittleEndian.PutUint32(tags[8:12], uint32(len(vendor)))
	copy(tags[12:], vendor)
	// user comment list length (0) is already zero.
	return tags
}

// ---- Ogg page framing ----

// oggWriter accumulates packets into Ogg pages. Each call to flush emits one
// page containing every packet written since the previous flush.
type oggWriter struct {
	out      []byte
	segments []byte // lacing values for the pending page
	payload  []byte
	granule  int64
	pageSeq  uint32
	serial   uint32
	headers  bool // pending page holds header packets (granule 0)
}

func newOggWriter() *oggWriter {
	return &oggWriter{serial: 0x70617279} // arbitrary fixed stream serial
}

// writePacket queues one packet for the pending page. granule is the absolute
// granule position after this packet; header packets pass 0.
func (w *oggWriter) writePacket(packet []byte, granule int64, header bool) {
	n := len(packet)
	for n >= 255 {
		w.segments = append(w.segments, 255)
		n -= 255
	}
	w.segments = append(w.segments, byte(n))
	w.payload = append(w.payload, packet...)
	if !header {
		w.granule = granule
	}
	w.headers = header
}

// segmentsFull reports whether the pending page is close to the 255-segment
// lacing limit and should be flushed before the next packet.
func (w *oggWriter) segmentsFull() bool {
	return len(w.segments) >= 200
}

// flush emits the pending page. eos marks the end-of-stream page.
func (w *oggWriter) flush(eos bool) {
	if len(w.segments) == 0 {
		return
	}
	header := make([]byte, 27+len(w.segments))
	copy(header, "OggS")
	var flags byte
	if w.pageSeq == 0 {
		flags |= 0x02 // beginning of stream
	}
	if eos {
		flags |= 0x04
	}
	header[5] = flags
	granule := w.granule
	if w.headers {
		granule = 0
	}
	binary.LittleEndian.PutUint64(header[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(header[14:18], w.serial)
	binary.LittleEndian.PutUint32(header[18:22], w.pageSeq)
	header[26] = byte(len(w.segments))
	copy(header[27:], w.segments)

	page := append(header, w.payload...)
	crc := oggCRC(page)
	binary.LittleEndian.PutUint32(page[22:26], crc)

	w.out = append(w.out, page...)
	w.pageSeq++
	w.segments = nil
	w.payload = nil
}

func (w *oggWriter) bytes() []byte { return w.out }

// oggOpusPackets parses an Ogg container and returns the Opus audio packets
// (header packets stripped) and the channel count from OpusHead.
func oggOpusPackets(data []byte) (packets [][]byte, channels int, err error) {
	channels = 1
	var partial []byte
	packetIdx := 0

	offset := 0
	for offset+27 <= len(data) {
		if string(data[offset:offset+4]) != "OggS" {
			return nil, 0, errors.New("codec: Ogg capture pattern not found")
		}
		segCount := int(data[offset+26])
		lacingEnd := offset + 27 + segCount
		if lacingEnd > len(data) {
			return nil, 0, errors.New("codec: truncated Ogg page header")
		}
		lacing := data[offset+27 : lacingEnd]

		pos := lacingEnd
		for _, l := range lacing {
			if pos+int(l) > len(data) {
				return nil, 0, errors.New("codec: truncated Ogg page payload")
			}
			partial = append(partial, data[pos:pos+int(l)]...)
			pos += int(l)
			if l < 255 {
				// Packet complete.
				switch packetIdx {
				case 0:
					if len(partial) < 19 || string(partial[:8]) != "OpusHead" {
						return nil, 0, errors.New("codec: first Ogg packet is not OpusHead")
					}
					channels = int(partial[9])
					if channels < 1 || channels > 2 {
						return nil, 0, fmt.Errorf("codec: unsupported opus channel count %d", channels)
					}
				case 1:
					// OpusTags — skipped.
				default:
					pkt := make([]byte, len(partial))
					copy(pkt, partial)
					packets = append(packets, pkt)
				}
				partial = partial[:0]
				packetIdx++
			}
		}
		offset = pos
	}
	if packetIdx < 2 {
		return nil, 0, errors.New("codec: Ogg stream missing Opus headers")
	}
	return packets, channels, nil
}

// ---- Ogg CRC-32 (polynomial 0x04c11db7, no reflection, zero init/xor) ----

var oggCRCTable = func() [256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

// oggCRC computes the Ogg page checksum over page with its CRC field zeroed.
func oggCRC(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
