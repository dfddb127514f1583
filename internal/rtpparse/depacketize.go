package rtpparse

import (
	"strconv"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/smazurov/decodebin/internal/media"
)

// nalIDR is the H.264 NAL unit type of an IDR slice.
const nalIDR = 5

// assembler rebuilds access units from RTP payloads of one source.
type assembler struct {
	depack   rtp.Depacketizer
	keyframe func(frame []byte, depack rtp.Depacketizer) bool
	// perPacket emits every payload as its own buffer
	perPacket bool

	frame   []byte
	frameTS uint32
	clock   uint32
	firstTS uint32
	started bool
}

func newAssembler(caps *media.Caps) *assembler {
	a := &assembler{clock: clockRate(caps)}
	switch caps.Name() {
	case "video/x-h264":
		a.depack = &codecs.H264Packet{}
		a.keyframe = h264Keyframe
	case "video/x-vp8":
		a.depack = &codecs.VP8Packet{}
		a.keyframe = vp8Keyframe
	case "video/x-vp9":
		a.depack = &codecs.VP9Packet{}
		a.keyframe = vp9Keyframe
	case "audio/x-opus":
		a.depack = &codecs.OpusPacket{}
		a.perPacket = true
	default:
		a.perPacket = media.StreamTypeFromCaps(caps) != media.StreamTypeVideo
	}
	return a
}

// clockRate reads clock-rate from caps, falling back to the RTP defaults.
func clockRate(caps *media.Caps) uint32 {
	if v, ok := caps.Field("clock-rate"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			return uint32(n)
		}
	}
	switch media.StreamTypeFromCaps(caps) {
	case media.StreamTypeAudio:
		if caps.Name() == "audio/x-alaw" || caps.Name() == "audio/x-mulaw" {
			return 8000
		}
		return 48000
	default:
		return 90000
	}
}

// push adds one packet and returns a complete buffer when the packet ends a frame.
func (a *assembler) push(p *rtp.Packet) (*media.Buffer, error) {
	if !a.started {
		a.firstTS = p.Timestamp
		a.started = true
	}

	// a frame whose last packet never arrived is dropped
	if len(a.frame) > 0 && p.Timestamp != a.frameTS {
		a.frame = a.frame[:0]
	}
	a.frameTS = p.Timestamp

	payload := p.Payload
	if a.depack != nil {
		data, err := a.depack.Unmarshal(p.Payload)
		if err != nil {
			a.frame = a.frame[:0]
			return nil, err
		}
		payload = data
	}

	if a.perPacket {
		if len(payload) == 0 {
			return nil, nil
		}
		return a.buffer(append([]byte(nil), payload...), p.Timestamp), nil
	}

	a.frame = append(a.frame, payload...)
	tail := p.Marker
	if a.depack != nil {
		tail = a.depack.IsPartitionTail(p.Marker, p.Payload)
	}
	if !tail || len(a.frame) == 0 {
		return nil, nil
	}
	frame := append([]byte(nil), a.frame...)
	a.frame = a.frame[:0]
	buf := a.buffer(frame, p.Timestamp)
	if a.keyframe != nil && !a.keyframe(frame, a.depack) {
		buf.Flags |= media.BufferFlagDeltaUnit
	}
	return buf, nil
}

func (a *assembler) buffer(data []byte, ts uint32) *media.Buffer {
	delta := int64(ts - a.firstTS)
	return &media.Buffer{
		Data: data,
		PTS:  time.Duration(delta * int64(time.Second) / int64(a.clock)),
	}
}

// h264Keyframe scans an Annex-B access unit for an IDR slice.
func h264Keyframe(frame []byte, _ rtp.Depacketizer) bool {
	for i := 0; i+3 < len(frame); i++ {
		if frame[i] != 0 || frame[i+1] != 0 || frame[i+2] != 1 {
			continue
		}
		if frame[i+3]&0x1F == nalIDR {
			return true
		}
		i += 2
	}
	return false
}

// vp8Keyframe reads the P bit of the VP8 frame tag.
func vp8Keyframe(frame []byte, _ rtp.Depacketizer) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}

// vp9Keyframe uses the inter-picture flag of the last parsed payload descriptor.
func vp9Keyframe(_ []byte, d rtp.Depacketizer) bool {
	p, ok := d.(*codecs.VP9Packet)
	return ok && !p.P
}
