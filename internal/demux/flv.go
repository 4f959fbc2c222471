package demux

import (
	"bytes"
	"encoding/base64"

	"github.com/zsiec/ccx"

	"github.com/zsiec/flashmse/media"
)

// FLV tag types.
const (
	tagAudio  = 0x08
	tagVideo  = 0x09
	tagScript = 0x12
)

const (
	flvTagHeaderSize = 11
	flvPrevTagSize   = 4
	flvFileHeader    = 9 + 4 // "FLV" header plus PreviousTagSize0

	codecAVC    = 7
	audioAAC    = 10
	naluTypeSEI = 6
)

var flvMagic = []byte{'F', 'L', 'V'}

// flvTag is one complete parsed tag kept for conversion. raw spans the tag
// header, body, and trailing PreviousTagSize, so converted chunks replay the
// exact wire bytes.
type flvTag struct {
	pts  int64
	kind byte
	raw  []byte
}

// FLVEngine parses an FLV tag stream (with or without the file header) into
// segments, extracting CEA-608 captions from AVC SEI NAL units and timed
// metadata from script tags. It implements [Engine] and is confined to the
// worker goroutine.
type FLVEngine struct {
	opts          InitOptions
	buf           []byte
	headerSkipped bool

	pending []flvTag

	// Per-segment accumulators, cleared by Flush.
	samples  int
	firstPTS int64
	hasFirst bool
	captions []*ccx.CaptionFrame
	metadata []media.MetadataCue

	cea608 map[int]*ccx.CEA608Decoder
}

// NewFLVEngine creates an FLVEngine with caption extraction enabled.
func NewFLVEngine() *FLVEngine {
	e := &FLVEngine{opts: InitOptions{Captions: true}}
	e.resetDecoders()
	return e
}

func (e *FLVEngine) resetDecoders() {
	e.cea608 = map[int]*ccx.CEA608Decoder{
		1: ccx.NewCEA608Decoder(),
		2: ccx.NewCEA608Decoder(),
		3: ccx.NewCEA608Decoder(),
		4: ccx.NewCEA608Decoder(),
	}
}

// Init applies options. Safe to call between pushes; decoder state is kept.
func (e *FLVEngine) Init(opts InitOptions) {
	e.opts = opts
}

// Push appends p to the undelimited remainder and consumes every complete
// tag from it. Partial tags stay buffered for the next push.
func (e *FLVEngine) Push(p []byte) {
	if len(e.buf) == 0 {
		e.buf = p
	} else {
		e.buf = append(e.buf, p...)
	}

	if !e.headerSkipped {
		if len(e.buf) < len(flvMagic) {
			return
		}
		if bytes.Equal(e.buf[:len(flvMagic)], flvMagic) {
			if len(e.buf) < flvFileHeader {
				return
			}
			e.buf = e.buf[flvFileHeader:]
		}
		e.headerSkipped = true
	}

	for len(e.buf) >= flvTagHeaderSize {
		dataSize := int(e.buf[1])<<16 | int(e.buf[2])<<8 | int(e.buf[3])
		total := flvTagHeaderSize + dataSize + flvPrevTagSize
		if len(e.buf) < total {
			return
		}

		raw := make([]byte, total)
		copy(raw, e.buf[:total])
		e.buf = e.buf[total:]

		e.consumeTag(flvTag{
			pts:  tagTimestamp(raw),
			kind: raw[0],
			raw:  raw,
		})
	}
}

// tagTimestamp decodes the 24-bit timestamp plus 8-bit extension,
// millisecond domain. The combined 32-bit value is signed (SI32), so an
// extension byte with the high bit set yields a negative timestamp rather
// than a huge positive one.
func tagTimestamp(raw []byte) int64 {
	ts := uint32(raw[4])<<16 | uint32(raw[5])<<8 | uint32(raw[6]) | uint32(raw[7])<<24
	return int64(int32(ts))
}

func (e *FLVEngine) consumeTag(t flvTag) {
	body := t.raw[flvTagHeaderSize : len(t.raw)-flvPrevTagSize]

	switch t.kind {
	case tagAudio, tagVideo:
		e.samples++
		if !e.hasFirst {
			e.firstPTS = t.pts
			e.hasFirst = true
		}
		if t.kind == tagVideo && e.opts.Captions {
			e.extractCaptions(body, t.pts)
		}

	case tagScript:
		data := make([]byte, len(body))
		copy(data, body)
		e.metadata = append(e.metadata, media.MetadataCue{PTS: t.pts, Data: data})

	default:
		return // unknown tag type, drop
	}

	e.pending = append(e.pending, t)
}

// extractCaptions walks the AVCC length-prefixed NAL units of an AVC video
// tag body and decodes CEA-608 pairs found in SEI units.
func (e *FLVEngine) extractCaptions(body []byte, pts int64) {
	if len(body) < 5 || body[0]&0x0F != codecAVC || body[1] != 1 {
		return // not an AVC NALU packet
	}

	nalus := body[5:]
	for len(nalus) >= 4 {
		n := int(nalus[0])<<24 | int(nalus[1])<<16 | int(nalus[2])<<8 | int(nalus[3])
		nalus = nalus[4:]
		if n <= 0 || n > len(nalus) {
			return // corrupt length prefix, abandon the tag
		}
		nalu := nalus[:n]
		nalus = nalus[n:]

		if nalu[0]&0x1F != naluTypeSEI {
			continue
		}
		cd := ccx.ExtractCaptions(nalu)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			dec := e.cea608[pair.Channel]
			if dec == nil {
				continue
			}
			text := dec.Decode(pair.Data[0], pair.Data[1])
			if text != "" {
				e.captions = append(e.captions, &ccx.CaptionFrame{
					PTS:     pts,
					Text:    text,
					Channel: pair.Channel,
				})
			}
		}
	}
}

// Flush assembles everything consumed since the last flush into a segment.
// Returns nil when nothing arrived. Parsed tags remain buffered until
// ConvertTags collects them.
func (e *FLVEngine) Flush() []*media.Segment {
	if e.samples == 0 && len(e.captions) == 0 && len(e.metadata) == 0 {
		return nil
	}

	seg := &media.Segment{
		BasePTS:     e.firstPTS,
		SampleCount: e.samples,
		Captions:    e.captions,
		Metadata:    e.metadata,
	}

	e.samples = 0
	e.firstPTS = 0
	e.hasFirst = false
	e.captions = nil
	e.metadata = nil

	return []*media.Segment{seg}
}

// ConvertTags drops buffered tags below targetPTS (codec configuration tags
// are always kept), concatenates the survivors, and slices the base64
// encoding into sink-ready chunks of at most media.MaxChunkSize characters.
func (e *FLVEngine) ConvertTags(targetPTS int64) []media.Chunk {
	var wire []byte
	for _, t := range e.pending {
		if t.pts < targetPTS && !isConfigTag(t) {
			continue
		}
		wire = append(wire, t.raw...)
	}
	e.pending = nil

	if len(wire) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(wire)
	var chunks []media.Chunk
	for len(encoded) > 0 {
		n := len(encoded)
		if n > media.MaxChunkSize {
			n = media.MaxChunkSize
		}
		chunks = append(chunks, media.Chunk(encoded[:n]))
		encoded = encoded[n:]
	}
	return chunks
}

// isConfigTag reports whether t carries decoder configuration (an AVC
// sequence header or AAC audio specific config) that must survive trimming.
func isConfigTag(t flvTag) bool {
	body := t.raw[flvTagHeaderSize : len(t.raw)-flvPrevTagSize]
	switch t.kind {
	case tagVideo:
		return len(body) >= 2 && body[0]&0x0F == codecAVC && body[1] == 0
	case tagAudio:
		return len(body) >= 2 && body[0]>>4 == audioAAC && body[1] == 0
	}
	return false
}

// Reset discards buffered bytes, pending tags, per-segment accumulators,
// and caption decoder state. The next push may start a fresh byte stream,
// with or without the FLV file header.
func (e *FLVEngine) Reset() {
	e.buf = nil
	e.headerSkipped = false
	e.pending = nil
	e.samples = 0
	e.firstPTS = 0
	e.hasFirst = false
	e.captions = nil
	e.metadata = nil
	e.resetDecoders()
}
