// Package au defines the compressed and PCM buffer types that flow between
// the demuxer, codec pair, and muxer (spec §3 "Data model").
package au

// Flags carries the per-sample flags spec §3 attaches to every AU and PCM
// frame.
type Flags struct {
	Sync bool // is_sync: frame is independently decodable (keyframe-equivalent)
	EOS  bool // is_eos: no further data follows this buffer
}

// AccessUnit is one compressed audio frame as produced by a demuxer or an
// encoder. Ownership moves across interfaces — callers must not retain a
// slice into Bytes past handing it to the next stage.
type AccessUnit struct {
	Bytes             []byte
	PresentationTimeUs int64
	Flags             Flags
}

// Size returns the number of compressed bytes carried by the AU.
func (a AccessUnit) Size() int { return len(a.Bytes) }

// PCMFrame is a contiguous span of decoded audio in 16-bit little-endian
// interleaved layout, the canonical interchange format of spec §3.
type PCMFrame struct {
	Bytes              []byte
	PresentationTimeUs int64
	Flags              Flags
}

// Size returns the number of PCM bytes carried by the frame.
func (p PCMFrame) Size() int { return len(p.Bytes) }

// TrackFormat is the Track Format Descriptor of spec §3. CodecSpecificData
// holds codec-private bytes (e.g. an AAC AudioSpecificConfig) required to
// configure a decoder or register a muxer track.
type TrackFormat struct {
	MIME              string
	SampleRateHz      int
	Channels          int
	BitRateBps        int  // 0 if unknown
	DurationUs        int64 // 0 if unknown
	CodecSpecificData []byte
}

// Mono reports whether the format describes a single-channel stream.
func (t TrackFormat) Mono() bool { return t.Channels == 1 }
