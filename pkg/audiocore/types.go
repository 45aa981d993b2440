// Package audiocore is the public surface of spec §6: convert, trim,
// splice, waveform extraction, and file-info inspection, each wiring a
// demuxer, an optional codec pair, and a muxer from internal/ into one
// operation.
package audiocore

// OutputFormat selects between re-encoding to AAC-LC (M4A) and, where the
// input allows it, a lossless remux of the original elementary stream.
type OutputFormat int

const (
	FormatM4A OutputFormat = iota
	FormatCopy
)

// ValidSampleRates is the fixed enum of spec §6's input validation.
var ValidSampleRates = [...]int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000}

// ConversionResult is spec §3's Conversion Result.
type ConversionResult struct {
	DurationMs     int64
	BitRateKbps    int
	SampleRateHz   int
	FilesProcessed int
	// FormatFallback is set when a requested FormatCopy could not be
	// honored losslessly and the operation was silently re-routed to
	// FormatM4A — the iOS-style auto-fallback of spec §9's first Open
	// Question (see DESIGN.md for why this implementation chose it).
	FormatFallback bool
}

// WaveformEnvelope is spec §3's Waveform Envelope.
type WaveformEnvelope struct {
	Amplitudes   []float64
	SampleRateHz int
	DurationMs   int64
	Channels     int
}

// Capabilities mirrors internal/info.Capabilities for the public surface.
type Capabilities struct {
	Convertible       bool
	Trimmable         bool
	LosslessTrimmable bool
	Waveform          bool
}

// AudioInfo is spec §3's Audio Info sum type.
type AudioInfo struct {
	Valid bool
	Err   error // non-nil iff !Valid; inspect with KindOf

	FileSizeBytes int64
	MIME          string
	Codec         string
	SampleRateHz  int
	Channels      int
	BitRateKbps   int
	DurationMs    int64
	BitDepth      int // 0 when the container has no fixed PCM bit depth
	Metadata      map[string]string
	Capabilities  Capabilities
	// DiagnosticsText is a short, human-readable summary — not meant to be parsed.
	DiagnosticsText string
	// FoundTracks describes every audio track the container exposes, one line each.
	FoundTracks []string
}

// Progress is one point in spec §6's `{operation_tag, progress ∈ [0,1]}`
// event stream.
type Progress struct {
	Tag   string
	Value float64
}

// Tags used on the Progress stream, per spec §6.
const (
	TagConvert      = "convert"
	TagTrim         = "trim"
	TagTrimLossless = "trim_lossless"
	TagSplice       = "splice"
	TagWaveform     = "waveform"
)

func validSampleRate(hz int) bool {
	for _, v := range ValidSampleRates {
		if v == hz {
			return true
		}
	}
	return false
}
