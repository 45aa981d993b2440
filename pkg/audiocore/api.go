package audiocore

import (
	"os"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
	aaccodec "github.com/jota2rz/audiocore/internal/codec/aac"
	mp3codec "github.com/jota2rz/audiocore/internal/codec/mp3"
	"github.com/jota2rz/audiocore/internal/codec/pcmpass"
	"github.com/jota2rz/audiocore/internal/codec/vorbis"
	"github.com/jota2rz/audiocore/internal/demux"
	mp3demux "github.com/jota2rz/audiocore/internal/demux/mp3"
	mp4demux "github.com/jota2rz/audiocore/internal/demux/mp4"
	oggdemux "github.com/jota2rz/audiocore/internal/demux/ogg"
	wavdemux "github.com/jota2rz/audiocore/internal/demux/wav"
	"github.com/jota2rz/audiocore/internal/errs"
	"github.com/jota2rz/audiocore/internal/format"
	"github.com/jota2rz/audiocore/internal/info"
	mp4mux "github.com/jota2rz/audiocore/internal/mux/mp4"
	"github.com/jota2rz/audiocore/internal/pipeline"
	"github.com/jota2rz/audiocore/internal/waveform"
)

// ConvertOptions binds spec §6's convert_audio/trim_audio shared
// parameters.
type ConvertOptions struct {
	Format       OutputFormat
	BitRateKbps  int
	SampleRateHz int
}

func (o ConvertOptions) validate() error {
	if o.BitRateKbps < 32 || o.BitRateKbps > 320 {
		return errs.New(errs.InvalidArguments, "bit_rate_kbps out of range [32, 320]")
	}
	if !validSampleRate(o.SampleRateHz) {
		return errs.New(errs.InvalidArguments, "sample_rate not one of the supported values")
	}
	return nil
}

// GetAudioInfo implements spec §6's get_audio_info: it never returns an
// error, surfacing an unreadable or unrecognized file as AudioInfo.Valid
// == false instead (matching the source's own "return Invalid rather
// than throwing" contract).
func GetAudioInfo(path string) AudioInfo {
	in := info.Inspect(path)
	if !in.Valid {
		return AudioInfo{Valid: false, Err: in.Err}
	}
	return AudioInfo{
		Valid:           true,
		FileSizeBytes:   in.FileSizeBytes,
		MIME:            in.MIME,
		Codec:           in.Codec,
		SampleRateHz:    in.SampleRateHz,
		Channels:        in.Channels,
		BitRateKbps:     in.BitRateBps / 1000,
		DurationMs:      in.DurationMs,
		BitDepth:        in.BitDepth,
		Metadata:        in.Metadata,
		Capabilities:    Capabilities(in.Capabilities),
		DiagnosticsText: in.DiagnosticsText,
		FoundTracks:     in.FoundTracks,
	}
}

// IsFormatSupported implements spec §6: never throws, returns false on
// any error.
func IsFormatSupported(path string) bool {
	if path == "" {
		return false
	}
	return info.IsFormatSupported(path)
}

// ConvertAudio implements spec §6's convert_audio.
func ConvertAudio(inPath, outPath string, opts ConvertOptions) *Operation[ConversionResult] {
	return startConvert(inPath, outPath, opts, nil, TagConvert)
}

// TrimAudio implements spec §6's trim_audio: start_ms/end_ms must satisfy
// start_ms ≥ 0 and end_ms > start_ms, validated before any I/O.
func TrimAudio(inPath, outPath string, startMs, endMs int64, opts ConvertOptions) *Operation[ConversionResult] {
	op, progressCh := newOperation[ConversionResult]()
	if startMs < 0 || endMs <= startMs {
		op.finish(ConversionResult{}, errs.New(errs.InvalidRange, "end_ms must be greater than start_ms, and start_ms must be >= 0"), progressCh)
		return op
	}
	r := &pipeline.TimeRange{StartUs: startMs * 1000, EndUs: endMs * 1000}
	return startConvert(inPath, outPath, opts, r, tagFor(opts.Format))
}

func tagFor(f OutputFormat) string {
	if f == FormatCopy {
		return TagTrimLossless
	}
	return TagTrim
}

func startConvert(inPath, outPath string, opts ConvertOptions, rng *pipeline.TimeRange, tag string) *Operation[ConversionResult] {
	op, progressCh := newOperation[ConversionResult]()

	if inPath == "" || outPath == "" {
		op.finish(ConversionResult{}, errs.New(errs.InvalidArguments, "in_path and out_path must be non-empty"), progressCh)
		return op
	}
	if err := opts.validate(); err != nil {
		op.finish(ConversionResult{}, err, progressCh)
		return op
	}

	d, _, track, err := openInput(inPath)
	if err != nil {
		op.finish(ConversionResult{}, err, progressCh)
		return op
	}

	if opts.Format == FormatCopy {
		fallback := !capabilitiesFor(track.MIME).LosslessTrimmable
		if fallback {
			// spec §9 Open Question 1: the iOS-style auto-fallback, not the
			// "disallowed at API surface" alternative — see DESIGN.md.
			go runTranscode(op, progressCh, d, track, outPath, opts, rng, tag, true)
			return op
		}
		go runLosslessCopy(op, progressCh, d, track, outPath, rng, tag)
		return op
	}

	go runTranscode(op, progressCh, d, track, outPath, opts, rng, tag, false)
	return op
}

func runTranscode(op *Operation[ConversionResult], progressCh chan Progress, d demux.Demuxer, track au.TrackFormat, outPath string, opts ConvertOptions, rng *pipeline.TimeRange, tag string, fallback bool) {
	dec, err := buildDecoder(mimeFamily(track.MIME), track)
	if err != nil {
		d.Close()
		op.finish(ConversionResult{}, err, progressCh)
		return
	}

	enc := aaccodec.NewEncoder()
	sampleRate := codec.ClampSampleRate(opts.SampleRateHz) // validated against the §6 enum, clamped to the encoder's range
	channels := clampChannels(track.Channels)
	if cerr := enc.Configure(codec.EncoderConfig{
		SampleRateHz: sampleRate,
		Channels:     channels,
		BitRateBps:   opts.BitRateKbps * 1000,
	}); cerr != nil {
		d.Close()
		op.finish(ConversionResult{}, errs.Wrap(errs.CodecError, "configure encoder", cerr), progressCh)
		return
	}
	if serr := enc.Start(); serr != nil {
		d.Close()
		op.finish(ConversionResult{}, errs.Wrap(errs.CodecError, "start encoder", serr), progressCh)
		return
	}

	mux := mp4mux.New(outPath)

	result, err := pipeline.Transcode(pipeline.TranscodeInput{
		Demuxer:            d,
		Decoder:            dec,
		Encoder:            enc,
		Muxer:              mux,
		Range:              rng,
		ExpectedDurationUs: track.DurationUs,
		OnProgress:         progressAdapter(progressCh, tag),
		Cancel:             op.cancelChan(),
	})
	if err != nil {
		op.finish(ConversionResult{}, err, progressCh)
		return
	}
	op.finish(ConversionResult{
		DurationMs:     result.DurationUs / 1000,
		BitRateKbps:    opts.BitRateKbps,
		SampleRateHz:   sampleRate,
		FilesProcessed: 1,
		FormatFallback: fallback,
	}, nil, progressCh)
}

func runLosslessCopy(op *Operation[ConversionResult], progressCh chan Progress, d demux.Demuxer, track au.TrackFormat, outPath string, rng *pipeline.TimeRange, tag string) {
	mux := mp4mux.New(outPath)
	result, err := pipeline.LosslessCopy(pipeline.LosslessCopyInput{
		Demuxer:            d,
		Muxer:              mux,
		TrackFormat:        track,
		Range:              rng,
		ExpectedDurationUs: track.DurationUs,
		OnProgress:         progressAdapter(progressCh, tag),
		Cancel:             op.cancelChan(),
	})
	if err != nil {
		op.finish(ConversionResult{}, err, progressCh)
		return
	}
	op.finish(ConversionResult{
		DurationMs:   result.DurationUs / 1000,
		BitRateKbps:  track.BitRateBps / 1000,
		SampleRateHz: track.SampleRateHz,
	}, nil, progressCh)
}

// SpliceAudio implements spec §6's splice_audio: in_paths must contain at
// least one path; every source shares the single output encoder/muxer per
// spec §4.G.
func SpliceAudio(inPaths []string, outPath string, opts ConvertOptions) *Operation[ConversionResult] {
	op, progressCh := newOperation[ConversionResult]()

	if len(inPaths) == 0 || outPath == "" {
		op.finish(ConversionResult{}, errs.New(errs.InvalidArguments, "splice: at least one in_path and a non-empty out_path are required"), progressCh)
		return op
	}
	if err := opts.validate(); err != nil {
		op.finish(ConversionResult{}, err, progressCh)
		return op
	}

	var sources []pipeline.SpliceSource
	var demuxers []demux.Demuxer
	var totalDurationUs int64

	cleanup := func() {
		for _, d := range demuxers {
			_ = d.Close()
		}
	}

	for _, p := range inPaths {
		if p == "" {
			cleanup()
			op.finish(ConversionResult{}, errs.New(errs.InvalidArguments, "splice: empty in_path"), progressCh)
			return op
		}
		d, fam, track, err := openInput(p)
		if err != nil {
			cleanup()
			op.finish(ConversionResult{}, err, progressCh)
			return op
		}
		dec, err := buildDecoder(fam, track)
		if err != nil {
			cleanup()
			_ = d.Close()
			op.finish(ConversionResult{}, err, progressCh)
			return op
		}
		demuxers = append(demuxers, d)
		sources = append(sources, pipeline.SpliceSource{Demuxer: d, Decoder: dec})
		totalDurationUs += track.DurationUs
	}

	enc := aaccodec.NewEncoder()
	sampleRate := codec.ClampSampleRate(opts.SampleRateHz) // validated against the §6 enum, clamped to the encoder's range
	if cerr := enc.Configure(codec.EncoderConfig{
		SampleRateHz: sampleRate,
		Channels:     2,
		BitRateBps:   opts.BitRateKbps * 1000,
	}); cerr != nil {
		cleanup()
		op.finish(ConversionResult{}, errs.Wrap(errs.CodecError, "configure encoder", cerr), progressCh)
		return op
	}
	if serr := enc.Start(); serr != nil {
		cleanup()
		op.finish(ConversionResult{}, errs.Wrap(errs.CodecError, "start encoder", serr), progressCh)
		return op
	}

	mux := mp4mux.New(outPath)
	n := len(inPaths)

	go func() {
		result, err := pipeline.Splice(pipeline.SpliceInput{
			Sources:            sources,
			Encoder:            enc,
			Muxer:              mux,
			ExpectedDurationUs: totalDurationUs,
			OutputSampleRateHz: sampleRate,
			OnProgress:         progressAdapter(progressCh, TagSplice),
			Cancel:             op.cancelChan(),
		})
		if err != nil {
			op.finish(ConversionResult{}, err, progressCh)
			return
		}
		op.finish(ConversionResult{
			DurationMs:     result.DurationUs / 1000,
			BitRateKbps:    opts.BitRateKbps,
			SampleRateHz:   sampleRate,
			FilesProcessed: n,
		}, nil, progressCh)
	}()
	return op
}

// ExtractWaveform implements spec §6's extract_waveform.
func ExtractWaveform(inPath string, samplesPerSecond int) *Operation[WaveformEnvelope] {
	op, progressCh := newOperation[WaveformEnvelope]()

	if inPath == "" {
		op.finish(WaveformEnvelope{}, errs.New(errs.InvalidArguments, "in_path must be non-empty"), progressCh)
		return op
	}
	if samplesPerSecond < 1 || samplesPerSecond > 1000 {
		op.finish(WaveformEnvelope{}, errs.New(errs.InvalidArguments, "samples_per_second out of range [1, 1000]"), progressCh)
		return op
	}

	d, fam, track, err := openInput(inPath)
	if err != nil {
		op.finish(WaveformEnvelope{}, err, progressCh)
		return op
	}
	dec, err := buildDecoder(fam, track)
	if err != nil {
		d.Close()
		op.finish(WaveformEnvelope{}, err, progressCh)
		return op
	}

	go func() {
		env, err := waveform.Extract(waveform.Input{
			Demuxer:          d,
			Decoder:          dec,
			Format:           track,
			SamplesPerSecond: samplesPerSecond,
			OnProgress:       progressAdapter(progressCh, TagWaveform),
			Cancel:           op.cancelChan(),
		})
		if err != nil {
			op.finish(WaveformEnvelope{}, err, progressCh)
			return
		}
		op.finish(WaveformEnvelope{
			Amplitudes:   env.Amplitudes,
			SampleRateHz: env.SampleRateHz,
			DurationMs:   env.DurationMs,
			Channels:     env.Channels,
		}, nil, progressCh)
	}()
	return op
}

// openInput sniffs path's container family, opens the matching demuxer,
// and selects its first audio track.
func openInput(path string) (demux.Demuxer, format.Family, au.TrackFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, format.Unknown, au.TrackFormat{}, errs.Wrap(errs.IoError, "open input", err).WithContext("path", path)
	}
	fam, serr := format.Detect(f)
	f.Close()
	if serr != nil {
		return nil, format.Unknown, au.TrackFormat{}, errs.Wrap(errs.IoError, "sniff input", serr).WithContext("path", path)
	}
	if fam == format.Unknown {
		fam = format.DetectExt(extOf(path))
	}
	if fam == format.Unknown {
		return nil, format.Unknown, au.TrackFormat{}, errs.New(errs.UnsupportedFormat, "unrecognized container/codec").WithContext("path", path)
	}

	var d demux.Demuxer
	var oerr error
	switch fam {
	case format.MP4:
		d, oerr = mp4demux.Open(path)
	case format.MP3:
		d, oerr = mp3demux.Open(path)
	case format.WAV:
		d, oerr = wavdemux.Open(path)
	case format.OGG:
		d, oerr = oggdemux.Open(path)
	}
	if oerr != nil {
		return nil, fam, au.TrackFormat{}, errs.Wrap(errs.IoError, "open demuxer", oerr).WithContext("path", path)
	}
	if serr := d.Select(0); serr != nil {
		d.Close()
		return nil, fam, au.TrackFormat{}, errs.Wrap(errs.UnsupportedFormat, "no audio track", serr).WithContext("path", path)
	}
	return d, fam, d.Tracks()[0], nil
}

// buildDecoder returns the codec.Decoder paired with fam by spec §4.C's
// container/codec table, configured and started against track.
func buildDecoder(fam format.Family, track au.TrackFormat) (codec.Decoder, error) {
	var dec codec.Decoder
	switch fam {
	case format.MP4:
		dec = aaccodec.NewDecoder()
	case format.MP3:
		dec = mp3codec.New()
	case format.WAV:
		dec = pcmpass.New()
	case format.OGG:
		dec = vorbis.New()
	default:
		return nil, errs.New(errs.UnsupportedFormat, "no decoder for this container/codec family")
	}
	if err := dec.Configure(track); err != nil {
		return nil, errs.Wrap(errs.CodecError, "configure decoder", err)
	}
	if err := dec.Start(); err != nil {
		return nil, errs.Wrap(errs.CodecError, "start decoder", err)
	}
	return dec, nil
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func mimeFamily(mime string) format.Family {
	switch mime {
	case "audio/mp4a-latm", "audio/mp4", "audio/aac":
		return format.MP4
	case "audio/mpeg":
		return format.MP3
	case "audio/wav":
		return format.WAV
	case "audio/ogg", "audio/vorbis":
		return format.OGG
	default:
		return format.Unknown
	}
}

func capabilitiesFor(mime string) Capabilities {
	switch mime {
	case "audio/mpeg":
		return Capabilities{Convertible: true, Trimmable: true, Waveform: true}
	case "audio/mp4", "audio/mp4a-latm", "audio/aac":
		return Capabilities{Convertible: true, Trimmable: true, LosslessTrimmable: true, Waveform: true}
	case "audio/wav":
		return Capabilities{Convertible: true, Trimmable: true, Waveform: true}
	case "audio/ogg", "audio/vorbis":
		return Capabilities{Convertible: true, Trimmable: true, Waveform: true}
	default:
		return Capabilities{}
	}
}

func clampChannels(ch int) int {
	if ch <= 0 {
		return 2
	}
	if ch > 2 {
		return 2
	}
	return ch
}

func progressAdapter(ch chan Progress, tag string) func(float64) {
	return func(v float64) {
		msg := Progress{Tag: tag, Value: v}
		select {
		case ch <- msg:
			return
		default:
		}
		// The buffer is momentarily full of updates a slow consumer hasn't
		// drained yet; evict the oldest one so this value — and critically
		// the terminal 1.0 emitted exactly once at the end of every
		// operation — is never silently dropped.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

func (op *Operation[T]) cancelChan() <-chan struct{} { return op.cancel }
