// Package info implements spec §4.I: demuxer-only inspection, classifying
// a file's container/codec family, its track format, and the capability
// flags the public surface exposes for it.
package info

import (
	"fmt"
	"os"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/demux"
	"github.com/jota2rz/audiocore/internal/demux/mp3"
	"github.com/jota2rz/audiocore/internal/demux/mp4"
	"github.com/jota2rz/audiocore/internal/demux/ogg"
	"github.com/jota2rz/audiocore/internal/demux/wav"
	"github.com/jota2rz/audiocore/internal/errs"
	"github.com/jota2rz/audiocore/internal/format"
)

// Capabilities is the fixed MIME-family capability table of spec §4.I.
type Capabilities struct {
	Convertible       bool
	Trimmable         bool
	LosslessTrimmable bool
	Waveform          bool
}

// AudioInfo is spec §3's Audio Info sum type, rendered as a Go struct with
// a Valid discriminant rather than two separate constructors: Invalid
// carries only Err, Valid carries every other field.
type AudioInfo struct {
	Valid bool
	Err   *errs.Error // non-nil iff !Valid

	FileSizeBytes int64
	MIME          string
	Codec         string
	SampleRateHz  int
	Channels      int
	BitRateBps    int
	DurationMs    int64
	BitDepth      int // 0 when the container has no fixed PCM bit depth
	Metadata      map[string]string
	Capabilities  Capabilities
	// DiagnosticsText is a short, human-readable summary of what was
	// classified — not meant to be parsed, only logged or displayed.
	DiagnosticsText string
	// FoundTracks describes every audio track the demuxer exposes, one
	// line per track, in container order; non-audio tracks are not listed.
	FoundTracks []string
}

// Inspect classifies path by opening it with the matching demuxer only
// (no codec instantiated), per spec §4.I.
func Inspect(path string) AudioInfo {
	fam, err := sniff(path)
	if err != nil {
		return invalid(errs.Wrap(errs.IoError, "info: open", err))
	}
	if fam == format.Unknown {
		return invalid(errs.New(errs.UnsupportedFormat, "info: unrecognized container/codec"))
	}

	d, err := openDemuxer(path, fam)
	if err != nil {
		return invalid(errs.Wrap(errs.UnsupportedFormat, "info: demux open", err))
	}
	defer d.Close()

	var fileSize int64
	if st, statErr := os.Stat(path); statErr == nil {
		fileSize = st.Size()
	}

	if err := d.Select(0); err != nil {
		return invalid(errs.Wrap(errs.UnsupportedFormat, "info: no audio track", err))
	}
	track := d.Tracks()[0]

	bitRate := track.BitRateBps
	durationMs := track.DurationUs / 1000
	if bitRate <= 0 && track.DurationUs > 0 && fileSize > 0 {
		// spec §4.I: bitrate, when absent, is file_size_bytes*8/duration_seconds.
		bitRate = int(float64(fileSize*8) / (float64(track.DurationUs) / 1_000_000))
	} else if track.DurationUs <= 0 && bitRate > 0 && fileSize > 0 {
		durationMs = (fileSize * 8 * 1000) / int64(bitRate)
	}

	return AudioInfo{
		Valid:           true,
		FileSizeBytes:   fileSize,
		MIME:            track.MIME,
		Codec:           codecFor(track.MIME),
		SampleRateHz:    track.SampleRateHz,
		Channels:        track.Channels,
		BitRateBps:      bitRate,
		DurationMs:      durationMs,
		BitDepth:        bitDepthFor(track.MIME),
		Metadata:        map[string]string{}, // spec's Non-goals exclude metadata editing; no tag reader is wired in yet
		Capabilities:    capabilitiesFor(track.MIME),
		DiagnosticsText: diagnosticsText(path, track, fam),
		FoundTracks:     foundTracks(d.Tracks()),
	}
}

// IsFormatSupported reports whether path can be opened and classified as a
// recognized container/codec family; it never returns an error to the
// caller, per spec §6 ("never throws; returns false on any error").
func IsFormatSupported(path string) bool {
	return Inspect(path).Valid
}

func invalid(err *errs.Error) AudioInfo {
	return AudioInfo{Valid: false, Err: err}
}

func sniff(path string) (format.Family, error) {
	f, err := os.Open(path)
	if err != nil {
		return format.Unknown, err
	}
	defer f.Close()
	fam, err := format.Detect(f)
	if err != nil {
		return format.Unknown, err
	}
	if fam == format.Unknown {
		fam = format.DetectExt(extOf(path))
	}
	return fam, nil
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func openDemuxer(path string, fam format.Family) (demux.Demuxer, error) {
	switch fam {
	case format.MP4:
		return mp4.Open(path)
	case format.MP3:
		return mp3.Open(path)
	case format.WAV:
		return wav.Open(path)
	case format.OGG:
		return ogg.Open(path)
	default:
		return nil, errs.New(errs.UnsupportedFormat, "info: no demuxer for family")
	}
}

// codecFor names the elementary codec behind a classified MIME type, for
// display purposes only — it is not re-parsed anywhere downstream.
func codecFor(mime string) string {
	switch mime {
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4", "audio/mp4a-latm", "audio/aac":
		return "aac"
	case "audio/wav":
		return "pcm_s16le"
	case "audio/ogg", "audio/vorbis":
		return "vorbis"
	default:
		return ""
	}
}

// bitDepthFor reports the fixed PCM bit depth this core decodes/encodes at
// for containers where that is meaningful; compressed formats have no
// single bit depth of their own, so 0 ("unset") is correct for them.
func bitDepthFor(mime string) int {
	if mime == "audio/wav" {
		return 16
	}
	return 0
}

// diagnosticsText is a short, human-legible summary of what Inspect found —
// meant for logs/UI display, not parsing.
func diagnosticsText(path string, track au.TrackFormat, fam format.Family) string {
	return fmt.Sprintf("%s: recognized as %s, %dHz %s, %s", path, fam.MIME(), track.SampleRateHz, channelsLabel(track.Channels), track.MIME)
}

func channelsLabel(channels int) string {
	if channels == 1 {
		return "mono"
	}
	return fmt.Sprintf("%d-channel", channels)
}

// foundTracks renders one short description per container track, in
// container order, for AudioInfo.FoundTracks.
func foundTracks(tracks []au.TrackFormat) []string {
	out := make([]string, 0, len(tracks))
	for i, t := range tracks {
		out = append(out, fmt.Sprintf("track %d: %s %dHz %s", i, t.MIME, t.SampleRateHz, channelsLabel(t.Channels)))
	}
	return out
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
