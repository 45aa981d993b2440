// Package format sniffs a file's container/codec family from its magic
// bytes, backing both the demuxer adapter selection and the info
// inspector's MIME classification (spec §4.I) so the two never disagree.
package format

import (
	"bytes"
	"io"
)

// Family identifies a container/codec family recognized by the core.
type Family int

const (
	Unknown Family = iota
	MP4     // MP4/M4A/AAC-in-MP4
	MP3     // MPEG-1/2 Layer III, with or without ID3v2
	WAV     // RIFF/WAVE PCM
	OGG     // Ogg Vorbis
)

// MIME returns the canonical MIME string spec §4.I's capability table
// keys on.
func (f Family) MIME() string {
	switch f {
	case MP4:
		return "audio/mp4"
	case MP3:
		return "audio/mpeg"
	case WAV:
		return "audio/wav"
	case OGG:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

const sniffLen = 12

// Detect classifies r's content by reading a small header, leaving the
// reader's position undefined — callers needing to reuse r must re-seek.
func Detect(r io.Reader) (Family, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return Unknown, err
	}
	head = head[:n]
	return detectHeader(head), nil
}

func detectHeader(head []byte) Family {
	if len(head) >= 4 && bytes.Equal(head[:4], []byte("OggS")) {
		return OGG
	}
	if len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")) {
		return WAV
	}
	if len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")) {
		return MP4
	}
	if len(head) >= 3 && bytes.Equal(head[:3], []byte("ID3")) {
		return MP3
	}
	if len(head) >= 2 && isMPEGFrameSync(head) {
		return MP3
	}
	return Unknown
}

// isMPEGFrameSync reports whether head begins with an 11-bit MPEG audio
// frame sync pattern (0xFFE.. through 0xFFF..), the header shape an MP3
// elementary stream starts with when it carries no ID3v2 tag.
func isMPEGFrameSync(head []byte) bool {
	if len(head) < 2 {
		return false
	}
	return head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

// DetectExt falls back to a file extension when the content sniff is
// inconclusive (e.g. a truncated or zero-length file).
func DetectExt(ext string) Family {
	switch ext {
	case ".m4a", ".mp4", ".aac", ".m4b":
		return MP4
	case ".mp3":
		return MP3
	case ".wav", ".wave":
		return WAV
	case ".ogg", ".oga":
		return OGG
	default:
		return Unknown
	}
}
