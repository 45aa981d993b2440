package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want Family
	}{
		{"ogg capture pattern", []byte("OggS\x00\x02\x00\x00"), OGG},
		{"riff wave", append([]byte("RIFF\x24\x00\x00\x00"), []byte("WAVE")...), WAV},
		{"mp4 ftyp box", []byte("\x00\x00\x00\x18ftypM4A "), MP4},
		{"id3v2 tag", []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), MP3},
		{"bare mpeg frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, MP3},
		{"unrecognized header", []byte("junkjunkjunk"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(bytes.NewReader(tt.head))
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectExt(t *testing.T) {
	tests := []struct {
		ext  string
		want Family
	}{
		{".m4a", MP4},
		{".mp3", MP3},
		{".wav", WAV},
		{".ogg", OGG},
		{".flac", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectExt(tt.ext), "ext %q", tt.ext)
	}
}

func TestFamilyMIME(t *testing.T) {
	assert.Equal(t, "audio/mp4", MP4.MIME())
	assert.Equal(t, "audio/mpeg", MP3.MIME())
	assert.Equal(t, "audio/wav", WAV.MIME())
	assert.Equal(t, "audio/ogg", OGG.MIME())
	assert.Equal(t, "application/octet-stream", Unknown.MIME())
}

func TestDetectTruncatedInput(t *testing.T) {
	// Fewer bytes than sniffLen must not error; it should just fail to
	// match any signature.
	got, err := Detect(bytes.NewReader([]byte{0x00, 0x01}))
	assert.NoError(t, err)
	assert.Equal(t, Unknown, got)
}
