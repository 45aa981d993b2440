package info

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/format"
)

func TestCapabilitiesForKnownMIMETypes(t *testing.T) {
	tests := []struct {
		mime string
		want Capabilities
	}{
		{"audio/mpeg", Capabilities{Convertible: true, Trimmable: true, Waveform: true}},
		{"audio/mp4", Capabilities{Convertible: true, Trimmable: true, LosslessTrimmable: true, Waveform: true}},
		{"audio/wav", Capabilities{Convertible: true, Trimmable: true, Waveform: true}},
		{"audio/ogg", Capabilities{Convertible: true, Trimmable: true, Waveform: true}},
		{"application/octet-stream", Capabilities{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, capabilitiesFor(tt.mime), "mime %q", tt.mime)
	}
}

func TestInspectMissingFileIsInvalid(t *testing.T) {
	got := Inspect(filepath.Join(t.TempDir(), "does-not-exist.m4a"))
	assert.False(t, got.Valid)
	assert.NotNil(t, got.Err)
}

func TestIsFormatSupportedNeverPanicsOnGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.bin")
	assert.NoError(t, os.WriteFile(path, []byte("not audio at all"), 0o644))
	assert.False(t, IsFormatSupported(path))
}

func TestCodecForKnownMIMETypes(t *testing.T) {
	assert.Equal(t, "mp3", codecFor("audio/mpeg"))
	assert.Equal(t, "aac", codecFor("audio/mp4"))
	assert.Equal(t, "aac", codecFor("audio/mp4a-latm"))
	assert.Equal(t, "pcm_s16le", codecFor("audio/wav"))
	assert.Equal(t, "vorbis", codecFor("audio/ogg"))
	assert.Equal(t, "", codecFor("application/octet-stream"))
}

func TestBitDepthForOnlyWAVHasAFixedDepth(t *testing.T) {
	assert.Equal(t, 16, bitDepthFor("audio/wav"))
	assert.Equal(t, 0, bitDepthFor("audio/mpeg"))
	assert.Equal(t, 0, bitDepthFor("audio/mp4"))
}

func TestFoundTracksDescribesEveryTrackInOrder(t *testing.T) {
	tracks := []au.TrackFormat{
		{MIME: "audio/mp4a-latm", SampleRateHz: 44100, Channels: 2},
		{MIME: "audio/mp4a-latm", SampleRateHz: 48000, Channels: 1},
	}
	got := foundTracks(tracks)
	assert.Len(t, got, 2)
	assert.Contains(t, got[0], "track 0")
	assert.Contains(t, got[0], "44100")
	assert.Contains(t, got[1], "track 1")
	assert.Contains(t, got[1], "mono")
}

func TestDiagnosticsTextMentionsPathAndFormat(t *testing.T) {
	track := au.TrackFormat{MIME: "audio/mp4a-latm", SampleRateHz: 44100, Channels: 2}
	text := diagnosticsText("/tmp/in.m4a", track, format.MP4)
	assert.Contains(t, text, "/tmp/in.m4a")
	assert.Contains(t, text, "audio/mp4")
}
