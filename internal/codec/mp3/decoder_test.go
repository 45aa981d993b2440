package mp3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
)

func TestQueueInputIgnoresZeroLengthPrimingSample(t *testing.T) {
	d := New()
	require.NoError(t, d.Configure(au.TrackFormat{}))
	require.NoError(t, d.QueueInput(0, nil, 0, au.Flags{}))
	_, _, err := d.DequeueOutput(0)
	assert.Equal(t, codec.ErrEmpty, err)
}

func TestQueueInputToleratesHeaderNotYetBuffered(t *testing.T) {
	d := New()
	require.NoError(t, d.Configure(au.TrackFormat{}))
	// A few garbage bytes can't form a valid MP3 frame header yet; the
	// decoder must not error, only wait for more data.
	err := d.QueueInput(0, []byte{0x00, 0x01, 0x02}, 0, au.Flags{})
	require.NoError(t, err)
	_, _, err = d.DequeueOutput(0)
	assert.Equal(t, codec.ErrEmpty, err)
}

func TestEOSWithNoBackendYieldsEOSMarkerNotError(t *testing.T) {
	d := New()
	require.NoError(t, d.Configure(au.TrackFormat{}))
	require.NoError(t, d.QueueInput(0, nil, 0, au.Flags{EOS: true}))

	_, info, err := d.DequeueOutput(0)
	require.NoError(t, err)
	assert.True(t, info.Flags.EOS)
}

func TestSampleRateZeroBeforeBackendStarts(t *testing.T) {
	d := New()
	require.NoError(t, d.Configure(au.TrackFormat{}))
	assert.Equal(t, 0, d.SampleRate())
}
