package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/errs"
	mp4mux "github.com/jota2rz/audiocore/internal/mux/mp4"
)

func TestFeedEncoderSucceedsImmediatelyWhenNotBackPressured(t *testing.T) {
	enc := &fakeEncoder{}
	require.NoError(t, feedEncoder(enc, []byte{1, 2, 3, 4}, 1000))
	require.Len(t, enc.queue, 2) // format-changed sentinel + the real frame
}

// TestFeedEncoderDrainsUnderBackPressureWithoutDroppingTheFrame is the
// back-pressure property test: an encoder whose input briefly reports
// ErrEmpty (its buffer full) must still receive the exact frame handed to
// feedEncoder once the pipeline has drained enough output to make room —
// never silently dropped.
func TestFeedEncoderDrainsUnderBackPressureWithoutDroppingTheFrame(t *testing.T) {
	enc := &fakeEncoder{stallInputCalls: 3}
	// Seed one already-ready output buffer so drainOneEncoderOutput has
	// something to relieve on the first retry.
	enc.queue = append(enc.queue, codecItem{bytes: []byte{9, 9}, ts: 1})

	pcm := []byte{1, 2, 3, 4}
	require.NoError(t, feedEncoder(enc, pcm, 5000))

	found := false
	for _, item := range enc.queue {
		if string(item.bytes) == string(pcm) {
			found = true
		}
	}
	assert.True(t, found, "fed frame must appear in the encoder's queue, not be dropped")
}

func TestFeedEncoderFailsAfterRetryBudgetExhausted(t *testing.T) {
	enc := &fakeEncoder{stallInputCalls: encoderRetryCount + 5}
	err := feedEncoder(enc, []byte{1}, 0)
	require.Error(t, err)
	assert.Equal(t, errs.PipelineStalled, errs.KindOf(err))
}

func newTestMuxer(t *testing.T) *mp4mux.Muxer {
	t.Helper()
	return mp4mux.New(filepath.Join(t.TempDir(), "out.m4a"))
}

func TestTranscodeEndToEnd(t *testing.T) {
	track := au.TrackFormat{MIME: "audio/wav", SampleRateHz: 8000, Channels: 1}
	demuxer := &fakeDemuxer{track: track, aus: []au.AccessUnit{
		{Bytes: []byte{1, 2}, PresentationTimeUs: 0, Flags: au.Flags{Sync: true}},
		{Bytes: []byte{3, 4}, PresentationTimeUs: 1000, Flags: au.Flags{}},
		{Bytes: []byte{5, 6}, PresentationTimeUs: 2000, Flags: au.Flags{}},
	}}
	decoder := &identityCodec{}
	encoder := &fakeEncoder{outputFormat: au.TrackFormat{MIME: "audio/mp4a-latm", SampleRateHz: 44100, Channels: 2}}
	muxer := newTestMuxer(t)

	result, err := Transcode(TranscodeInput{
		Demuxer:            demuxer,
		Decoder:            decoder,
		Encoder:            encoder,
		Muxer:              muxer,
		ExpectedDurationUs: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), result.DurationUs)

	st, err := os.Stat(muxer.Path())
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(0))
}

func TestTranscodeReportsMonotonicProgress(t *testing.T) {
	track := au.TrackFormat{MIME: "audio/wav", SampleRateHz: 8000, Channels: 1}
	demuxer := &fakeDemuxer{track: track, aus: []au.AccessUnit{
		{Bytes: []byte{1, 2}, PresentationTimeUs: 0},
		{Bytes: []byte{3, 4}, PresentationTimeUs: 1000},
		{Bytes: []byte{5, 6}, PresentationTimeUs: 2000},
	}}
	decoder := &identityCodec{}
	encoder := &fakeEncoder{outputFormat: au.TrackFormat{SampleRateHz: 44100, Channels: 2}}
	muxer := newTestMuxer(t)

	var progressValues []float64
	_, err := Transcode(TranscodeInput{
		Demuxer:            demuxer,
		Decoder:            decoder,
		Encoder:            encoder,
		Muxer:              muxer,
		ExpectedDurationUs: 2000,
		OnProgress:         func(p float64) { progressValues = append(progressValues, p) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, progressValues)

	last := -1.0
	terminalCount := 0
	for _, p := range progressValues {
		assert.GreaterOrEqual(t, p, last)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		if p == 1.0 {
			terminalCount++
		}
		last = p
	}
	assert.Equal(t, 1.0, progressValues[len(progressValues)-1])
	// spec §4.D.2: the final 1.0 is emitted exactly once, never as a
	// byproduct of an in-loop value also reaching 1.0.
	assert.Equal(t, 1, terminalCount)
}

func TestTranscodeCancellationDeletesPartialOutput(t *testing.T) {
	track := au.TrackFormat{MIME: "audio/wav", SampleRateHz: 8000, Channels: 1}
	demuxer := &fakeDemuxer{track: track, aus: []au.AccessUnit{
		{Bytes: []byte{1, 2}, PresentationTimeUs: 0},
	}}
	decoder := &identityCodec{}
	encoder := &fakeEncoder{outputFormat: au.TrackFormat{SampleRateHz: 44100, Channels: 2}}
	muxer := newTestMuxer(t)

	cancel := make(chan struct{})
	close(cancel)

	_, err := Transcode(TranscodeInput{
		Demuxer: demuxer,
		Decoder: decoder,
		Encoder: encoder,
		Muxer:   muxer,
		Cancel:  cancel,
	})
	require.Error(t, err)
	assert.Equal(t, errs.Cancelled, errs.KindOf(err))

	_, statErr := os.Stat(muxer.Path())
	assert.True(t, os.IsNotExist(statErr), "partial output must be removed on cancellation")
}

func TestTranscodeSingleSampleStillProducesPlayableOutput(t *testing.T) {
	track := au.TrackFormat{SampleRateHz: 8000, Channels: 1}
	demuxer := &fakeDemuxer{track: track, aus: []au.AccessUnit{
		{Bytes: []byte{1, 2}, PresentationTimeUs: 0},
	}}
	decoder := &identityCodec{}
	encoder := &fakeEncoder{outputFormat: au.TrackFormat{SampleRateHz: 44100, Channels: 2}}
	muxer := newTestMuxer(t)

	result, err := Transcode(TranscodeInput{
		Demuxer: demuxer,
		Decoder: decoder,
		Encoder: encoder,
		Muxer:   muxer,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.DurationUs)
}
