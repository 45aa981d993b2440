package pipeline

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/errs"
)

func twoSourceSplice(t *testing.T) ([]SpliceSource, *fakeEncoder) {
	t.Helper()
	track := au.TrackFormat{MIME: "audio/wav", SampleRateHz: 8000, Channels: 1}
	src0 := SpliceSource{
		Demuxer: &fakeDemuxer{track: track, aus: []au.AccessUnit{
			{Bytes: []byte{1, 2}, PresentationTimeUs: 0},
			{Bytes: []byte{3, 4}, PresentationTimeUs: 1000},
		}},
		Decoder: &identityCodec{},
	}
	src1 := SpliceSource{
		Demuxer: &fakeDemuxer{track: track, aus: []au.AccessUnit{
			{Bytes: []byte{5, 6}, PresentationTimeUs: 0},
			{Bytes: []byte{7, 8}, PresentationTimeUs: 1000},
		}},
		Decoder: &identityCodec{},
	}
	enc := &fakeEncoder{outputFormat: au.TrackFormat{SampleRateHz: 44100, Channels: 2}}
	return []SpliceSource{src0, src1}, enc
}

// TestSpliceSignalsEncoderEOSOnlyOnceAtTheVeryEnd verifies spec §4.G's
// critical invariant: the shared encoder's bit-reservoir state must never
// be reset between sources, which requires QueueInput to be called with
// the EOS flag exactly once, after the last source's decoder has drained.
func TestSpliceSignalsEncoderEOSOnlyOnceAtTheVeryEnd(t *testing.T) {
	sources, enc := twoSourceSplice(t)
	muxer := newTestMuxer(t)

	result, err := Splice(SpliceInput{
		Sources: sources,
		Encoder: enc,
		Muxer:   muxer,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, enc.eosCalls)
	// Source 0 ends at 1000us; source 1 starts after 1000us plus one AAC
	// frame (1024 samples @ 44100Hz, the encoder's default) so adjacent
	// boundaries strictly increase, per spec §4.G.
	assert.Equal(t, int64(1000+oneFrameUs(0)+1000), result.DurationUs)
}

func TestSpliceAppliesCumulativeOffsetPerSource(t *testing.T) {
	sources, enc := twoSourceSplice(t)
	muxer := newTestMuxer(t)

	result, err := Splice(SpliceInput{
		Sources: sources,
		Encoder: enc,
		Muxer:   muxer,
	})
	require.NoError(t, err)
	// Source 0 spans [0, 1000]; source 1's timestamps must be shifted to
	// start strictly after it (by one_frame_us), landing the combined
	// duration at 1000 + one_frame_us + 1000.
	assert.Equal(t, int64(1000+oneFrameUs(0)+1000), result.DurationUs)
}

func TestOneFrameUsDerivesFromConfiguredSampleRate(t *testing.T) {
	assert.Equal(t, int64(1024*1_000_000/44100), oneFrameUs(0))
	assert.Equal(t, int64(1024*1_000_000/44100), oneFrameUs(44100))
	assert.Equal(t, int64(1024*1_000_000/8000), oneFrameUs(8000))
}

func TestSpliceRejectsNoSources(t *testing.T) {
	muxer := newTestMuxer(t)
	_, err := Splice(SpliceInput{
		Sources: nil,
		Encoder: &fakeEncoder{},
		Muxer:   muxer,
	})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArguments, errs.KindOf(err))
}

func TestSpliceCancellationDeletesPartialOutput(t *testing.T) {
	sources, enc := twoSourceSplice(t)
	muxer := newTestMuxer(t)

	cancel := make(chan struct{})
	close(cancel)

	_, err := Splice(SpliceInput{
		Sources: sources,
		Encoder: enc,
		Muxer:   muxer,
		Cancel:  cancel,
	})
	require.Error(t, err)
	assert.Equal(t, errs.Cancelled, errs.KindOf(err))

	_, statErr := os.Stat(muxer.Path())
	assert.True(t, os.IsNotExist(statErr))
}
