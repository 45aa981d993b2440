package waveform

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
	"github.com/jota2rz/audiocore/internal/demux"
)

// fakeDemuxer replays a fixed sequence of access units, each carrying raw
// PCM bytes (waveform.Extract never cares which codec produced them, only
// that the configured Decoder below passes them through unchanged).
type fakeDemuxer struct {
	aus    []au.AccessUnit
	cursor int
}

func (d *fakeDemuxer) Tracks() []au.TrackFormat { return nil }
func (d *fakeDemuxer) Select(int) error         { return nil }
func (d *fakeDemuxer) SeekToSync(t int64) (int64, error) {
	return 0, nil
}
func (d *fakeDemuxer) Next() (au.AccessUnit, error) {
	if d.cursor >= len(d.aus) {
		return au.AccessUnit{}, demux.ErrEndOfStream
	}
	a := d.aus[d.cursor]
	d.cursor++
	return a, nil
}
func (d *fakeDemuxer) Close() error { return nil }

// identityDecoder treats whatever bytes it is handed as already-PCM,
// passing them straight through — a stand-in for pcmpass.Decoder.
type identityDecoder struct {
	pending  []pendingFrame
	lastRead []byte
}

type pendingFrame struct {
	pcm   []byte
	ts    int64
	flags au.Flags
}

func (d *identityDecoder) Configure(au.TrackFormat) error { return nil }
func (d *identityDecoder) Start() error                   { return nil }
func (d *identityDecoder) DequeueInput(time.Duration) (codec.Slot, error) {
	return 0, nil
}
func (d *identityDecoder) QueueInput(slot codec.Slot, data []byte, ts int64, flags au.Flags) error {
	d.pending = append(d.pending, pendingFrame{pcm: data, ts: ts, flags: flags})
	return nil
}
func (d *identityDecoder) DequeueOutput(time.Duration) (codec.Slot, codec.BufferInfo, error) {
	if len(d.pending) == 0 {
		return 0, codec.BufferInfo{}, codec.ErrEmpty
	}
	head := d.pending[0]
	d.pending = d.pending[1:]
	d.lastRead = head.pcm
	return 0, codec.BufferInfo{PresentationTimeUs: head.ts, Flags: head.flags, Size: len(head.pcm)}, nil
}

var _ codec.Decoder = (*identityDecoder)(nil)

func (d *identityDecoder) ReadOutput(codec.Slot) []byte { return d.lastRead }
func (d *identityDecoder) ReleaseOutput(codec.Slot) error {
	d.lastRead = nil
	return nil
}
func (d *identityDecoder) Stop() error    { return nil }
func (d *identityDecoder) Release() error { return nil }

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestExtractRejectsInvalidSamplesPerSecond(t *testing.T) {
	_, err := Extract(Input{
		Demuxer:          &fakeDemuxer{},
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 44100},
		SamplesPerSecond: 0,
	})
	require.Error(t, err)

	_, err = Extract(Input{
		Demuxer:          &fakeDemuxer{},
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 44100},
		SamplesPerSecond: 1001,
	})
	require.Error(t, err)
}

func TestExtractBucketCountMatchesSampleCount(t *testing.T) {
	// sample_rate=8, samples_per_second=2 -> bucket_size = 4 samples.
	// 10 samples -> 2 full buckets + 1 trailing partial bucket of 2.
	samples := make([]int16, 10)
	for i := range samples {
		samples[i] = int16(1000 * (i + 1))
	}
	demuxer := &fakeDemuxer{aus: []au.AccessUnit{
		{Bytes: pcm16(samples...), PresentationTimeUs: 0},
	}}

	env, err := Extract(Input{
		Demuxer:          demuxer,
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 8, Channels: 1, DurationUs: 1_250_000},
		SamplesPerSecond: 2,
	})
	require.NoError(t, err)
	assert.Len(t, env.Amplitudes, 3)

	for _, a := range env.Amplitudes {
		assert.GreaterOrEqual(t, a, 0.0)
		assert.LessOrEqual(t, a, 1.0)
	}
}

func TestExtractAmplitudeTracksPeakNotAverage(t *testing.T) {
	// One bucket containing a loud sample and several quiet ones: the
	// bucket's amplitude must reflect the peak, not an average.
	samples := []int16{100, 100, 32767, 100}
	demuxer := &fakeDemuxer{aus: []au.AccessUnit{
		{Bytes: pcm16(samples...), PresentationTimeUs: 0},
	}}

	env, err := Extract(Input{
		Demuxer:          demuxer,
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 4, Channels: 1},
		SamplesPerSecond: 1, // bucket_size = 4, exactly one bucket
	})
	require.NoError(t, err)
	require.Len(t, env.Amplitudes, 1)
	assert.InDelta(t, 1.0, env.Amplitudes[0], 0.001)
}

func TestExtractBucketsCountFramesNotRawInterleavedScalars(t *testing.T) {
	// 8 interleaved int16s = 4 stereo frames. bucket_size = 4 frames, so a
	// stereo track should land in exactly one bucket, same as a mono track
	// of equal duration — not two buckets from counting raw scalars.
	samples := []int16{100, 200, 100, 200, 100, 32767, 100, 200}
	demuxer := &fakeDemuxer{aus: []au.AccessUnit{
		{Bytes: pcm16(samples...), PresentationTimeUs: 0},
	}}

	env, err := Extract(Input{
		Demuxer:          demuxer,
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 4, Channels: 2},
		SamplesPerSecond: 1, // bucket_size = 4 frames
	})
	require.NoError(t, err)
	require.Len(t, env.Amplitudes, 1)
	assert.InDelta(t, 1.0, env.Amplitudes[0], 0.001)
}

func TestExtractHandlesMinInt16WithoutOverflow(t *testing.T) {
	samples := []int16{-32768, 0}
	demuxer := &fakeDemuxer{aus: []au.AccessUnit{
		{Bytes: pcm16(samples...), PresentationTimeUs: 0},
	}}

	env, err := Extract(Input{
		Demuxer:          demuxer,
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 2, Channels: 1},
		SamplesPerSecond: 1,
	})
	require.NoError(t, err)
	require.Len(t, env.Amplitudes, 1)
	assert.InDelta(t, 1.0, env.Amplitudes[0], 0.001)
}

func TestExtractEmptyTrackProducesEmptyEnvelope(t *testing.T) {
	env, err := Extract(Input{
		Demuxer:          &fakeDemuxer{},
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 44100, Channels: 2},
		SamplesPerSecond: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, env.Amplitudes)
}

func TestExtractObservesCancellation(t *testing.T) {
	cancel := make(chan struct{})
	close(cancel)

	_, err := Extract(Input{
		Demuxer:          &fakeDemuxer{aus: []au.AccessUnit{{Bytes: pcm16(1, 2, 3)}}},
		Decoder:          &identityDecoder{},
		Format:           au.TrackFormat{SampleRateHz: 44100, Channels: 2},
		SamplesPerSecond: 10,
		Cancel:           cancel,
	})
	require.Error(t, err)
}
