// Package waveform implements spec §4.H: demuxer + decoder only (no
// encoder, no muxer), folding decoded PCM into a fixed-rate peak-amplitude
// envelope.
package waveform

import (
	"encoding/binary"
	"time"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
	"github.com/jota2rz/audiocore/internal/demux"
	"github.com/jota2rz/audiocore/internal/errs"
	"github.com/jota2rz/audiocore/internal/logging"
)

const dequeueTimeout = 1 * time.Millisecond

// Envelope is spec §3's Waveform Envelope: a peak-amplitude reduction of
// the decoded PCM, one element per bucket of pcm_sample_rate/sps samples.
type Envelope struct {
	Amplitudes   []float64
	SampleRateHz int
	DurationMs   int64
	Channels     int
}

// Input bundles what Extract needs to walk one track to completion.
type Input struct {
	Demuxer          demux.Demuxer
	Decoder          codec.Decoder
	Format           au.TrackFormat // the demuxer's reported format, for sample_rate/channels/duration
	SamplesPerSecond int            // validated at the API surface to [1, 1000]
	OnProgress       func(float64)
	Cancel           <-chan struct{}
}

// Extract drives demux→decode to completion, treating every decoded PCM
// frame as 16-bit little-endian interleaved samples and folding them into
// fixed-size buckets per spec §4.H.
func Extract(in Input) (Envelope, error) {
	log := logging.For("waveform.extract")

	if in.SamplesPerSecond < 1 || in.SamplesPerSecond > 1000 {
		return Envelope{}, errs.New(errs.InvalidArguments, "waveform: samples_per_second out of range")
	}

	bucketSize := in.Format.SampleRateHz / in.SamplesPerSecond
	if bucketSize < 1 {
		bucketSize = 1
	}
	channels := in.Format.Channels
	if channels < 1 {
		channels = 1
	}

	var (
		amplitudes  []float64
		bucketMax   float64
		bucketCount int
		channelPos  int // scalar samples consumed so far in the current frame
		decoderDone bool
		processedUs int64
		lastProg    float64
		noActivity  int
	)

	finish := func(err error) error {
		_ = in.Decoder.Stop()
		_ = in.Decoder.Release()
		return err
	}

	iterations := 0
	const maxIterations = 2_000_000

	for !decoderDone {
		select {
		case <-canceledCh(in.Cancel):
			return Envelope{}, finish(errs.New(errs.Cancelled, "waveform: cancellation observed"))
		default:
		}

		iterations++
		if iterations > maxIterations {
			return Envelope{}, finish(errs.New(errs.Timeout, "waveform: iteration budget exceeded"))
		}

		advanced := false

		if slot, err := in.Decoder.DequeueInput(dequeueTimeout); err == nil {
			nextAU, feedErr := in.Demuxer.Next()
			if feedErr == demux.ErrEndOfStream {
				if ferr := in.Decoder.QueueInput(slot, nil, processedUs, au.Flags{EOS: true}); ferr != nil {
					return Envelope{}, finish(errs.Wrap(errs.CodecError, "waveform: signal decoder EOS", ferr))
				}
				decoderDone = true
				advanced = true
			} else if feedErr != nil {
				return Envelope{}, finish(errs.Wrap(errs.IoError, "waveform: demux read", feedErr))
			} else {
				if ferr := in.Decoder.QueueInput(slot, nextAU.Bytes, nextAU.PresentationTimeUs, nextAU.Flags); ferr != nil {
					return Envelope{}, finish(errs.Wrap(errs.CodecError, "waveform: queue decoder input", ferr))
				}
				processedUs = nextAU.PresentationTimeUs
				advanced = true
			}
		}

		if slot, info, err := in.Decoder.DequeueOutput(dequeueTimeout); err == nil {
			pcm := in.Decoder.ReadOutput(slot)
			for i := 0; i+1 < len(pcm); i += 2 {
				sample := int32(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
				v := float64(abs32(sample)) / 32768.0
				if v > bucketMax {
					bucketMax = v
				}
				// bucket_size counts frames (one per channel-interleaved
				// group), not raw scalar samples, so a stereo track's
				// envelope has the same length as a mono one of equal
				// duration (spec §3's ceil(duration_ms*sps/1000)).
				channelPos++
				if channelPos < channels {
					continue
				}
				channelPos = 0
				bucketCount++
				if bucketCount >= bucketSize {
					amplitudes = append(amplitudes, bucketMax)
					bucketMax = 0
					bucketCount = 0
				}
			}
			_ = in.Decoder.ReleaseOutput(slot)
			advanced = true
			if info.Flags.EOS {
				decoderDone = true
			}
		}

		if !advanced {
			noActivity++
			if noActivity >= 1000 && !decoderDone {
				return Envelope{}, finish(errs.New(errs.PipelineStalled, "waveform: watchdog threshold exceeded"))
			}
		} else {
			noActivity = 0
		}

		if in.OnProgress != nil && in.Format.DurationUs > 0 {
			p := float64(processedUs) / float64(in.Format.DurationUs)
			if p > 0.95 {
				p = 0.95
			}
			if p > lastProg {
				lastProg = p
				in.OnProgress(p)
			}
		}
	}

	// Spec §4.H: the trailing partial bucket, if any samples remain in it,
	// is still emitted — it differs from the nominal length by at most one.
	if bucketCount > 0 {
		amplitudes = append(amplitudes, bucketMax)
	}

	if err := finish(nil); err != nil {
		return Envelope{}, err
	}
	if in.OnProgress != nil {
		in.OnProgress(1.0)
	}

	log.Info("waveform extraction complete", "buckets", len(amplitudes))
	return Envelope{
		Amplitudes:   amplitudes,
		SampleRateHz: in.Format.SampleRateHz,
		DurationMs:   in.Format.DurationUs / 1000,
		Channels:     in.Format.Channels,
	}, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func canceledCh(ch <-chan struct{}) <-chan struct{} {
	if ch == nil {
		return nil
	}
	return ch
}
