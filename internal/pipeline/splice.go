package pipeline

import (
	"os"
	"time"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
	"github.com/jota2rz/audiocore/internal/demux"
	"github.com/jota2rz/audiocore/internal/errs"
	"github.com/jota2rz/audiocore/internal/logging"
	mp4mux "github.com/jota2rz/audiocore/internal/mux/mp4"
)

// SpliceSource is one input of a splice: its own demuxer and decoder, but
// no encoder or muxer of its own — those are shared across the whole
// splice per spec §4.G.
type SpliceSource struct {
	Demuxer demux.Demuxer
	Decoder codec.Decoder
}

// SpliceInput bundles what spec §4.G's orchestrator needs: N sources fed
// in order into one shared encoder and one shared muxer.
type SpliceInput struct {
	Sources            []SpliceSource
	Encoder            codec.Encoder
	Muxer              *mp4mux.Muxer
	ExpectedDurationUs int64
	// OutputSampleRateHz is the shared encoder's configured rate, used to
	// derive one_frame_us (spec §4.G) for the inter-source offset; 0 falls
	// back to the encoder's own default of 44100Hz.
	OutputSampleRateHz int
	OnProgress         func(float64)
	Cancel             <-chan struct{}
}

// aacFrameSamples is the fixed AAC-LC frame size every encoder this core
// instantiates produces (spec §4.C), used to derive one_frame_us.
const aacFrameSamples = 1024

func oneFrameUs(sampleRateHz int) int64 {
	if sampleRateHz <= 0 {
		sampleRateHz = 44100
	}
	return int64(aacFrameSamples) * 1_000_000 / int64(sampleRateHz)
}

// Splice concatenates N inputs into one output track (spec §4.G): each
// source is decoded in turn and its PCM fed to the single shared encoder,
// with a running cumulative_offset_us so every source's timestamps land
// after the previous one's — and, critically, no EOS is signaled to the
// encoder between sources, only after the last one, so the encoder's
// internal state (e.g. bit-reservoir) is never reset mid-splice.
func Splice(in SpliceInput) (Result, error) {
	log := logging.For("pipeline.splice")

	if len(in.Sources) == 0 {
		return Result{}, errs.New(errs.InvalidArguments, "splice: at least one source required")
	}

	var (
		muxerStarted  bool
		audioTrackID  mp4mux.TrackID
		cumulativeUs  int64
		lastEmittedUs int64
		lastProgress  float64
		noActivity    int
	)

	start := time.Now()
	iterations := 0

	cleanup := func(finalErr error) error {
		_ = in.Encoder.Stop()
		_ = in.Encoder.Release()
		for _, s := range in.Sources {
			_ = s.Decoder.Stop()
			_ = s.Decoder.Release()
		}
		if muxerStarted {
			_ = in.Muxer.Stop()
		}
		_ = in.Muxer.Close()
		if finalErr != nil {
			if errs.Is(finalErr, errs.Cancelled) {
				_ = os.Remove(in.Muxer.Path())
			}
			return finalErr
		}
		if st, statErr := os.Stat(in.Muxer.Path()); statErr != nil || st.Size() == 0 {
			return errs.New(errs.IoError, "splice: output file missing or empty after completion")
		}
		return nil
	}

	drainOutputs := func() error {
		for {
			slot, info, err := in.Encoder.DequeueOutput(shortTimeout)
			if err != nil {
				if fc, ok := err.(*codec.FormatChangedError); ok {
					id, aerr := in.Muxer.AddTrack(fc.Format)
					if aerr != nil {
						return errs.Wrap(errs.MuxerError, "splice: add track", aerr)
					}
					audioTrackID = id
					if serr := in.Muxer.Start(); serr != nil {
						return errs.Wrap(errs.MuxerError, "splice: start muxer", serr)
					}
					muxerStarted = true
					continue
				}
				return nil
			}
			if !muxerStarted {
				return errs.New(errs.MuxerError, "splice: encoder output reached before FormatChanged")
			}
			data := in.Encoder.ReadOutput(slot)
			if len(data) > 0 {
				if werr := in.Muxer.WriteSample(audioTrackID, au.AccessUnit{
					Bytes: data, PresentationTimeUs: info.PresentationTimeUs, Flags: info.Flags,
				}); werr != nil {
					return errs.Wrap(errs.MuxerError, "splice: write sample", werr)
				}
			}
			_ = in.Encoder.ReleaseOutput(slot)
			if info.Flags.EOS {
				return nil
			}
		}
	}

	for srcIdx, src := range in.Sources {
		isLast := srcIdx == len(in.Sources)-1
		decoderDone := false
		sourceStartUs := cumulativeUs
		var sourceMaxUs int64

		for !decoderDone {
			select {
			case <-canceled(in.Cancel):
				return Result{}, cleanup(errs.New(errs.Cancelled, "splice: cancellation observed"))
			default:
			}

			iterations++
			if iterations > maxIterations || time.Since(start) > maxWallClock {
				return Result{}, cleanup(errs.New(errs.Timeout, "splice: iteration or wall-clock budget exceeded"))
			}

			advanced := false

			if slot, err := src.Decoder.DequeueInput(shortTimeout); err == nil {
				nextAU, feedErr := src.Demuxer.Next()
				switch {
				case feedErr == demux.ErrEndOfStream:
					if ferr := src.Decoder.QueueInput(slot, nil, 0, au.Flags{EOS: true}); ferr != nil {
						return Result{}, cleanup(errs.Wrap(errs.CodecError, "splice: signal decoder EOS", ferr))
					}
					decoderDone = true
					advanced = true
				case feedErr != nil:
					return Result{}, cleanup(errs.Wrap(errs.IoError, "splice: demux read", feedErr))
				default:
					if ferr := src.Decoder.QueueInput(slot, nextAU.Bytes, nextAU.PresentationTimeUs, nextAU.Flags); ferr != nil {
						return Result{}, cleanup(errs.Wrap(errs.CodecError, "splice: queue decoder input", ferr))
					}
					if nextAU.PresentationTimeUs > sourceMaxUs {
						sourceMaxUs = nextAU.PresentationTimeUs
					}
					advanced = true
				}
			}

			if slot, info, err := src.Decoder.DequeueOutput(shortTimeout); err == nil {
				pcm := src.Decoder.ReadOutput(slot)
				outTs := sourceStartUs + info.PresentationTimeUs
				// Never pass EOS through to the shared encoder here: only
				// the last source's decoder drain is allowed to close the
				// encoder's input, per spec §4.G's no-reset-between-
				// sources rule.
				flags := info.Flags
				sourceDecoderEOS := flags.EOS
				flags.EOS = false
				if len(pcm) > 0 {
					if ferr := feedEncoder(in.Encoder, pcm, outTs); ferr != nil {
						return Result{}, cleanup(ferr)
					}
				}
				_ = src.Decoder.ReleaseOutput(slot)
				advanced = true
				if sourceDecoderEOS {
					if isLast {
						if ferr := signalEncoderEOS(in.Encoder); ferr != nil {
							return Result{}, cleanup(ferr)
						}
					}
					break
				}
			}

			if err := drainOutputs(); err != nil {
				return Result{}, cleanup(err)
			}

			if advanced {
				noActivity = 0
			} else {
				noActivity++
			}
			if noActivity >= watchdogThreshold {
				return Result{}, cleanup(errs.New(errs.PipelineStalled, "splice: watchdog threshold exceeded"))
			}

			if in.OnProgress != nil {
				p := progressValue(sourceStartUs+sourceMaxUs, in.ExpectedDurationUs, false)
				if p > lastProgress {
					lastProgress = p
					in.OnProgress(p)
				}
			}
		}

		lastEmittedUs = sourceStartUs + sourceMaxUs
		// spec §4.G: the next source's offset must strictly exceed this
		// source's last emitted timestamp, so adjacent boundaries never
		// collide even when the last two AUs share a timestamp.
		cumulativeUs = lastEmittedUs + oneFrameUs(in.OutputSampleRateHz)
		log.Info("splice source complete", "source_index", srcIdx, "cumulative_offset_us", cumulativeUs)
	}

	// Final drain: the last source's EOS has been forwarded to the
	// encoder; pump until the encoder itself reports EOS.
	for i := 0; i < watchdogThreshold; i++ {
		slot, info, err := in.Encoder.DequeueOutput(longTimeout)
		if err != nil {
			if fc, ok := err.(*codec.FormatChangedError); ok {
				id, aerr := in.Muxer.AddTrack(fc.Format)
				if aerr != nil {
					return Result{}, cleanup(errs.Wrap(errs.MuxerError, "splice: add track", aerr))
				}
				audioTrackID = id
				if serr := in.Muxer.Start(); serr != nil {
					return Result{}, cleanup(errs.Wrap(errs.MuxerError, "splice: start muxer", serr))
				}
				muxerStarted = true
				continue
			}
			continue
		}
		if !muxerStarted {
			return Result{}, cleanup(errs.New(errs.MuxerError, "splice: encoder output reached before FormatChanged"))
		}
		data := in.Encoder.ReadOutput(slot)
		if len(data) > 0 {
			if werr := in.Muxer.WriteSample(audioTrackID, au.AccessUnit{
				Bytes: data, PresentationTimeUs: info.PresentationTimeUs, Flags: info.Flags,
			}); werr != nil {
				return Result{}, cleanup(errs.Wrap(errs.MuxerError, "splice: write sample", werr))
			}
		}
		_ = in.Encoder.ReleaseOutput(slot)
		if info.Flags.EOS {
			break
		}
	}

	if !muxerStarted {
		return Result{}, cleanup(errs.New(errs.MuxerError, "splice: encoder never produced output"))
	}
	if serr := in.Muxer.Stop(); serr != nil {
		return Result{}, cleanup(errs.Wrap(errs.MuxerError, "splice: stop muxer", serr))
	}
	if err := cleanup(nil); err != nil {
		return Result{}, err
	}
	if in.OnProgress != nil {
		in.OnProgress(1.0)
	}

	log.Info("splice complete", "total_duration_us", lastEmittedUs, "sources", len(in.Sources))
	return Result{DurationUs: lastEmittedUs}, nil
}
