// Package pipeline implements the transcode state machine of spec §4.D —
// the fulcrum of the core — plus its siblings: the time-range gate
// (§4.E), the lossless copy path (§4.F), and the splice orchestrator
// (§4.G). All four share the same demux→(decode)→(encode)→mux substrate.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
	"github.com/jota2rz/audiocore/internal/demux"
	"github.com/jota2rz/audiocore/internal/errs"
	"github.com/jota2rz/audiocore/internal/logging"
	mp4mux "github.com/jota2rz/audiocore/internal/mux/mp4"
)

// Timing constants from spec §4.D.1 and §4.D.3.
const (
	shortTimeout      = 1 * time.Millisecond
	longTimeout       = 5 * time.Millisecond
	encoderRetryCount = 10
	watchdogThreshold = 1000
	maxIterations     = 50000
	maxWallClock      = 120 * time.Second
)

// TimeRange is spec §4.E's {start_us, end_us}; a nil *TimeRange means the
// whole stream is processed.
type TimeRange struct {
	StartUs int64
	EndUs   int64
}

// TranscodeInput bundles everything spec §4.D's pipeline needs.
type TranscodeInput struct {
	Demuxer  demux.Demuxer
	Decoder  codec.Decoder
	Encoder  codec.Encoder
	Muxer    *mp4mux.Muxer
	Range    *TimeRange
	// ExpectedDurationUs anchors progress reporting (processed_us /
	// expected_duration_us); if zero, no in-loop progress is reported and
	// only the final 1.0 is emitted.
	ExpectedDurationUs int64
	// OnProgress, if non-nil, is invoked during the loop only when the
	// computed progress (clamped to [0, 0.95]) exceeds the last reported
	// value, and once with 1.0 after the muxer stops; iterations that leave
	// the value unchanged report nothing.
	OnProgress func(float64)
	// Cancel, if non-nil, is polled once per iteration (spec §5).
	Cancel <-chan struct{}
}

// Result is what every top-level operation of spec §6 returns (the
// pipeline-internal shape; pkg/audiocore maps it to the public type).
type Result struct {
	DurationUs   int64
	BitRateBps   int
	SampleRateHz int
}

// Transcode drives demux→(range gate)→decode→encode→mux to completion,
// implementing spec §4.D.1's five-phase loop and §4.D.3's cleanup
// ordering on every exit path.
func Transcode(in TranscodeInput) (Result, error) {
	log := logging.For("pipeline.transcode")

	var (
		decoderDone        bool
		encoderEOSSignaled bool
		encoderDone        bool
		muxerStarted       bool
		audioTrackID       mp4mux.TrackID
		processedUs        int64
		lastProgress       float64
		noActivity         int
	)

	gate := newRangeGate(in.Range)
	if in.Range != nil {
		landed, err := in.Demuxer.SeekToSync(in.Range.StartUs)
		if err != nil {
			cleanupPipeline(in.Encoder, in.Decoder, in.Muxer, false)
			return Result{}, errs.Wrap(errs.IoError, "transcode: seek to range start", err)
		}
		gate.setLanding(landed)
	}

	start := time.Now()
	iterations := 0

	cleanup := func(finalErr error) error {
		cleanupPipeline(in.Encoder, in.Decoder, in.Muxer, muxerStarted)
		if finalErr != nil {
			if errs.Is(finalErr, errs.Cancelled) {
				_ = os.Remove(outputPathOf(in.Muxer))
			}
			return finalErr
		}
		if st, statErr := os.Stat(outputPathOf(in.Muxer)); statErr != nil || st.Size() == 0 {
			return errs.New(errs.IoError, "transcode: output file missing or empty after completion")
		}
		return nil
	}

	for {
		select {
		case <-canceled(in.Cancel):
			_ = signalDecoderEOS(in.Decoder)
			drainEncoderToMuxer(in.Encoder, in.Muxer, &audioTrackID, &muxerStarted, &encoderDone)
			return Result{}, cleanup(errs.New(errs.Cancelled, "transcode: cancellation observed"))
		default:
		}

		iterations++
		if iterations > maxIterations || time.Since(start) > maxWallClock {
			return Result{}, cleanup(errs.New(errs.Timeout, "transcode: iteration or wall-clock budget exceeded"))
		}

		advanced := false

		// Phase 1: feed decoder.
		if !decoderDone {
			if slot, err := in.Decoder.DequeueInput(shortTimeout); err == nil {
				nextAU, feedErr := in.Demuxer.Next()
				switch {
				case feedErr == demux.ErrEndOfStream || (gate.Active() && feedErr == nil && gate.PastEnd(nextAU.PresentationTimeUs)):
					if ferr := in.Decoder.QueueInput(slot, nil, processedUs, au.Flags{EOS: true}); ferr != nil {
						return Result{}, cleanup(errs.Wrap(errs.CodecError, "transcode: signal decoder EOS", ferr))
					}
					decoderDone = true
					advanced = true
				case feedErr != nil:
					return Result{}, cleanup(errs.Wrap(errs.IoError, "transcode: demux read", feedErr))
				case gate.Active() && gate.BeforeStart(nextAU.PresentationTimeUs):
					_ = in.Decoder.QueueInput(slot, nil, nextAU.PresentationTimeUs, au.Flags{})
					advanced = true
				default:
					rebased := gate.Rebase(nextAU)
					if ferr := in.Decoder.QueueInput(slot, rebased.Bytes, rebased.PresentationTimeUs, rebased.Flags); ferr != nil {
						return Result{}, cleanup(errs.Wrap(errs.CodecError, "transcode: queue decoder input", ferr))
					}
					processedUs = rebased.PresentationTimeUs
					advanced = true
				}
			}
		}

		// Phase 2: pump decoder → encoder.
		if slot, info, err := in.Decoder.DequeueOutput(shortTimeout); err == nil {
			pcm := in.Decoder.ReadOutput(slot)
			if ferr := feedEncoder(in.Encoder, pcm, info.PresentationTimeUs); ferr != nil {
				return Result{}, cleanup(ferr)
			}
			_ = in.Decoder.ReleaseOutput(slot)
			if info.Flags.EOS {
				if ferr := signalEncoderEOS(in.Encoder); ferr != nil {
					return Result{}, cleanup(ferr)
				}
				encoderEOSSignaled = true
			}
			advanced = true
		}

		// Phase 3: late EOS signal.
		if decoderDone && !encoderEOSSignaled {
			if signalEncoderEOS(in.Encoder) == nil {
				encoderEOSSignaled = true
			}
		}

		// Phase 4: drain encoder → muxer.
		for {
			slot, info, err := in.Encoder.DequeueOutput(shortTimeout)
			if err != nil {
				if fc, ok := err.(*codec.FormatChangedError); ok {
					id, aerr := in.Muxer.AddTrack(fc.Format)
					if aerr != nil {
						return Result{}, cleanup(errs.Wrap(errs.MuxerError, "transcode: add track", aerr))
					}
					audioTrackID = id
					if serr := in.Muxer.Start(); serr != nil {
						return Result{}, cleanup(errs.Wrap(errs.MuxerError, "transcode: start muxer", serr))
					}
					muxerStarted = true
					continue
				}
				break
			}
			if !muxerStarted {
				return Result{}, cleanup(errs.New(errs.MuxerError, "transcode: encoder output reached before FormatChanged"))
			}
			data := in.Encoder.ReadOutput(slot)
			if len(data) > 0 {
				if werr := in.Muxer.WriteSample(audioTrackID, au.AccessUnit{
					Bytes: data, PresentationTimeUs: info.PresentationTimeUs, Flags: info.Flags,
				}); werr != nil {
					return Result{}, cleanup(errs.Wrap(errs.MuxerError, "transcode: write sample", werr))
				}
			}
			_ = in.Encoder.ReleaseOutput(slot)
			advanced = true
			if info.Flags.EOS {
				encoderDone = true
				break
			}
		}

		// Phase 5: watchdog.
		if advanced {
			noActivity = 0
		} else {
			noActivity++
		}
		if noActivity >= watchdogThreshold {
			if encoderEOSSignaled {
				encoderDone = true
			} else if decoderDone {
				_ = signalEncoderEOS(in.Encoder)
				encoderEOSSignaled = true
			} else {
				return Result{}, cleanup(errs.New(errs.PipelineStalled, "transcode: watchdog threshold exceeded"))
			}
		}

		if advanced && in.OnProgress != nil {
			// Always clamped below 1.0 here; the final 1.0 is emitted
			// exactly once, after the muxer stops (spec §4.D.2).
			p := progressValue(processedUs, in.ExpectedDurationUs, false)
			if p > lastProgress {
				lastProgress = p
				in.OnProgress(p)
			}
		}

		if encoderDone {
			break
		}
	}

	if serr := in.Muxer.Stop(); serr != nil {
		return Result{}, cleanup(errs.Wrap(errs.MuxerError, "transcode: stop muxer", serr))
	}
	if err := cleanup(nil); err != nil {
		return Result{}, err
	}
	if in.OnProgress != nil {
		in.OnProgress(1.0)
	}

	log.Info("transcode complete", "processed_us", processedUs)
	return Result{DurationUs: processedUs}, nil
}

func progressValue(processedUs, expectedUs int64, done bool) float64 {
	if done {
		return 1.0
	}
	if expectedUs <= 0 {
		return 0
	}
	p := float64(processedUs) / float64(expectedUs)
	if p < 0 {
		p = 0
	}
	if p > 0.95 {
		p = 0.95
	}
	return p
}

func canceled(ch <-chan struct{}) <-chan struct{} {
	if ch == nil {
		return nil
	}
	return ch
}

func feedEncoder(enc codec.Encoder, pcm []byte, ts int64) error {
	retries := 0
	for {
		slot, err := enc.DequeueInput(shortTimeout)
		if err == nil {
			capacity := enc.InputCapacity(slot)
			n := len(pcm)
			if n > capacity {
				n = capacity
			}
			return enc.QueueInput(slot, pcm[:n], ts, au.Flags{})
		}
		if retries >= encoderRetryCount {
			return errs.New(errs.PipelineStalled, "transcode: encoder input retry budget exhausted")
		}
		// Relieve back-pressure by draining one encoder output buffer,
		// per spec §4.D.1 step 2's critical rule: never drop the frame.
		drainOneEncoderOutput(enc)
		retries++
		time.Sleep(longTimeout)
	}
}

func drainOneEncoderOutput(enc codec.Encoder) {
	slot, _, err := enc.DequeueOutput(shortTimeout)
	if err == nil {
		_ = enc.ReleaseOutput(slot)
	}
}

func signalEncoderEOS(enc codec.Encoder) error {
	slot, err := enc.DequeueInput(shortTimeout)
	if err != nil {
		return nil // not fatal here; phase 3 or the watchdog will retry
	}
	if qerr := enc.QueueInput(slot, nil, 0, au.Flags{EOS: true}); qerr != nil {
		return errs.Wrap(errs.CodecError, "transcode: signal encoder EOS", qerr)
	}
	return nil
}

func signalDecoderEOS(dec codec.Decoder) error {
	slot, err := dec.DequeueInput(longTimeout)
	if err != nil {
		return nil
	}
	return dec.QueueInput(slot, nil, 0, au.Flags{EOS: true})
}

func drainEncoderToMuxer(enc codec.Encoder, mux *mp4mux.Muxer, trackID *mp4mux.TrackID, muxerStarted, encoderDone *bool) {
	for i := 0; i < watchdogThreshold; i++ {
		slot, info, err := enc.DequeueOutput(shortTimeout)
		if err != nil {
			if fc, ok := err.(*codec.FormatChangedError); ok {
				if id, aerr := mux.AddTrack(fc.Format); aerr == nil {
					*trackID = id
					if mux.Start() == nil {
						*muxerStarted = true
					}
				}
				continue
			}
			return
		}
		if *muxerStarted {
			data := enc.ReadOutput(slot)
			if len(data) > 0 {
				_ = mux.WriteSample(*trackID, au.AccessUnit{Bytes: data, PresentationTimeUs: info.PresentationTimeUs, Flags: info.Flags})
			}
		}
		_ = enc.ReleaseOutput(slot)
		if info.Flags.EOS {
			*encoderDone = true
			return
		}
	}
}

func cleanupPipeline(enc codec.Encoder, dec codec.Decoder, mux *mp4mux.Muxer, muxerStarted bool) {
	if enc != nil {
		_ = enc.Stop()
		_ = enc.Release()
	}
	if dec != nil {
		_ = dec.Stop()
		_ = dec.Release()
	}
	if mux != nil {
		if muxerStarted {
			_ = mux.Stop()
		}
		_ = mux.Close()
	}
}

func outputPathOf(m *mp4mux.Muxer) string {
	if m == nil {
		return ""
	}
	return m.Path()
}
