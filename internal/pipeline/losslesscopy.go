package pipeline

import (
	"os"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/demux"
	"github.com/jota2rz/audiocore/internal/errs"
	"github.com/jota2rz/audiocore/internal/logging"
	mp4mux "github.com/jota2rz/audiocore/internal/mux/mp4"
)

// LosslessCopyInput bundles what spec §4.F's bypass path needs: no codec
// pair, just a demuxer, a muxer, and the same time-range gate as §4.D.
type LosslessCopyInput struct {
	Demuxer            demux.Demuxer
	Muxer              *mp4mux.Muxer
	TrackFormat        au.TrackFormat // the demuxer-reported format, CSD included
	Range              *TimeRange
	ExpectedDurationUs int64
	OnProgress         func(float64)
	Cancel             <-chan struct{}
}

// LosslessCopy remuxes a compressed elementary stream unchanged (spec
// §4.F): demuxer.Next() → muxer.WriteSample, with the same timestamp
// rebase and range gate as the transcode pipeline, but no decode/encode.
func LosslessCopy(in LosslessCopyInput) (Result, error) {
	log := logging.For("pipeline.losslesscopy")

	gate := newRangeGate(in.Range)
	if in.Range != nil {
		landed, err := in.Demuxer.SeekToSync(in.Range.StartUs)
		if err != nil {
			return Result{}, errs.Wrap(errs.IoError, "lossless copy: seek to range start", err)
		}
		gate.setLanding(landed)
	}

	trackID, err := in.Muxer.AddTrack(in.TrackFormat)
	if err != nil {
		return Result{}, finishLosslessCopy(in.Muxer, false, errs.Wrap(errs.MuxerError, "lossless copy: add track", err))
	}
	if err := in.Muxer.Start(); err != nil {
		return Result{}, finishLosslessCopy(in.Muxer, false, errs.Wrap(errs.MuxerError, "lossless copy: start muxer", err))
	}

	var processedUs int64
	var lastProgress float64

	for {
		select {
		case <-canceled(in.Cancel):
			err := finishLosslessCopy(in.Muxer, true, errs.New(errs.Cancelled, "lossless copy: cancellation observed"))
			_ = os.Remove(in.Muxer.Path())
			return Result{}, err
		default:
		}

		nextAU, err := in.Demuxer.Next()
		if err == demux.ErrEndOfStream || (gate.Active() && gate.PastEnd(nextAU.PresentationTimeUs)) {
			break
		}
		if err != nil {
			return Result{}, finishLosslessCopy(in.Muxer, true, errs.Wrap(errs.IoError, "lossless copy: demux read", err))
		}
		if gate.Active() && gate.BeforeStart(nextAU.PresentationTimeUs) {
			continue
		}
		rebased := gate.Rebase(nextAU)
		if werr := in.Muxer.WriteSample(trackID, rebased); werr != nil {
			return Result{}, finishLosslessCopy(in.Muxer, true, errs.Wrap(errs.MuxerError, "lossless copy: write sample", werr))
		}
		processedUs = rebased.PresentationTimeUs

		if in.OnProgress != nil {
			p := progressValue(processedUs, in.ExpectedDurationUs, false)
			if p > lastProgress {
				lastProgress = p
				in.OnProgress(p)
			}
		}
	}

	if err := in.Muxer.Stop(); err != nil {
		return Result{}, finishLosslessCopy(in.Muxer, false, errs.Wrap(errs.MuxerError, "lossless copy: stop muxer", err))
	}
	_ = in.Muxer.Close()

	if st, statErr := os.Stat(in.Muxer.Path()); statErr != nil || st.Size() == 0 {
		return Result{}, errs.New(errs.IoError, "lossless copy: output file missing or empty after completion")
	}
	if in.OnProgress != nil {
		in.OnProgress(1.0)
	}

	log.Info("lossless copy complete", "processed_us", processedUs)
	return Result{
		DurationUs:   processedUs,
		BitRateBps:   in.TrackFormat.BitRateBps,
		SampleRateHz: in.TrackFormat.SampleRateHz,
	}, nil
}

func finishLosslessCopy(m *mp4mux.Muxer, stopFirst bool, err error) error {
	if stopFirst {
		_ = m.Stop()
	}
	_ = m.Close()
	return err
}
