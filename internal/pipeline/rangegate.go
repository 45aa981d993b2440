package pipeline

import "github.com/jota2rz/audiocore/internal/au"

// rangeGate implements spec §4.E: a pure filter that discards AUs before
// start_us, rebases kept AUs against the seek landing point t0, and signals the pipeline to close
// the feed once end_us is reached.
type rangeGate struct {
	r      *TimeRange
	landed int64 // t0: the timestamp SeekToSync actually landed on
}

func newRangeGate(r *TimeRange) *rangeGate {
	return &rangeGate{r: r}
}

// setLanding records t0, the demuxer's actual SeekToSync landing point,
// which may be at or before r.StartUs.
func (g *rangeGate) setLanding(t0 int64) { g.landed = t0 }

// Active reports whether a time range is configured.
func (g *rangeGate) Active() bool { return g.r != nil }

// BeforeStart reports whether tsUs falls before the range's start and
// should be discarded without being written downstream.
func (g *rangeGate) BeforeStart(tsUs int64) bool {
	return g.r != nil && tsUs < g.r.StartUs
}

// PastEnd reports whether tsUs has reached or passed the range's end,
// closing the feed.
func (g *rangeGate) PastEnd(tsUs int64) bool {
	return g.r != nil && tsUs >= g.r.EndUs
}

// Rebase subtracts the landing offset t0, clamping negative results to 0.
// Kept AUs start at or after r.StartUs, so the first emitted timestamp is 0
// only when t0 equals the first kept AU's timestamp.
func (g *rangeGate) Rebase(a au.AccessUnit) au.AccessUnit {
	if g.r == nil {
		return a
	}
	a.PresentationTimeUs -= g.landed
	if a.PresentationTimeUs < 0 {
		a.PresentationTimeUs = 0
	}
	return a
}
