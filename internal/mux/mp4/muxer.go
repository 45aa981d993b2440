// Package mp4 implements the muxer state machine of spec §4.B on top of
// Eyevinn/mp4ff, writing a single-fragment, fragmented MP4 (a moov/moof/
// mdat layout any modern player accepts as "playable M4A") carrying the
// AAC-LC stream internal/codec/aac produces, or — for lossless copy — the
// original elementary stream unchanged.
package mp4

import (
	"fmt"
	"os"
	"sync"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/errs"
)

// State is the muxer lifecycle of spec §4.B:
// Created → TrackAdded → Started → Stopped.
type State int

const (
	Created State = iota
	TrackAdded
	Started
	Stopped
)

// TrackID identifies a registered track; the core only ever registers one.
type TrackID uint32

const audioTrackID TrackID = 1

// Muxer writes one audio track to an MP4 file, enforcing the state
// machine transitions of spec §4.B.
type Muxer struct {
	mu    sync.Mutex
	state State

	path string
	f    *os.File

	format  au.TrackFormat
	samples []au.AccessUnit

	lastTs int64
	closed bool
}

// New returns a Muxer that will write to path once Start is called.
func New(path string) *Muxer {
	return &Muxer{path: path, state: Created}
}

// AddTrack registers format as the muxer's single audio track and returns
// its track ID. Spec §3's invariant: format must be the encoder's
// post-FormatChanged descriptor, never its pre-configuration guess.
func (m *Muxer) AddTrack(format au.TrackFormat) (TrackID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Created {
		return 0, errs.New(errs.MuxerError, "AddTrack called outside Created state")
	}
	if format.SampleRateHz <= 0 || format.Channels <= 0 {
		return 0, errs.New(errs.MuxerError, "AddTrack: invalid track format")
	}
	m.format = format
	m.state = TrackAdded
	return audioTrackID, nil
}

// Start commits the muxer to TrackAdded→Started, opening the output file.
func (m *Muxer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != TrackAdded {
		return errs.New(errs.MuxerError, "Start called outside TrackAdded state")
	}
	f, err := os.Create(m.path)
	if err != nil {
		return errs.Wrap(errs.IoError, "mux: create output file", err).WithContext("path", m.path)
	}
	m.f = f
	m.state = Started
	return nil
}

// WriteSample appends au to the track. Timestamps must be non-decreasing
// per track (spec §4.B); a regression is a MuxerError, not silently
// clamped, since it signals an upstream pipeline bug.
func (m *Muxer) WriteSample(trackID TrackID, sample au.AccessUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Started {
		return errs.New(errs.MuxerError, "WriteSample called outside Started state")
	}
	if trackID != audioTrackID {
		return errs.New(errs.MuxerError, "WriteSample: unknown track id")
	}
	if len(m.samples) > 0 && sample.PresentationTimeUs < m.lastTs {
		return errs.New(errs.MuxerError, fmt.Sprintf(
			"WriteSample: timestamp regression %d < %d", sample.PresentationTimeUs, m.lastTs))
	}
	m.lastTs = sample.PresentationTimeUs
	m.samples = append(m.samples, sample)
	return nil
}

// Stop finalizes the container: builds the init segment (ftyp/moov) plus
// one media segment (moof/mdat) covering every buffered sample, and
// writes both to the output file.
func (m *Muxer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Started {
		return nil // idempotent: stopping twice, or stopping before Start, is a no-op
	}
	defer func() { m.state = Stopped }()

	init := buildInitSegment(m.format)
	frag, err := buildFragment(m.format, m.samples)
	if err != nil {
		return errs.Wrap(errs.MuxerError, "mux: build fragment", err)
	}

	file := mp4ff.NewFile()
	file.AddChild(init.Ftyp, 0)
	file.AddChild(init.Moov, 0)
	file.Segments = append(file.Segments, &mp4ff.MediaSegment{Fragments: []*mp4ff.Fragment{frag}})

	if err := file.Encode(m.f); err != nil {
		return errs.Wrap(errs.IoError, "mux: write output file", err).WithContext("path", m.path)
	}
	return nil
}

// Close releases the output file handle. Idempotent (spec §4.B).
func (m *Muxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.f == nil {
		m.closed = true
		return nil
	}
	err := m.f.Close()
	m.closed = true
	return err
}

// State returns the muxer's current lifecycle state.
func (m *Muxer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Path returns the muxer's configured output path.
func (m *Muxer) Path() string { return m.path }

func buildInitSegment(format au.TrackFormat) *mp4ff.InitSegment {
	init := mp4ff.CreateEmptyInit()
	init.AddEmptyTrack(uint32(format.SampleRateHz), "audio", "und")
	trak := init.Moov.Trak
	_ = trak.SetAACDescriptor(mp4ff.AAClc, format.SampleRateHz)
	return init
}

func buildFragment(format au.TrackFormat, samples []au.AccessUnit) (*mp4ff.Fragment, error) {
	frag, err := mp4ff.CreateFragment(1, uint32(audioTrackID))
	if err != nil {
		return nil, fmt.Errorf("create fragment: %w", err)
	}
	for i, s := range samples {
		dur := frameDurationTicks(format, samples, i)
		frag.AddFullSample(mp4ff.FullSample{
			Sample: mp4ff.Sample{
				Flags: sampleFlags(s.Flags),
				Dur:   dur,
				Size:  uint32(len(s.Bytes)),
			},
			DecodeTime: uint64(s.PresentationTimeUs) * uint64(format.SampleRateHz) / 1_000_000,
			Data:       s.Bytes,
		})
	}
	return frag, nil
}

// frameDurationTicks derives a sample's duration, in the track's
// timescale, from the gap to the next sample (or to itself, for the last
// sample in the run — an approximation acceptable under spec §1's
// "semantic equivalence, not bit-exact" tolerance).
func frameDurationTicks(format au.TrackFormat, samples []au.AccessUnit, i int) uint32 {
	if i+1 < len(samples) {
		deltaUs := samples[i+1].PresentationTimeUs - samples[i].PresentationTimeUs
		return uint32(deltaUs * int64(format.SampleRateHz) / 1_000_000)
	}
	if i > 0 {
		deltaUs := samples[i].PresentationTimeUs - samples[i-1].PresentationTimeUs
		return uint32(deltaUs * int64(format.SampleRateHz) / 1_000_000)
	}
	return uint32(1024) // a single AAC frame, the common case of a one-sample run
}

func sampleFlags(f au.Flags) mp4ff.SampleFlags {
	var sf mp4ff.SampleFlags
	if f.Sync {
		sf.SampleIsNonSync = 0
	} else {
		sf.SampleIsNonSync = 1
	}
	return sf
}
