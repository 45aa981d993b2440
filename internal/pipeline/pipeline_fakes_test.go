package pipeline

import (
	"time"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
	"github.com/jota2rz/audiocore/internal/demux"
)

// fakeDemuxer replays a fixed access-unit sequence, standing in for any of
// the real container adapters in tests that only care about the pipeline
// state machine, not any particular wire format.
type fakeDemuxer struct {
	track  au.TrackFormat
	aus    []au.AccessUnit
	cursor int
}

func (d *fakeDemuxer) Tracks() []au.TrackFormat { return []au.TrackFormat{d.track} }
func (d *fakeDemuxer) Select(int) error          { return nil }

func (d *fakeDemuxer) SeekToSync(t int64) (int64, error) {
	landed := int64(0)
	idx := 0
	for i, a := range d.aus {
		if a.PresentationTimeUs <= t {
			idx = i
			landed = a.PresentationTimeUs
		}
	}
	d.cursor = idx
	return landed, nil
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

var _ demux.Demuxer = (*fakeDemuxer)(nil)

// identityCodec is a pass-through Decoder (and, separately below, Encoder)
// used wherever a test only needs "whatever bytes go in come back out
// unchanged", e.g. standing in for internal/codec/pcmpass.
type identityCodec struct {
	queue    []codecItem
	lastRead []byte
}

type codecItem struct {
	bytes []byte
	ts    int64
	flags au.Flags
}

func (c *identityCodec) Configure(au.TrackFormat) error { return nil }
func (c *identityCodec) Start() error                   { return nil }

func (c *identityCodec) DequeueInput(time.Duration) (codec.Slot, error) { return 0, nil }

func (c *identityCodec) QueueInput(slot codec.Slot, data []byte, ts int64, flags au.Flags) error {
	c.queue = append(c.queue, codecItem{bytes: data, ts: ts, flags: flags})
	return nil
}

func (c *identityCodec) InputCapacity(codec.Slot) int { return 1 << 20 }

func (c *identityCodec) DequeueOutput(time.Duration) (codec.Slot, codec.BufferInfo, error) {
	if len(c.queue) == 0 {
		return 0, codec.BufferInfo{}, codec.ErrEmpty
	}
	head := c.queue[0]
	c.queue = c.queue[1:]
	c.lastRead = head.bytes
	return 0, codec.BufferInfo{PresentationTimeUs: head.ts, Flags: head.flags, Size: len(head.bytes)}, nil
}

func (c *identityCodec) ReadOutput(codec.Slot) []byte { return c.lastRead }
func (c *identityCodec) ReleaseOutput(codec.Slot) error {
	c.lastRead = nil
	return nil
}
func (c *identityCodec) Stop() error    { return nil }
func (c *identityCodec) Release() error { return nil }

var _ codec.Decoder = (*identityCodec)(nil)

// fakeEncoder wraps every non-EOS QueueInput call as one output AU, preceded
// by a single FormatChangedError the first time DequeueOutput is asked to
// drain anything, per codec.Encoder's documented contract. It also counts
// how many times QueueInput was called with an EOS flag, and optionally
// stalls DequeueInput for a fixed number of calls to simulate an encoder
// whose input buffer is momentarily full (spec §4.D.1's back-pressure
// scenario).
type fakeEncoder struct {
	outputFormat au.TrackFormat

	queue      []codecItem
	formatSent bool
	lastRead   []byte

	eosCalls int

	stallInputCalls   int
	dequeueInputCalls int
}

func (e *fakeEncoder) Configure(codec.EncoderConfig) error { return nil }
func (e *fakeEncoder) Start() error                        { return nil }

func (e *fakeEncoder) DequeueInput(time.Duration) (codec.Slot, error) {
	e.dequeueInputCalls++
	if e.dequeueInputCalls <= e.stallInputCalls {
		return 0, codec.ErrEmpty
	}
	return 0, nil
}

func (e *fakeEncoder) InputCapacity(codec.Slot) int { return 1 << 20 }

func (e *fakeEncoder) QueueInput(slot codec.Slot, data []byte, ts int64, flags au.Flags) error {
	if flags.EOS {
		e.eosCalls++
		e.queue = append(e.queue, codecItem{ts: ts, flags: au.Flags{EOS: true}})
		return nil
	}
	if len(data) == 0 {
		// Mirrors the real AAC encoder: an empty, non-EOS input (e.g. the
		// zero-length PCM the pipeline sometimes forwards alongside a
		// decoder's own EOS marker) accumulates nothing and emits no frame.
		return nil
	}
	if !e.formatSent {
		e.formatSent = true
		e.queue = append(e.queue, codecItem{})
	}
	e.queue = append(e.queue, codecItem{bytes: data, ts: ts})
	return nil
}

func (e *fakeEncoder) DequeueOutput(time.Duration) (codec.Slot, codec.BufferInfo, error) {
	if len(e.queue) == 0 {
		return 0, codec.BufferInfo{}, codec.ErrEmpty
	}
	head := e.queue[0]
	if head.bytes == nil && !head.flags.EOS {
		e.queue = e.queue[1:]
		return 0, codec.BufferInfo{}, &codec.FormatChangedError{Format: e.outputFormat}
	}
	e.queue = e.queue[1:]
	e.lastRead = head.bytes
	return 0, codec.BufferInfo{PresentationTimeUs: head.ts, Flags: head.flags, Size: len(head.bytes)}, nil
}

func (e *fakeEncoder) ReadOutput(codec.Slot) []byte { return e.lastRead }
func (e *fakeEncoder) ReleaseOutput(codec.Slot) error {
	e.lastRead = nil
	return nil
}
func (e *fakeEncoder) Stop() error    { return nil }
func (e *fakeEncoder) Release() error { return nil }

var _ codec.Encoder = (*fakeEncoder)(nil)
