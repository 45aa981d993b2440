// Package pcmpass implements the identity "decoder" used for inputs whose
// demuxer already yields linear PCM (WAV) or whose demux library decodes
// inline (OGG/Vorbis via jfreymuth/oggvorbis, see internal/codec/vorbis).
// It exists so internal/pipeline can drive every input format through the
// same Decoder interface, per spec §4.C, without a format-specific branch
// in the pipeline itself.
package pcmpass

import (
	"time"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
)

// Decoder forwards AUs to its output queue unchanged, treating the
// demuxer's access units as already-decoded PCM frames.
type Decoder struct {
	format au.TrackFormat
	queue  []queued
	last   []byte
}

type queued struct {
	bytes []byte
	ts    int64
	flags au.Flags
}

func New() *Decoder { return &Decoder{} }

func (d *Decoder) Configure(format au.TrackFormat) error {
	d.format = format
	return nil
}

func (d *Decoder) Start() error { return nil }

func (d *Decoder) DequeueInput(timeout time.Duration) (codec.Slot, error) { return 0, nil }

func (d *Decoder) QueueInput(slot codec.Slot, data []byte, ts int64, flags au.Flags) error {
	d.queue = append(d.queue, queued{bytes: data, ts: ts, flags: flags})
	return nil
}

func (d *Decoder) DequeueOutput(timeout time.Duration) (codec.Slot, codec.BufferInfo, error) {
	if len(d.queue) == 0 {
		return 0, codec.BufferInfo{}, codec.ErrEmpty
	}
	head := d.queue[0]
	d.queue = d.queue[1:]
	d.last = head.bytes
	return 0, codec.BufferInfo{
		PresentationTimeUs: head.ts,
		Flags:              head.flags,
		Size:               len(head.bytes),
	}, nil
}

func (d *Decoder) ReadOutput(slot codec.Slot) []byte  { return d.last }
func (d *Decoder) ReleaseOutput(slot codec.Slot) error { d.last = nil; return nil }
func (d *Decoder) Stop() error                         { return nil }
func (d *Decoder) Release() error                      { d.queue = nil; return nil }
