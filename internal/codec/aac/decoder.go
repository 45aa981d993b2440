// Package aac implements the AAC-LC decoder and encoder halves of spec
// §4.C's codec pair on top of skrashevich/go-aac, the same library
// internal/demux/mp4's sibling (the bpm analyzer this core grew out of)
// already used for decode-only AAC work.
package aac

import (
	"fmt"
	"time"

	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
)

const queueDepth = 4

// Decoder adapts skrashevich/go-aac's frame decoder to codec.Decoder's
// bounded-queue shape. The underlying library decodes one AU at a time
// with no internal queueing, so the queue here exists purely to give the
// pipeline the back-pressure semantics spec §4.D.1 assumes of every codec.
type Decoder struct {
	backend *aacdecoder.Decoder
	fmt     au.TrackFormat
	started bool

	in  [queueDepth]inSlot
	out [queueDepth]outSlot

	inHead, inTail   int
	outHead, outTail int
}

type inSlot struct {
	free bool
}

type outSlot struct {
	free    bool
	pcm     []byte
	ts      int64
	flags   au.Flags
}

// NewDecoder returns an unconfigured AAC decoder.
func NewDecoder() *Decoder {
	d := &Decoder{}
	for i := range d.in {
		d.in[i].free = true
	}
	for i := range d.out {
		d.out[i].free = true
	}
	return d
}

func (d *Decoder) Configure(format au.TrackFormat) error {
	d.fmt = format
	d.backend = aacdecoder.New()
	if len(format.CodecSpecificData) == 0 {
		return fmt.Errorf("aac decoder: configure: missing AudioSpecificConfig")
	}
	if err := d.backend.SetASC(format.CodecSpecificData); err != nil {
		return fmt.Errorf("aac decoder: configure: set ASC: %w", err)
	}
	return nil
}

func (d *Decoder) Start() error {
	if d.backend == nil {
		return fmt.Errorf("aac decoder: start: not configured")
	}
	d.started = true
	return nil
}

func (d *Decoder) DequeueInput(timeout time.Duration) (codec.Slot, error) {
	for i := 0; i < queueDepth; i++ {
		idx := (d.inHead + i) % queueDepth
		if d.in[idx].free {
			d.in[idx].free = false
			return codec.Slot(idx), nil
		}
	}
	return 0, codec.ErrEmpty
}

// QueueInput decodes bytes synchronously and stages the resulting PCM (or
// an EOS marker) into the output queue, since the backend has no async
// pipeline of its own to model.
func (d *Decoder) QueueInput(slot codec.Slot, data []byte, ts int64, flags au.Flags) error {
	d.in[int(slot)].free = true

	outIdx := -1
	for i := 0; i < queueDepth; i++ {
		idx := (d.outTail + i) % queueDepth
		if d.out[idx].free {
			outIdx = idx
			break
		}
	}
	if outIdx < 0 {
		return fmt.Errorf("aac decoder: output queue full")
	}

	if flags.EOS && len(data) == 0 {
		d.out[outIdx] = outSlot{free: false, ts: ts, flags: au.Flags{EOS: true}}
		d.outTail = (outIdx + 1) % queueDepth
		return nil
	}
	if len(data) == 0 {
		// Zero-length priming sample from the time-range gate (spec §4.E):
		// advance bookkeeping but emit nothing.
		d.in[int(slot)].free = true
		return nil
	}

	pcm, err := d.backend.DecodeFrame(data)
	if err != nil {
		return fmt.Errorf("aac decoder: decode frame at ts=%d: %w", ts, err)
	}
	d.out[outIdx] = outSlot{
		free:  false,
		pcm:   float32ToPCM16(pcm),
		ts:    ts,
		flags: au.Flags{EOS: flags.EOS},
	}
	d.outTail = (outIdx + 1) % queueDepth
	return nil
}

func (d *Decoder) DequeueOutput(timeout time.Duration) (codec.Slot, codec.BufferInfo, error) {
	for i := 0; i < queueDepth; i++ {
		idx := (d.outHead + i) % queueDepth
		if !d.out[idx].free {
			info := codec.BufferInfo{
				PresentationTimeUs: d.out[idx].ts,
				Flags:              d.out[idx].flags,
				Size:               len(d.out[idx].pcm),
			}
			return codec.Slot(idx), info, nil
		}
	}
	return 0, codec.BufferInfo{}, codec.ErrEmpty
}

func (d *Decoder) ReadOutput(slot codec.Slot) []byte {
	return d.out[int(slot)].pcm
}

func (d *Decoder) ReleaseOutput(slot codec.Slot) error {
	d.out[int(slot)] = outSlot{free: true}
	d.outHead = (int(slot) + 1) % queueDepth
	return nil
}

func (d *Decoder) Stop() error {
	d.started = false
	return nil
}

func (d *Decoder) Release() error {
	d.backend = nil
	return nil
}

// float32ToPCM16 converts the backend's float32 [-1,1] samples to the
// canonical 16-bit little-endian interleaved interchange format (spec §3).
func float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		sample := int16(v)
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}
