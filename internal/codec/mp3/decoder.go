// Package mp3 decodes MPEG-1/2 Layer III elementary streams to PCM using
// hajimehoshi/go-mp3, the pure-Go decoder several sibling repos in the
// corpus (olivier-w-climp, drgolem-musictools) already depend on.
package mp3

import (
	"bytes"
	"fmt"
	"io"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
)

const readChunk = 8192 // bytes pulled from the decoder per drain attempt

// Decoder adapts go-mp3's streaming io.Reader decoder to codec.Decoder.
// go-mp3 frames its own input internally, so unlike internal/codec/aac
// this decoder treats QueueInput as "more compressed bytes are available"
// rather than "decode exactly this AU" — it drains whatever PCM that
// unlocks and timestamps it by running sample count, which is accurate
// to within one MP3 frame (~26ms), well inside spec §1's semantic-
// equivalence tolerance.
type Decoder struct {
	format   au.TrackFormat
	buf      *bufferReader
	backend  *gomp3.Decoder
	samplesOut int64 // total PCM sample-frames (stereo pairs) emitted so far

	pendingOut  []byte
	pendingTs   int64
	eosQueued   bool
	lastReadBuf []byte
}

// bufferReader is a growable byte queue go-mp3 reads from as bytes arrive;
// Read blocks never — it returns io.EOF only once closed is set (by an EOS
// QueueInput) and the buffer is drained, and 0, nil otherwise, which go-mp3
// tolerates by returning n=0 itself.
type bufferReader struct {
	buf    bytes.Buffer
	closed bool
}

func (b *bufferReader) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b *bufferReader) Read(p []byte) (int, error) {
	n, err := b.buf.Read(p)
	if err == io.EOF && !b.closed {
		return n, nil
	}
	return n, err
}

func New() *Decoder { return &Decoder{} }

func (d *Decoder) Configure(format au.TrackFormat) error {
	d.format = format
	d.buf = &bufferReader{}
	return nil
}

func (d *Decoder) Start() error { return nil }

func (d *Decoder) DequeueInput(timeout time.Duration) (codec.Slot, error) { return 0, nil }

func (d *Decoder) QueueInput(slot codec.Slot, data []byte, ts int64, flags au.Flags) error {
	if flags.EOS {
		d.buf.closed = true
		d.eosQueued = true
		return d.drain()
	}
	if len(data) == 0 {
		return nil // zero-length priming sample from the range gate
	}
	if _, err := d.buf.Write(data); err != nil {
		return fmt.Errorf("mp3 decoder: buffer write: %w", err)
	}
	if d.backend == nil {
		backend, err := gomp3.NewDecoder(d.buf)
		if err != nil {
			// Not enough header bytes buffered yet; try again on the next
			// QueueInput once more data has accumulated.
			return nil
		}
		d.backend = backend
	}
	return d.drain()
}

func (d *Decoder) drain() error {
	if d.backend == nil {
		return nil
	}
	chunk := make([]byte, readChunk)
	for {
		n, err := d.backend.Read(chunk)
		if n > 0 {
			ts := d.samplesOut * 1_000_000 / int64(d.backend.SampleRate())
			if len(d.pendingOut) == 0 {
				d.pendingTs = ts
			}
			d.pendingOut = append(d.pendingOut, chunk[:n]...)
			d.samplesOut += int64(n / 4) // 16-bit stereo = 4 bytes/frame
		}
		if err == io.EOF || (n == 0 && err == nil) {
			break
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("mp3 decoder: decode: %w", err)
		}
	}
	return nil
}

func (d *Decoder) DequeueOutput(timeout time.Duration) (codec.Slot, codec.BufferInfo, error) {
	if len(d.pendingOut) == 0 {
		if d.eosQueued {
			d.eosQueued = false
			return 0, codec.BufferInfo{PresentationTimeUs: d.pendingTs, Flags: au.Flags{EOS: true}}, nil
		}
		return 0, codec.BufferInfo{}, codec.ErrEmpty
	}
	out := d.pendingOut
	d.pendingOut = nil
	d.lastReadBuf = out
	return 0, codec.BufferInfo{PresentationTimeUs: d.pendingTs, Size: len(out)}, nil
}

func (d *Decoder) ReadOutput(slot codec.Slot) []byte { return d.lastReadBuf }

func (d *Decoder) ReleaseOutput(slot codec.Slot) error { d.lastReadBuf = nil; return nil }

func (d *Decoder) Stop() error { return nil }

func (d *Decoder) Release() error { d.backend = nil; d.buf = nil; return nil }

// SampleRate exposes the sample rate go-mp3 detected from the stream's
// first frame header, used by the demuxer to fill TrackFormat.SampleRateHz.
func (d *Decoder) SampleRate() int {
	if d.backend == nil {
		return 0
	}
	return d.backend.SampleRate()
}
