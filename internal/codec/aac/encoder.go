package aac

import (
	"fmt"
	"time"

	aacencoder "github.com/skrashevich/go-aac/pkg/encoder"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/codec"
)

const (
	samplesPerAACFrame = 1024
	bytesPerSample     = 2 // 16-bit PCM
)

// Encoder adapts skrashevich/go-aac's frame encoder to codec.Encoder's
// bounded-queue shape, buffering PCM until a full 1024-sample AAC frame
// is available (the backend, like most AAC encoders, only accepts whole
// frames) and surfacing the mandatory single FormatChanged event before
// its first real output, per spec §4.C.
type Encoder struct {
	backend *aacencoder.Encoder
	cfg     codec.EncoderConfig

	pending    []byte // PCM accumulating toward one full frame
	queue      []pendingOut
	formatSent bool
	lastRead   []byte
}

type pendingOut struct {
	bytes []byte
	ts    int64
	flags au.Flags
}

// NewEncoder returns an unconfigured AAC-LC encoder.
func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Configure(cfg codec.EncoderConfig) error {
	e.cfg = cfg
	e.backend = aacencoder.New(aacencoder.Config{
		SampleRate:    cfg.SampleRateHz,
		ChannelConfig: cfg.Channels,
		BitRate:       cfg.BitRateBps,
	})
	return nil
}

func (e *Encoder) Start() error {
	if e.backend == nil {
		return fmt.Errorf("aac encoder: start: not configured")
	}
	return nil
}

// DequeueInput always succeeds: the encoder accepts PCM into an
// internally-growable accumulator, so it never itself produces ErrEmpty.
// Its output queue is unbounded as well, so this encoder applies no
// back-pressure of its own to the pipeline.
func (e *Encoder) DequeueInput(timeout time.Duration) (codec.Slot, error) {
	return 0, nil
}

func (e *Encoder) InputCapacity(slot codec.Slot) int {
	return codec.MaxInputBufferSize
}

func (e *Encoder) QueueInput(slot codec.Slot, data []byte, ts int64, flags au.Flags) error {
	frameBytes := samplesPerAACFrame * e.cfg.Channels * bytesPerSample

	if flags.EOS {
		if err := e.drainPending(ts); err != nil {
			return err
		}
		e.queue = append(e.queue, pendingOut{ts: ts, flags: au.Flags{EOS: true}})
		return nil
	}

	baseTs := ts
	e.pending = append(e.pending, data...)
	for len(e.pending) >= frameBytes {
		chunk := e.pending[:frameBytes]
		e.pending = e.pending[frameBytes:]

		pcm := pcm16ToFloat32(chunk)
		encoded, err := e.backend.EncodeFrame(pcm)
		if err != nil {
			return fmt.Errorf("aac encoder: encode frame at ts=%d: %w", baseTs, err)
		}
		e.enqueueEncoded(encoded, baseTs)
		frameDurationUs := int64(samplesPerAACFrame) * 1_000_000 / int64(e.cfg.SampleRateHz)
		baseTs += frameDurationUs
	}
	return nil
}

func (e *Encoder) drainPending(ts int64) error {
	if len(e.pending) == 0 {
		return nil
	}
	// Pad the final partial frame with silence so the backend still emits
	// a frame for the tail of the stream.
	frameBytes := samplesPerAACFrame * e.cfg.Channels * bytesPerSample
	padded := make([]byte, frameBytes)
	copy(padded, e.pending)
	e.pending = nil

	pcm := pcm16ToFloat32(padded)
	encoded, err := e.backend.EncodeFrame(pcm)
	if err != nil {
		return fmt.Errorf("aac encoder: encode final frame: %w", err)
	}
	e.enqueueEncoded(encoded, ts)
	return nil
}

func (e *Encoder) enqueueEncoded(encoded []byte, ts int64) {
	if !e.formatSent {
		e.formatSent = true
		e.queue = append(e.queue, pendingOut{ts: ts, flags: au.Flags{}, bytes: nil})
		// A nil-bytes, non-EOS entry signals "format changed" to
		// DequeueOutput; it carries no payload of its own.
	}
	e.queue = append(e.queue, pendingOut{bytes: encoded, ts: ts})
}

func (e *Encoder) DequeueOutput(timeout time.Duration) (codec.Slot, codec.BufferInfo, error) {
	if len(e.queue) == 0 {
		return 0, codec.BufferInfo{}, codec.ErrEmpty
	}
	head := e.queue[0]
	if head.bytes == nil && !head.flags.EOS {
		e.queue = e.queue[1:]
		return 0, codec.BufferInfo{}, &codec.FormatChangedError{Format: e.OutputFormat()}
	}
	e.queue = e.queue[1:]
	info := codec.BufferInfo{
		PresentationTimeUs: head.ts,
		Flags:              head.flags,
		Size:               len(head.bytes),
	}
	e.lastRead = head.bytes
	return 0, info, nil
}

func (e *Encoder) ReadOutput(slot codec.Slot) []byte { return e.lastRead }

func (e *Encoder) ReleaseOutput(slot codec.Slot) error { e.lastRead = nil; return nil }

func (e *Encoder) Stop() error { return nil }

func (e *Encoder) Release() error { e.backend = nil; return nil }

// OutputFormat returns the track format the muxer must register after
// receiving the encoder's one FormatChanged event (spec §3 invariant).
func (e *Encoder) OutputFormat() au.TrackFormat {
	return au.TrackFormat{
		MIME:              "audio/mp4a-latm",
		SampleRateHz:       e.cfg.SampleRateHz,
		Channels:          e.cfg.Channels,
		BitRateBps:        e.cfg.BitRateBps,
		CodecSpecificData: e.backend.AudioSpecificConfig(),
	}
}

func pcm16ToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		v := int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
		out[i] = float32(v) / 32768
	}
	return out
}
