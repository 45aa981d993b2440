// Package codec defines the bounded-queue decoder/encoder interface of
// spec §4.C. Concrete codecs (internal/codec/aac, /mp3, /vorbis, /pcmpass)
// implement Decoder or Encoder; internal/pipeline drives them.
package codec

import (
	"time"

	"github.com/jota2rz/audiocore/internal/au"
)

// Slot is an opaque handle to a codec-owned buffer, acquired via
// DequeueInput/DequeueOutput and returned via QueueInput/ReleaseOutput.
// Concrete codecs may use it to index an internal buffer pool; the
// pipeline never inspects its value.
type Slot int

// ErrEmpty is returned by dequeue calls that time out with nothing
// available — a recoverable condition per spec §7, handled locally by the
// pipeline's retry/back-pressure logic, never surfaced to the caller.
var ErrEmpty = emptyError{}

type emptyError struct{}

func (emptyError) Error() string { return "codec: dequeue timed out (empty)" }

// FormatChangedError is returned by DequeueOutput the first time an
// encoder's real output format becomes known, per spec §4.C. A second
// occurrence is a fatal pipeline error.
type FormatChangedError struct {
	Format au.TrackFormat
}

func (e *FormatChangedError) Error() string { return "codec: output format changed" }

// BufferInfo describes an output buffer handed back by DequeueOutput.
type BufferInfo struct {
	PresentationTimeUs int64
	Flags              au.Flags
	Size               int
}

// Decoder turns compressed access units into PCM frames.
type Decoder interface {
	// Configure prepares the decoder for the given input track format.
	// Must be called before Start.
	Configure(format au.TrackFormat) error
	// Start transitions the decoder into its live period (spec §4.C).
	Start() error

	// DequeueInput acquires a writable input slot, or ErrEmpty on timeout.
	DequeueInput(timeout time.Duration) (Slot, error)
	// QueueInput hands bytes (an AU, or empty+EOS) into slot.
	QueueInput(slot Slot, bytes []byte, presentationTimeUs int64, flags au.Flags) error

	// DequeueOutput acquires a decoded PCM frame, or ErrEmpty on timeout.
	DequeueOutput(timeout time.Duration) (Slot, BufferInfo, error)
	// ReadOutput returns the bytes held by an output slot most recently
	// returned by DequeueOutput.
	ReadOutput(slot Slot) []byte
	// ReleaseOutput returns slot to the decoder's free pool.
	ReleaseOutput(slot Slot) error

	// Stop ends the live period; Release frees native/backing resources.
	// Both must tolerate being called more than once (spec §4.D.3).
	Stop() error
	Release() error
}

// Encoder turns PCM frames into compressed access units (AAC-LC, per
// spec §4.C, for every encoder the core instantiates).
type Encoder interface {
	Configure(cfg EncoderConfig) error
	Start() error

	DequeueInput(timeout time.Duration) (Slot, error)
	// InputCapacity reports how many bytes may be copied into slot by a
	// single QueueInput call (spec §4.C's max-input-buffer-size hint).
	InputCapacity(slot Slot) int
	QueueInput(slot Slot, bytes []byte, presentationTimeUs int64, flags au.Flags) error

	// DequeueOutput acquires an encoded AU, or ErrEmpty on timeout, or a
	// *FormatChangedError exactly once before the first real AU.
	DequeueOutput(timeout time.Duration) (Slot, BufferInfo, error)
	ReadOutput(slot Slot) []byte
	ReleaseOutput(slot Slot) error

	Stop() error
	Release() error
}

// EncoderConfig binds spec §4.C's encoder configuration bullet list.
type EncoderConfig struct {
	SampleRateHz int // clamped to [8000, 48000] by the caller; default 44100
	Channels     int // clamped to [1, 2] by the caller; default 2
	BitRateBps   int // kbps*1000, validated [32000, 320000] at the API surface
}

// MaxInputBufferSize is the max-input-buffer-size hint of spec §4.C:
// smaller values have been observed to drop frames under back-pressure.
const MaxInputBufferSize = 65536

// ClampSampleRate applies spec §4.C's encoder sample-rate clamp.
func ClampSampleRate(hz int) int {
	if hz <= 0 {
		return 44100
	}
	if hz < 8000 {
		return 8000
	}
	if hz > 48000 {
		return 48000
	}
	return hz
}

// ClampChannels applies spec §4.C's encoder channel-count clamp.
func ClampChannels(ch int) int {
	if ch <= 0 {
		return 2
	}
	if ch < 1 {
		return 1
	}
	if ch > 2 {
		return 2
	}
	return ch
}
