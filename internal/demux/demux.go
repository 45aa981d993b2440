// Package demux defines the demuxer interface of spec §4.A. Concrete
// adapters (internal/demux/mp4, /mp3, /wav, /ogg) open one container
// family each; internal/format.Detect picks which one to construct.
package demux

import (
	"errors"

	"github.com/jota2rz/audiocore/internal/au"
)

// ErrEndOfStream is returned by Next once the selected track is exhausted.
var ErrEndOfStream = errors.New("demux: end of stream")

// Demuxer enumerates tracks in a container and produces a lazy sequence
// of access units from one selected audio track.
type Demuxer interface {
	// Tracks returns every audio track found, in container order.
	Tracks() []au.TrackFormat
	// Select latches trackIndex as the source for Next/SeekToSync.
	Select(trackIndex int) error
	// SeekToSync positions the cursor at the nearest preceding sync
	// sample and returns the actual landed timestamp.
	SeekToSync(timeUs int64) (int64, error)
	// Next returns the next access unit, or ErrEndOfStream.
	Next() (au.AccessUnit, error)
	// Close releases any open file handles. Idempotent.
	Close() error
}
