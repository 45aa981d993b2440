// Package mp3 demuxes MPEG-1/2 Layer III elementary streams. An MP3 file
// has no sample table the way MP4 does — it is a sequence of
// self-delimiting frames — so this demuxer locates the first real frame
// header (skipping any ID3v2 tag) with bluenviron/mediacommon's MPEG-1
// audio frame-header parser to learn sample rate and bitrate, then hands
// the rest of the file to internal/codec/mp3 in fixed-size chunks; that
// decoder (hajimehoshi/go-mp3) does its own frame sync internally.
package mp3

import (
	"fmt"
	"io"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg1audio"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/demux"
)

const chunkBytes = 8192

type Demuxer struct {
	f         *os.File
	format    au.TrackFormat
	dataStart int64 // file offset of the first MPEG frame, past any ID3v2 tag
	size      int64
	cursor    int64
}

func Open(path string) (*Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mp3 demux: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp3 demux: stat %s: %w", path, err)
	}

	dataStart := skipID3v2(f)
	header, err := readFrameHeader(f, dataStart)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp3 demux: %s: %w", path, err)
	}

	sizeAfterHeader := st.Size() - dataStart
	durUs := int64(0)
	if header.Bitrate > 0 {
		durUs = sizeAfterHeader * 8 * 1_000_000 / int64(header.Bitrate)
	}

	return &Demuxer{
		f:         f,
		dataStart: dataStart,
		size:      st.Size(),
		cursor:    dataStart,
		format: au.TrackFormat{
			MIME:         "audio/mpeg",
			SampleRateHz: header.SampleRate,
			Channels:     channelCount(header),
			BitRateBps:   header.Bitrate,
			DurationUs:   durUs,
		},
	}, nil
}

func (d *Demuxer) Tracks() []au.TrackFormat { return []au.TrackFormat{d.format} }

func (d *Demuxer) Select(trackIndex int) error {
	if trackIndex != 0 {
		return fmt.Errorf("mp3 demux: select: only track 0 exists")
	}
	return nil
}

// SeekToSync lands on a byte offset proportional to timeUs; every MPEG
// frame is independently resynchronizable so any offset in the stream is
// a valid (if imprecise) restart point, matching spec §4.A's fallback for
// containers with no sync-sample index.
func (d *Demuxer) SeekToSync(timeUs int64) (int64, error) {
	if d.format.DurationUs <= 0 {
		d.cursor = d.dataStart
		return 0, nil
	}
	frac := float64(timeUs) / float64(d.format.DurationUs)
	offset := d.dataStart + int64(frac*float64(d.size-d.dataStart))
	if offset < d.dataStart {
		offset = d.dataStart
	}
	if offset > d.size {
		offset = d.size
	}
	d.cursor = offset
	landedUs := int64(float64(offset-d.dataStart) / float64(d.size-d.dataStart) * float64(d.format.DurationUs))
	return landedUs, nil
}

func (d *Demuxer) Next() (au.AccessUnit, error) {
	if d.cursor >= d.size {
		return au.AccessUnit{}, demux.ErrEndOfStream
	}
	buf := make([]byte, chunkBytes)
	if _, err := d.f.Seek(d.cursor, io.SeekStart); err != nil {
		return au.AccessUnit{}, fmt.Errorf("mp3 demux: seek: %w", err)
	}
	n, err := d.f.Read(buf)
	if n == 0 && err != nil {
		return au.AccessUnit{}, fmt.Errorf("mp3 demux: read: %w", err)
	}
	ts := int64(0)
	if d.size > d.dataStart {
		ts = int64(float64(d.cursor-d.dataStart) / float64(d.size-d.dataStart) * float64(d.format.DurationUs))
	}
	d.cursor += int64(n)
	return au.AccessUnit{
		Bytes:              buf[:n],
		PresentationTimeUs: ts,
		Flags:              au.Flags{Sync: true},
	}, nil
}

func (d *Demuxer) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// skipID3v2 returns the file offset past a leading ID3v2 tag, or 0 if none.
func skipID3v2(f *os.File) int64 {
	head := make([]byte, 10)
	if _, err := f.ReadAt(head, 0); err != nil {
		return 0
	}
	if string(head[:3]) != "ID3" {
		return 0
	}
	size := int64(head[6]&0x7f)<<21 | int64(head[7]&0x7f)<<14 | int64(head[8]&0x7f)<<7 | int64(head[9]&0x7f)
	return 10 + size
}

func readFrameHeader(f *os.File, at int64) (mpeg1audio.FrameHeader, error) {
	buf := make([]byte, 4)
	var h mpeg1audio.FrameHeader
	for off := at; off < at+4096; off++ {
		if _, err := f.ReadAt(buf, off); err != nil {
			return h, fmt.Errorf("no valid MPEG frame header found")
		}
		if buf[0] != 0xFF || buf[1]&0xE0 != 0xE0 {
			continue
		}
		if err := h.Unmarshal(buf); err == nil {
			return h, nil
		}
	}
	return h, fmt.Errorf("no valid MPEG frame header found")
}

func channelCount(h mpeg1audio.FrameHeader) int {
	if h.ChannelMode == mpeg1audio.ChannelModeMono {
		return 1
	}
	return 2
}
