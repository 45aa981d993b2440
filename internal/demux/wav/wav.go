// Package wav demuxes RIFF/WAVE PCM files using go-audio/wav (backed by
// go-audio/riff for chunk parsing), the pure-Go WAV stack several sibling
// repos in the corpus (CWBudde-wav, olivier-w-climp, tphakala-birdnet-go)
// already depend on.
//
// WAV carries no compressed elementary stream, so "demuxing" here means
// slicing the already-linear PCM into fixed-size chunks that masquerade
// as access units; internal/codec/pcmpass treats them as pre-decoded PCM.
package wav

import (
	"encoding/binary"
	"fmt"
	"os"

	gowav "github.com/go-audio/wav"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/demux"
)

// chunkFrames is the number of sample-frames bundled into each emitted AU.
const chunkFrames = 4096

type Demuxer struct {
	f      *os.File
	format au.TrackFormat

	pcm      []byte // 16-bit LE interleaved, the whole file (WAV files are small)
	channels int
	cursor   int // byte offset into pcm
}

func Open(path string) (*Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav demux: open %s: %w", path, err)
	}
	dec := gowav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("wav demux: %s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wav demux: decode %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate
	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		v := int16(s)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	durUs := int64(0)
	if sampleRate > 0 && channels > 0 {
		frames := len(buf.Data) / channels
		durUs = int64(frames) * 1_000_000 / int64(sampleRate)
	}

	return &Demuxer{
		f:        f,
		channels: channels,
		pcm:      pcm,
		format: au.TrackFormat{
			MIME:         "audio/wav",
			SampleRateHz: sampleRate,
			Channels:     channels,
			DurationUs:   durUs,
			BitRateBps:   sampleRate * channels * 16,
		},
	}, nil
}

func (d *Demuxer) Tracks() []au.TrackFormat { return []au.TrackFormat{d.format} }

func (d *Demuxer) Select(trackIndex int) error {
	if trackIndex != 0 {
		return fmt.Errorf("wav demux: select: only track 0 exists")
	}
	return nil
}

func (d *Demuxer) SeekToSync(timeUs int64) (int64, error) {
	bytesPerUs := float64(d.format.SampleRateHz) * float64(d.channels) * 2 / 1_000_000
	offset := int(float64(timeUs) * bytesPerUs)
	frameSize := d.channels * 2
	offset -= offset % frameSize
	if offset < 0 {
		offset = 0
	}
	if offset > len(d.pcm) {
		offset = len(d.pcm)
	}
	d.cursor = offset
	landedUs := int64(float64(offset) / bytesPerUs)
	return landedUs, nil
}

func (d *Demuxer) Next() (au.AccessUnit, error) {
	if d.cursor >= len(d.pcm) {
		return au.AccessUnit{}, demux.ErrEndOfStream
	}
	chunkBytes := chunkFrames * d.channels * 2
	end := d.cursor + chunkBytes
	if end > len(d.pcm) {
		end = len(d.pcm)
	}
	data := d.pcm[d.cursor:end]

	bytesPerUs := float64(d.format.SampleRateHz) * float64(d.channels) * 2 / 1_000_000
	ts := int64(float64(d.cursor) / bytesPerUs)
	d.cursor = end

	return au.AccessUnit{
		Bytes:              data,
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
