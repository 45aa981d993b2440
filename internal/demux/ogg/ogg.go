// Package ogg demuxes and decodes Ogg Vorbis files in one step using
// jfreymuth/oggvorbis, which (like most pure-Go Vorbis stacks) fuses
// container parsing and decode behind a single streaming Reader. The
// "access units" this package emits are therefore already-decoded PCM
// chunks; internal/codec/vorbis treats them as pre-decoded, matching the
// demux/codec split spec §4.A–§4.C describe for compressed formats.
package ogg

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/demux"
)

const chunkFrames = 4096

type Demuxer struct {
	f        *os.File
	format   au.TrackFormat
	channels int

	pcm    []byte // 16-bit LE interleaved, whole decoded file
	cursor int
}

func Open(path string) (*Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ogg demux: open %s: %w", path, err)
	}
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ogg demux: decode %s: %w", path, err)
	}

	channels := r.Channels()
	sampleRate := r.SampleRate()

	buf := make([]float32, 8192)
	pcm := make([]byte, 0, 1<<20)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			pcm = append(pcm, floatToPCM16(buf[:n])...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return nil, fmt.Errorf("ogg demux: decode %s: %w", path, rerr)
		}
	}

	durUs := int64(0)
	if sampleRate > 0 && channels > 0 {
		frames := len(pcm) / 2 / channels
		durUs = int64(frames) * 1_000_000 / int64(sampleRate)
	}

	return &Demuxer{
		f:        f,
		channels: channels,
		pcm:      pcm,
		format: au.TrackFormat{
			MIME:         "audio/ogg",
			SampleRateHz: sampleRate,
			Channels:     channels,
			DurationUs:   durUs,
		},
	}, nil
}

func (d *Demuxer) Tracks() []au.TrackFormat { return []au.TrackFormat{d.format} }

func (d *Demuxer) Select(trackIndex int) error {
	if trackIndex != 0 {
		return fmt.Errorf("ogg demux: select: only track 0 exists")
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
	return int64(float64(offset) / bytesPerUs), nil
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
	return au.AccessUnit{Bytes: data, PresentationTimeUs: ts, Flags: au.Flags{Sync: true}}, nil
}

func (d *Demuxer) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func floatToPCM16(samples []float32) []byte {
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
