// Package mp4 demuxes MP4/M4A containers (AAC-LC, ADTS-less "mp4a" sample
// entries) using abema/go-mp4, the box-structure library internal/codec's
// sibling bpm analyzer already relies on for MP4 parsing.
package mp4

import (
	"fmt"
	"io"
	"os"
	"sort"

	gomp4 "github.com/abema/go-mp4"

	"github.com/jota2rz/audiocore/internal/au"
	"github.com/jota2rz/audiocore/internal/demux"
)

// audioTimescales lists standard PCM sample rates; MP4 video tracks use
// timescales like 600/24000/90000 that never collide with these, so this
// doubles as a cheap audio-vs-video track filter (mirrors the teacher's
// isAudioTimescale helper).
var audioTimescales = map[uint32]bool{
	8000: true, 11025: true, 16000: true, 22050: true,
	32000: true, 44100: true, 48000: true, 88200: true, 96000: true,
}

type sampleLoc struct {
	offset uint64
	size   uint32
}

// Demuxer reads one MP4/M4A file's audio track.
type Demuxer struct {
	f    *os.File
	info *gomp4.ProbeInfo

	tracks   []au.TrackFormat
	trackIdx []int // maps Tracks() index -> info.Tracks index

	selected    *gomp4.Track
	selectedFmt au.TrackFormat

	locations  []sampleLoc
	sampleTsUs []int64 // per-sample presentation time, accumulated from stts deltas
	cursor     int
}

// Open parses path's box structure and enumerates its tracks.
func Open(path string) (*Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mp4 demux: open %s: %w", path, err)
	}
	info, err := gomp4.Probe(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mp4 demux: probe %s: %w", path, err)
	}

	d := &Demuxer{f: f, info: info}
	for i, t := range info.Tracks {
		if t.Codec == gomp4.CodecAVC1 || t.Codec == gomp4.CodecHVC1 {
			continue
		}
		if len(t.Samples) == 0 {
			continue
		}
		if !audioTimescales[t.Timescale] {
			continue
		}
		d.tracks = append(d.tracks, trackFormat(t))
		d.trackIdx = append(d.trackIdx, i)
	}
	if len(d.tracks) == 0 {
		f.Close()
		return nil, fmt.Errorf("mp4 demux: %s: no audio track found", path)
	}
	return d, nil
}

func trackFormat(t *gomp4.Track) au.TrackFormat {
	var durUs int64
	if t.Timescale > 0 {
		durUs = int64(t.Duration) * 1_000_000 / int64(t.Timescale)
	}
	return au.TrackFormat{
		MIME:         "audio/mp4a-latm",
		SampleRateHz: int(t.Timescale),
		Channels:     2, // default stereo; the channel count is not read from the container
		DurationUs:   durUs,
	}
}

func (d *Demuxer) Tracks() []au.TrackFormat { return d.tracks }

func (d *Demuxer) Select(trackIndex int) error {
	if trackIndex < 0 || trackIndex >= len(d.tracks) {
		return fmt.Errorf("mp4 demux: select: track index %d out of range", trackIndex)
	}
	t := d.info.Tracks[d.trackIdx[trackIndex]]
	d.selected = t
	d.selectedFmt = d.tracks[trackIndex]

	asc, err := audioSpecificConfig(d.f, trackIndex)
	if err == nil && len(asc) > 0 {
		d.selectedFmt.CodecSpecificData = asc
	}

	d.locations = buildSampleLocations(t)
	d.sampleTsUs = buildSampleTimestamps(t)
	d.cursor = 0
	return nil
}

// SeekToSync lands at the nearest AU boundary at-or-before timeUs. MP4
// audio tracks carry no stss (sync sample) box in the common case — every
// AAC-LC sample is independently decodable — so this is a plain index
// search over the real per-sample timestamp table rather than a
// sync-table lookup (spec §4.A: "no-op if absent").
func (d *Demuxer) SeekToSync(timeUs int64) (int64, error) {
	if len(d.sampleTsUs) == 0 {
		d.cursor = 0
		return 0, nil
	}
	// sort.Search finds the first index whose timestamp is > timeUs; the
	// landing sample is the one just before it.
	idx := sort.Search(len(d.sampleTsUs), func(i int) bool { return d.sampleTsUs[i] > timeUs })
	if idx > 0 {
		idx--
	}
	d.cursor = idx
	return d.sampleTsUs[idx], nil
}

func (d *Demuxer) Next() (au.AccessUnit, error) {
	if d.cursor >= len(d.locations) {
		return au.AccessUnit{}, demux.ErrEndOfStream
	}
	loc := d.locations[d.cursor]
	ts := d.sampleTsUs[d.cursor]

	buf := make([]byte, loc.size)
	if _, err := d.f.Seek(int64(loc.offset), io.SeekStart); err != nil {
		return au.AccessUnit{}, fmt.Errorf("mp4 demux: seek: %w", err)
	}
	if _, err := io.ReadFull(d.f, buf); err != nil {
		return au.AccessUnit{}, fmt.Errorf("mp4 demux: read sample at offset %d: %w", loc.offset, err)
	}
	d.cursor++
	return au.AccessUnit{
		Bytes:              buf,
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

// buildSampleLocations flattens a track's chunk table into (offset, size)
// pairs, the same algorithm the teacher's bpm analyzer uses to locate raw
// AAC frames without decoding the whole file up front.
func buildSampleLocations(track *gomp4.Track) []sampleLoc {
	result := make([]sampleLoc, 0, len(track.Samples))
	sampleIdx := 0
	for _, chunk := range track.Chunks {
		off := chunk.DataOffset
		for j := uint32(0); j < chunk.SamplesPerChunk; j++ {
			if sampleIdx >= len(track.Samples) {
				return result
			}
			sz := track.Samples[sampleIdx].Size
			result = append(result, sampleLoc{offset: off, size: sz})
			off += uint64(sz)
			sampleIdx++
		}
	}
	return result
}

// buildSampleTimestamps accumulates each sample's stts TimeDelta (in the
// track's own timescale) into a running tick count and converts it to
// microseconds, giving Next/SeekToSync the container's real per-sample
// presentation time instead of a reconstructed average (spec §4.A MUST).
func buildSampleTimestamps(track *gomp4.Track) []int64 {
	if track.Timescale == 0 {
		return make([]int64, len(track.Samples))
	}
	result := make([]int64, len(track.Samples))
	var ticks uint64
	for i, s := range track.Samples {
		result[i] = int64(ticks) * 1_000_000 / int64(track.Timescale)
		ticks += uint64(s.TimeDelta)
	}
	return result
}

// audioSpecificConfig extracts esds AudioSpecificConfig bytes, the same
// descriptor search the teacher's bpm analyzer uses to configure its AAC
// decoder. It returns the first ASC found in any track's sample entry; the
// track index argument is not used to pick a track.
func audioSpecificConfig(rs io.ReadSeeker, _ int) ([]byte, error) {
	paths := []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeEnca(), gomp4.BoxTypeEsds()},
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	bips, err := gomp4.ExtractBoxesWithPayload(rs, nil, paths)
	if err != nil {
		return nil, fmt.Errorf("extract esds: %w", err)
	}
	for _, bip := range bips {
		if bip.Info.Type != gomp4.BoxTypeEsds() {
			continue
		}
		esds, ok := bip.Payload.(*gomp4.Esds)
		if !ok {
			continue
		}
		for _, desc := range esds.Descriptors {
			if desc.Tag == gomp4.DecSpecificInfoTag && len(desc.Data) >= 2 {
				return desc.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("AudioSpecificConfig not found in esds")
}
