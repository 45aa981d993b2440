// Package vorbis provides the Decoder used for OGG/Vorbis inputs. The
// actual Vorbis decode happens inside internal/demux/ogg via
// jfreymuth/oggvorbis, which fuses demuxing and decoding into a single
// call; this package just satisfies codec.Decoder with pcmpass's identity
// behavior so internal/pipeline can treat every input uniformly.
package vorbis

import "github.com/jota2rz/audiocore/internal/codec/pcmpass"

// New returns a pass-through decoder for already-decoded Vorbis PCM.
func New() *pcmpass.Decoder { return pcmpass.New() }
