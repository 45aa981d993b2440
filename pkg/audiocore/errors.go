package audiocore

import "github.com/jota2rz/audiocore/internal/errs"

// Kind identifies which branch of spec §7's error taxonomy an error
// belongs to; re-exported so callers can switch on it without reaching
// into internal/.
type Kind = errs.Kind

const (
	InvalidArguments  = errs.InvalidArguments
	InvalidRange      = errs.InvalidRange
	UnsupportedFormat = errs.UnsupportedFormat
	IoError           = errs.IoError
	CodecError        = errs.CodecError
	PipelineStalled   = errs.PipelineStalled
	Timeout           = errs.Timeout
	Cancelled         = errs.Cancelled
	MuxerError        = errs.MuxerError
)

// KindOf extracts the Kind of err, or the zero Kind if err is nil or was
// not produced by this module.
func KindOf(err error) Kind { return errs.KindOf(err) }
