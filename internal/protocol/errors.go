package protocol

import "errors"

// Sentinel errors surfaced by the frame codec (spec §4.1).
var (
	// ErrEOF is returned by DecodeFrame only on clean closure at a frame
	// boundary — never for a short read mid-frame.
	ErrEOF = errors.New("protocol: clean eof at frame boundary")

	// ErrTruncatedFrame is returned when a short read occurs mid-frame.
	ErrTruncatedFrame = errors.New("protocol: truncated frame")

	// ErrFrameTooLarge is returned when a decoded length prefix exceeds the
	// configured maximum frame size. No further bytes are consumed.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

	// ErrUnknownType is returned when a decoded message tag does not match
	// any known variant.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrUnsupportedEncoding is returned when a codec is constructed with an
	// encoding other than EncodingBinary or EncodingJSON.
	ErrUnsupportedEncoding = errors.New("protocol: unsupported encoding")
)
