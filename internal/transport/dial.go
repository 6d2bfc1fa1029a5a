package transport

import (
	"io"

	"github.com/casepot/sies/internal/protocol"
)

// FromStdio builds a Transport over a worker subprocess's stdin/stdout
// pipes, mirroring the controller side of the interactive-exec I/O triple:
// the controller writes to the worker's stdin and reads its stdout. The
// worker's stderr is intentionally not part of the framed transport — spec
// §4.2 routes diagnostic text there directly, unframed, for operators
// tailing the process.
func FromStdio(stdin io.WriteCloser, stdout io.ReadCloser, codec *protocol.Codec) *Transport {
	return New(stdout, stdin, codec, stdout)
}
