// Codec implements the frame format from spec §4.1 and §6.1:
//
//	uint32_be length | payload[length]
//
// Two payload encodings are supported, chosen once per connection:
// EncodingBinary (a hand-rolled self-describing tag+field layout, preferred
// for its smaller size and lack of reflection) and EncodingJSON (a UTF-8
// JSON object, used as a debuggable fallback and by anything that wants to
// inspect frames with a text tool). There is no in-band encoding
// negotiation: the encoding is fixed at Codec construction time.
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Encoding selects the payload format used by a Codec.
type Encoding int

const (
	EncodingBinary Encoding = iota
	EncodingJSON
)

// DefaultMaxFrameSize is the default ceiling on a single frame's payload
// size (spec §4.1: "Max frame size is configurable").
const DefaultMaxFrameSize = 64 * 1024 * 1024 // 64 MiB

// Codec encodes and decodes single messages to/from length-prefixed frames.
// A Codec is safe for concurrent Encode calls (it holds no mutable state)
// but DecodeFrame must only ever be called by the transport's single reader
// (spec §4.2, §5).
type Codec struct {
	encoding     Encoding
	maxFrameSize uint32
}

// NewCodec constructs a Codec for the given encoding. maxFrameSize of 0
// selects DefaultMaxFrameSize.
func NewCodec(encoding Encoding, maxFrameSize uint32) (*Codec, error) {
	if encoding != EncodingBinary && encoding != EncodingJSON {
		return nil, ErrUnsupportedEncoding
	}
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{encoding: encoding, maxFrameSize: maxFrameSize}, nil
}

// EncodeFrame serializes msg to a complete length-prefixed frame. It is a
// total function: a well-formed Message value always produces bytes,
// never a partial write (spec §4.1: "encode(msg) -> bytes: total pure
// function; never partial").
func (c *Codec) EncodeFrame(msg Message) ([]byte, error) {
	var payload []byte
	var err error
	switch c.encoding {
	case EncodingBinary:
		payload, err = encodeBinary(msg)
	case EncodingJSON:
		payload, err = encodeJSON(msg)
	default:
		return nil, ErrUnsupportedEncoding
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %T: %w", msg, err)
	}
	if uint32(len(payload)) > c.maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// DecodeFrame reads exactly one length prefix and exactly that many
// payload bytes from r, then decodes the payload into a Message.
//
// It returns ErrEOF only when the stream closes cleanly before any bytes
// of a new frame have been read. A short read after the length prefix (or
// mid-length-prefix) is ErrTruncatedFrame, never ErrEOF — the two are not
// interchangeable (spec §4.1).
func (c *Codec) DecodeFrame(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, ErrEOF
		}
		return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > c.maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
	}

	var msg Message
	var err error
	switch c.encoding {
	case EncodingBinary:
		msg, err = decodeBinary(payload)
	case EncodingJSON:
		msg, err = decodeJSON(payload)
	default:
		return nil, ErrUnsupportedEncoding
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode frame: %w", err)
	}
	return msg, nil
}

// NewFrameReader wraps r in a buffered reader sized for typical frame
// traffic. Callers that already hold a *bufio.Reader should pass it
// directly to DecodeFrame instead.
func NewFrameReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 32*1024)
}

// ---- JSON encoding ----

// jsonEnvelope is used to sniff the "type" discriminator before decoding
// into the concrete variant struct.
type jsonEnvelope struct {
	Type Type `json:"type"`
}

func encodeJSON(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeJSON(payload []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}

	target, err := newByType(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return nil, err
	}
	return target, nil
}

// newByType allocates a zero-valued pointer to the concrete Message struct
// for tag. It is shared by both encodings so the tagged-union membership
// is defined in exactly one place.
func newByType(t Type) (Message, error) {
	switch t {
	case TypeExecute:
		return &Execute{}, nil
	case TypeOutput:
		return &Output{}, nil
	case TypeInput:
		return &Input{}, nil
	case TypeInputResponse:
		return &InputResponse{}, nil
	case TypeResult:
		return &Result{}, nil
	case TypeError:
		return &Error{}, nil
	case TypeCancel:
		return &Cancel{}, nil
	case TypeInterrupt:
		return &Interrupt{}, nil
	case TypeCheckpoint:
		return &Checkpoint{}, nil
	case TypeRestore:
		return &Restore{}, nil
	case TypeReady:
		return &Ready{}, nil
	case TypeHeartbeat:
		return &Heartbeat{}, nil
	case TypeShutdown:
		return &Shutdown{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}
