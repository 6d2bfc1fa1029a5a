// Binary encoding: a hand-rolled, reflection-free tagged layout. Each
// payload is a 1-byte type tag followed by the variant's fields in a fixed
// order, using the same length-prefixed-string and fixed-width-integer
// primitives throughout. This mirrors the raw header-then-fields style of a
// multiplexed-stream framing layer, adapted here from a session-header
// format to a closed tagged union of request/response messages.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type wireTag byte

const (
	tagExecute wireTag = iota + 1
	tagOutput
	tagInput
	tagInputResponse
	tagResult
	tagError
	tagCancel
	tagInterrupt
	tagCheckpoint
	tagRestore
	tagReady
	tagHeartbeat
	tagShutdown
)

var tagByType = map[Type]wireTag{
	TypeExecute:       tagExecute,
	TypeOutput:        tagOutput,
	TypeInput:         tagInput,
	TypeInputResponse: tagInputResponse,
	TypeResult:        tagResult,
	TypeError:         tagError,
	TypeCancel:        tagCancel,
	TypeInterrupt:     tagInterrupt,
	TypeCheckpoint:    tagCheckpoint,
	TypeRestore:       tagRestore,
	TypeReady:         tagReady,
	TypeHeartbeat:     tagHeartbeat,
	TypeShutdown:      tagShutdown,
}

// byteWriter accumulates a payload using the shared field primitives below.
// It never returns an error itself; append only grows a slice.
type byteWriter struct {
	buf []byte
}

func newByteWriter() *byteWriter {
	return &byteWriter{buf: make([]byte, 0, 256)}
}

func (w *byteWriter) bytes() []byte { return w.buf }

func (w *byteWriter) writeByte(b byte) { w.buf = append(w.buf, b) }

func (w *byteWriter) writeBool(b bool) {
	if b {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
}

func (w *byteWriter) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) writeInt64(v int64) { w.writeUint64(uint64(v)) }

func (w *byteWriter) writeFloat64(v float64) { w.writeUint64(math.Float64bits(v)) }

func (w *byteWriter) writeDuration(d time.Duration) { w.writeInt64(int64(d)) }

func (w *byteWriter) writeTime(t time.Time) { w.writeInt64(t.UnixNano()) }

func (w *byteWriter) writeString(s string) {
	w.writeUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) writeBytes(b []byte) {
	w.writeUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) writeStringMap(m map[string]string) {
	w.writeUint32(uint32(len(m)))
	for k, v := range m {
		w.writeString(k)
		w.writeString(v)
	}
}

func (w *byteWriter) writeStringSlice(s []string) {
	w.writeUint32(uint32(len(s)))
	for _, v := range s {
		w.writeString(v)
	}
}

// byteReader is the DecodeFrame-side counterpart of byteWriter. Every read
// checks remaining length explicitly and returns ErrTruncatedFrame rather
// than panicking on a malformed payload.
type byteReader struct {
	buf []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{buf: b} }

func (r *byteReader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return ErrTruncatedFrame
	}
	return nil
}

func (r *byteReader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readBool() (bool, error) {
	b, err := r.readByte()
	return b != 0, err
}

func (r *byteReader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) readInt64() (int64, error) {
	v, err := r.readUint64()
	return int64(v), err
}

func (r *byteReader) readFloat64() (float64, error) {
	v, err := r.readUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *byteReader) readDuration() (time.Duration, error) {
	v, err := r.readInt64()
	return time.Duration(v), err
}

func (r *byteReader) readTime() (time.Time, error) {
	v, err := r.readInt64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, v).UTC(), nil
}

func (r *byteReader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *byteReader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

func (r *byteReader) readStringMap() (map[string]string, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.readString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (r *byteReader) readStringSlice() ([]string, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	s := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.readString()
		if err != nil {
			return nil, err
		}
		s = append(s, v)
	}
	return s, nil
}

func writeEnvelope(w *byteWriter, e Envelope) {
	w.writeString(e.ID)
	w.writeTime(e.Timestamp)
}

func readEnvelope(r *byteReader, t Type) (Envelope, error) {
	id, err := r.readString()
	if err != nil {
		return Envelope{}, err
	}
	ts, err := r.readTime()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, ID: id, Timestamp: ts}, nil
}

func encodeBinary(msg Message) ([]byte, error) {
	env := msg.GetEnvelope()
	tag, ok := tagByType[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	w := newByteWriter()
	w.writeByte(byte(tag))
	writeEnvelope(w, env)

	switch m := msg.(type) {
	case *Execute:
		w.writeString(m.Code)
		w.writeString(m.CaptureSource)
		w.writeString(m.TransactionPolicy)
		w.writeStringMap(m.Metadata)
	case *Output:
		w.writeString(m.ExecutionID)
		w.writeString(string(m.Stream))
		w.writeBytes(m.Data)
		w.writeBool(m.Flush)
	case *Input:
		w.writeString(m.ExecutionID)
		w.writeString(m.Prompt)
		w.writeDuration(m.Timeout)
	case *InputResponse:
		w.writeString(m.InputID)
		w.writeString(m.Data)
	case *Result:
		w.writeString(m.ExecutionID)
		value, err := json.Marshal(m.Value)
		if err != nil {
			return nil, fmt.Errorf("protocol: encoding result value: %w", err)
		}
		w.writeBytes(value)
		w.writeString(m.Repr)
		w.writeDuration(m.ExecutionTime)
	case *Error:
		w.writeString(m.ExecutionID)
		w.writeString(m.ExceptionType)
		w.writeString(m.Message)
		w.writeString(m.Traceback)
		w.writeString(string(m.Kind))
	case *Cancel:
		w.writeString(m.ExecutionID)
		w.writeDuration(m.GraceMs)
	case *Interrupt:
		w.writeBool(m.ForceRestart)
	case *Checkpoint:
		w.writeString(m.CheckpointID)
		w.writeBytes(m.Data)
		w.writeUint32(uint32(m.KeyCount))
	case *Restore:
		w.writeString(m.CheckpointID)
		w.writeBytes(m.Data)
		w.writeString(m.Mode)
	case *Ready:
		w.writeStringSlice(m.Capabilities)
	case *Heartbeat:
		w.writeUint64(m.MemoryBytes)
		w.writeFloat64(m.CPUPercent)
		w.writeUint32(uint32(m.NamespaceSize))
	case *Shutdown:
		w.writeBool(m.Drain)
	default:
		return nil, fmt.Errorf("protocol: unhandled message type %T", msg)
	}

	return w.bytes(), nil
}

func decodeBinary(payload []byte) (Message, error) {
	r := newByteReader(payload)
	rawTag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	tag := wireTag(rawTag)

	typ, ok := typeByTag(tag)
	if !ok {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownType, rawTag)
	}
	env, err := readEnvelope(r, typ)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagExecute:
		m := &Execute{Envelope: env}
		if m.Code, err = r.readString(); err != nil {
			return nil, err
		}
		if m.CaptureSource, err = r.readString(); err != nil {
			return nil, err
		}
		if m.TransactionPolicy, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Metadata, err = r.readStringMap(); err != nil {
			return nil, err
		}
		return m, nil
	case tagOutput:
		m := &Output{Envelope: env}
		if m.ExecutionID, err = r.readString(); err != nil {
			return nil, err
		}
		stream, err := r.readString()
		if err != nil {
			return nil, err
		}
		m.Stream = Stream(stream)
		if m.Data, err = r.readBytes(); err != nil {
			return nil, err
		}
		if m.Flush, err = r.readBool(); err != nil {
			return nil, err
		}
		return m, nil
	case tagInput:
		m := &Input{Envelope: env}
		if m.ExecutionID, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Prompt, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Timeout, err = r.readDuration(); err != nil {
			return nil, err
		}
		return m, nil
	case tagInputResponse:
		m := &InputResponse{Envelope: env}
		if m.InputID, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Data, err = r.readString(); err != nil {
			return nil, err
		}
		return m, nil
	case tagResult:
		m := &Result{Envelope: env}
		if m.ExecutionID, err = r.readString(); err != nil {
			return nil, err
		}
		rawValue, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(rawValue))
		dec.UseNumber()
		if err := dec.Decode(&m.Value); err != nil {
			return nil, fmt.Errorf("protocol: decoding result value: %w", err)
		}
		if n, ok := m.Value.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				m.Value = i
			} else if f, err := n.Float64(); err == nil {
				m.Value = f
			}
		}
		if m.Repr, err = r.readString(); err != nil {
			return nil, err
		}
		if m.ExecutionTime, err = r.readDuration(); err != nil {
			return nil, err
		}
		return m, nil
	case tagError:
		m := &Error{Envelope: env}
		if m.ExecutionID, err = r.readString(); err != nil {
			return nil, err
		}
		if m.ExceptionType, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Message, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Traceback, err = r.readString(); err != nil {
			return nil, err
		}
		kind, err := r.readString()
		if err != nil {
			return nil, err
		}
		m.Kind = ErrorKind(kind)
		return m, nil
	case tagCancel:
		m := &Cancel{Envelope: env}
		if m.ExecutionID, err = r.readString(); err != nil {
			return nil, err
		}
		if m.GraceMs, err = r.readDuration(); err != nil {
			return nil, err
		}
		return m, nil
	case tagInterrupt:
		m := &Interrupt{Envelope: env}
		if m.ForceRestart, err = r.readBool(); err != nil {
			return nil, err
		}
		return m, nil
	case tagCheckpoint:
		m := &Checkpoint{Envelope: env}
		if m.CheckpointID, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Data, err = r.readBytes(); err != nil {
			return nil, err
		}
		keyCount, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		m.KeyCount = int(keyCount)
		return m, nil
	case tagRestore:
		m := &Restore{Envelope: env}
		if m.CheckpointID, err = r.readString(); err != nil {
			return nil, err
		}
		if m.Data, err = r.readBytes(); err != nil {
			return nil, err
		}
		if m.Mode, err = r.readString(); err != nil {
			return nil, err
		}
		return m, nil
	case tagReady:
		m := &Ready{Envelope: env}
		if m.Capabilities, err = r.readStringSlice(); err != nil {
			return nil, err
		}
		return m, nil
	case tagHeartbeat:
		m := &Heartbeat{Envelope: env}
		if m.MemoryBytes, err = r.readUint64(); err != nil {
			return nil, err
		}
		if m.CPUPercent, err = r.readFloat64(); err != nil {
			return nil, err
		}
		namespaceSize, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		m.NamespaceSize = int(namespaceSize)
		return m, nil
	case tagShutdown:
		m := &Shutdown{Envelope: env}
		if m.Drain, err = r.readBool(); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownType, rawTag)
	}
}

func typeByTag(tag wireTag) (Type, bool) {
	for t, tg := range tagByType {
		if tg == tag {
			return t, true
		}
	}
	return "", false
}
