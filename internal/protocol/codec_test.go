package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func sampleExecute() *Execute {
	return &Execute{
		Envelope: Envelope{Type: TypeExecute, ID: "exec-1", Timestamp: time.Unix(1700000000, 0).UTC()},
		Code:     "1 + 1",
		Metadata: map[string]string{"trace": "abc"},
	}
}

func sampleOutput() *Output {
	return &Output{
		Envelope:    Envelope{Type: TypeOutput, ID: "out-1", Timestamp: time.Unix(1700000001, 0).UTC()},
		ExecutionID: "exec-1",
		Stream:      StreamStdout,
		Data:        []byte("hello\n"),
	}
}

func TestCodecRoundTripBinary(t *testing.T) {
	codec, err := NewCodec(EncodingBinary, 0)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	for _, msg := range []Message{sampleExecute(), sampleOutput()} {
		frame, err := codec.EncodeFrame(msg)
		if err != nil {
			t.Fatalf("EncodeFrame(%T) error = %v", msg, err)
		}

		decoded, err := codec.DecodeFrame(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("DecodeFrame() error = %v", err)
		}

		if decoded.GetEnvelope().ID != msg.GetEnvelope().ID {
			t.Errorf("round trip ID mismatch: got %q, want %q", decoded.GetEnvelope().ID, msg.GetEnvelope().ID)
		}
		if decoded.GetEnvelope().Type != msg.GetEnvelope().Type {
			t.Errorf("round trip Type mismatch: got %q, want %q", decoded.GetEnvelope().Type, msg.GetEnvelope().Type)
		}
	}
}

func TestCodecRoundTripJSON(t *testing.T) {
	codec, err := NewCodec(EncodingJSON, 0)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	msg := sampleExecute()
	frame, err := codec.EncodeFrame(msg)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	decoded, err := codec.DecodeFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	got, ok := decoded.(*Execute)
	if !ok {
		t.Fatalf("decoded type = %T, want *Execute", decoded)
	}
	if got.Code != msg.Code {
		t.Errorf("Code = %q, want %q", got.Code, msg.Code)
	}
}

func TestDecodeFrameCleanEOF(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 0)
	_, err := codec.DecodeFrame(bytes.NewReader(nil))
	if !errors.Is(err, ErrEOF) {
		t.Fatalf("DecodeFrame() on empty reader error = %v, want ErrEOF", err)
	}
}

func TestDecodeFrameTruncatedLength(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 0)
	_, err := codec.DecodeFrame(bytes.NewReader([]byte{0x00, 0x01}))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("DecodeFrame() on short length prefix error = %v, want ErrTruncatedFrame", err)
	}
}

func TestDecodeFrameTruncatedPayload(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 0)

	frame, err := codec.EncodeFrame(sampleExecute())
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	truncated := frame[:len(frame)-2]
	_, err = codec.DecodeFrame(bytes.NewReader(truncated))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("DecodeFrame() on truncated payload error = %v, want ErrTruncatedFrame", err)
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 8)

	oversized := make([]byte, 4)
	// 100 bytes declared, far beyond the 8-byte max.
	oversized[0], oversized[1], oversized[2], oversized[3] = 0, 0, 0, 100

	_, err := codec.DecodeFrame(bytes.NewReader(oversized))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("DecodeFrame() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 4)

	msg := sampleOutput()
	msg.Data = bytes.Repeat([]byte{'x'}, 1024)

	_, err := codec.EncodeFrame(msg)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("EncodeFrame() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 0)

	var buf bytes.Buffer
	for _, msg := range []Message{sampleExecute(), sampleOutput()} {
		frame, err := codec.EncodeFrame(msg)
		if err != nil {
			t.Fatalf("EncodeFrame() error = %v", err)
		}
		buf.Write(frame)
	}

	first, err := codec.DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame() first error = %v", err)
	}
	if _, ok := first.(*Execute); !ok {
		t.Fatalf("first frame type = %T, want *Execute", first)
	}

	second, err := codec.DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame() second error = %v", err)
	}
	if _, ok := second.(*Output); !ok {
		t.Fatalf("second frame type = %T, want *Output", second)
	}

	_, err = codec.DecodeFrame(&buf)
	if !errors.Is(err, ErrEOF) {
		t.Fatalf("DecodeFrame() after last frame error = %v, want ErrEOF", err)
	}
}

func TestNewCodecRejectsUnknownEncoding(t *testing.T) {
	_, err := NewCodec(Encoding(99), 0)
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("NewCodec() error = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestDecodeBinaryUnknownTag(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 0)

	payload := []byte{0xFF}
	frame := make([]byte, 4+len(payload))
	frame[3] = byte(len(payload))
	copy(frame[4:], payload)

	_, err := codec.DecodeFrame(bytes.NewReader(frame))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("DecodeFrame() error = %v, want ErrUnknownType", err)
	}
}

func TestDecodeFrameReadsExactlyOneFrame(t *testing.T) {
	codec, _ := NewCodec(EncodingBinary, 0)

	frame1, _ := codec.EncodeFrame(sampleExecute())
	frame2, _ := codec.EncodeFrame(sampleOutput())

	r := io.MultiReader(bytes.NewReader(frame1), bytes.NewReader(frame2))
	first, err := codec.DecodeFrame(r)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if _, ok := first.(*Execute); !ok {
		t.Fatalf("first decode type = %T, want *Execute", first)
	}

	second, err := codec.DecodeFrame(r)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if _, ok := second.(*Output); !ok {
		t.Fatalf("second decode type = %T, want *Output", second)
	}
}
