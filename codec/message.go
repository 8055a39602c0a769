package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
)

const (
	continuationToken = 0xFFFFFFFF
	maxMetadataLength = 64 * 1024 * 1024
)

// endOfStream is the marker closing a framed stream.
var endOfStream = []byte{0, 0, 0, 0}

// errEndOfStream is returned by readMessage when it reads an end-of-stream
// marker, as opposed to io.EOF for a stream that simply stops.
var errEndOfStream = errors.New("end of stream")

type message struct {
	typ ipc.MessageType
	raw []byte
}

// readMessage reads one encapsulated IPC message. Both the current
// continuation-prefixed framing and the legacy length-only framing are
// accepted; raw holds the message exactly as it was read.
func readMessage(r io.Reader) (message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return message{}, io.EOF
		}
		return message{}, errors.Wrap(io.ErrUnexpectedEOF, "read message prefix")
	}

	var raw bytes.Buffer
	raw.Write(prefix[:])

	metaLen := binary.LittleEndian.Uint32(prefix[:])
	switch metaLen {
	case 0:
		return message{}, errEndOfStream
	case continuationToken:
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			return message{}, errors.Wrap(io.ErrUnexpectedEOF, "read message length")
		}
		raw.Write(prefix[:])
		metaLen = binary.LittleEndian.Uint32(prefix[:])
		if metaLen == 0 {
			return message{}, errEndOfStream
		}
	}
	if metaLen > maxMetadataLength {
		return message{}, errors.Errorf("invalid message metadata length %d", metaLen)
	}

	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, meta); err != nil {
		return message{}, errors.Wrap(io.ErrUnexpectedEOF, "read message metadata")
	}
	raw.Write(meta)

	typ, bodyLen, err := parseMetadata(meta)
	if err != nil {
		return message{}, err
	}
	if bodyLen < 0 || bodyLen > math.MaxInt32 {
		return message{}, errors.Errorf("invalid message body length %d", bodyLen)
	}
	if n, err := io.CopyN(&raw, r, bodyLen); err != nil {
		return message{}, errors.Wrapf(io.ErrUnexpectedEOF, "read message body: got %d of %d bytes", n, bodyLen)
	}
	return message{typ: typ, raw: raw.Bytes()}, nil
}

func parseMetadata(meta []byte) (typ ipc.MessageType, bodyLen int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("malformed message metadata: %v", r)
		}
	}()
	msg := ipc.NewMessage(memory.NewBufferBytes(meta), memory.NewBufferBytes(nil))
	defer msg.Release()
	return msg.Type(), msg.BodyLen(), nil
}

// SchemaHeader returns the IPC schema message that starts every stream for as.
func SchemaHeader(as *arrow.Schema, mem memory.Allocator) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(as), ipc.WithAllocator(mem))

	// Writing an empty batch forces the writer to emit the schema.
	rb := array.NewRecordBuilder(mem, as)
	empty := rb.NewRecord()
	rb.Release()
	err := w.Write(empty)
	empty.Release()
	if err != nil {
		return nil, errors.Wrap(err, "write schema")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "close schema writer")
	}

	msg, err := readMessage(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "read schema message")
	}
	if msg.typ != ipc.MessageSchema {
		return nil, errors.Errorf("expected schema message, got %s", msg.typ)
	}
	return msg.raw, nil
}

// schemaFromHeader parses a schema message produced by SchemaHeader.
func schemaFromHeader(header []byte, mem memory.Allocator) (as *arrow.Schema, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("malformed schema message: %v", r)
		}
	}()
	rdr, err := ipc.NewReader(io.MultiReader(bytes.NewReader(header), bytes.NewReader(endOfStream)), ipc.WithAllocator(mem))
	if err != nil {
		return nil, err
	}
	defer rdr.Release()
	return rdr.Schema(), nil
}

// extractBatch returns the first record batch message of an IPC stream
// fragment, skipping any schema message in front of it.
func extractBatch(data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	for {
		msg, err := readMessage(r)
		if err != nil {
			return nil, err
		}
		switch msg.typ {
		case ipc.MessageSchema:
			continue
		case ipc.MessageRecordBatch:
			return msg.raw, nil
		default:
			return nil, errors.Errorf("unexpected %s message", msg.typ)
		}
	}
}
