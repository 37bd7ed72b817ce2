// Package perfetto implements a small, hand-rolled Protobuf-v2 wire
// writer for the subset of the Perfetto trace schema that cc-trace
// needs, plus the TracePacket/TrackEvent types built on top of it.
//
// Hand-rolled on purpose: the nested-message helpers below need to
// reserve space for a length prefix before the submessage body is known,
// which the generated google.golang.org/protobuf API does not expose.
package perfetto

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wireVarint   = 0
	wireFixed64  = 1
	wireLenDelim = 2
)

// maxFieldID is the largest field id this emitter will accept; violating
// it is a programming error, not a runtime condition callers need to
// recover from.
const maxFieldID = 1 << 29

// NestedMessageTooLargeError is returned by Nested/NestedSmall when the
// submessage built by the callback does not fit in the reserved
// backpatch width.
type NestedMessageTooLargeError struct {
	ActualSize int
	MaxSize    int
}

func (e *NestedMessageTooLargeError) Error() string {
	return fmt.Sprintf("perfetto: nested message too large: %d bytes (max %d)", e.ActualSize, e.MaxSize)
}

// Emitter is an append-only byte buffer with Protobuf-v2 field helpers.
// It is reused across packets by callers: Clear resets it without
// releasing the backing array.
//
// Not safe for concurrent use; callers (the writer loop) own one
// Emitter exclusively.
type Emitter struct {
	data []byte
}

// NewEmitter returns an empty Emitter ready to accept fields.
func NewEmitter() *Emitter {
	return &Emitter{data: make([]byte, 0, 256)}
}

// Clear resets the buffer, keeping its backing array.
func (e *Emitter) Clear() {
	e.data = e.data[:0]
}

// Bytes returns the accumulated bytes. Valid until the next mutating call.
func (e *Emitter) Bytes() []byte {
	return e.data
}

// Len reports the number of bytes written so far.
func (e *Emitter) Len() int {
	return len(e.data)
}

func checkFieldID(fieldID uint32) {
	if fieldID >= maxFieldID {
		panic(fmt.Sprintf("perfetto: field id %d out of range (must be < 2^29)", fieldID))
	}
}

// Varint emits a field with wire type varint (use for int32, int64,
// uint32, uint64, bool and enum fields). No zigzag encoding is applied, so
// it does not produce the sint32/sint64 encoding; signed values are passed
// as their two's-complement reinterpretation.
func (e *Emitter) Varint(fieldID uint32, v uint64) {
	checkFieldID(fieldID)
	e.pushVarint(uint64(fieldID<<3) | wireVarint)
	e.pushVarint(v)
}

// String emits a field with wire type length-delimited holding UTF-8 text.
func (e *Emitter) String(fieldID uint32, s string) {
	checkFieldID(fieldID)
	e.pushVarint(uint64(fieldID<<3) | wireLenDelim)
	e.pushVarint(uint64(len(s)))
	e.data = append(e.data, s...)
}

// BytesField emits a field with wire type length-delimited holding raw bytes.
func (e *Emitter) BytesField(fieldID uint32, b []byte) {
	checkFieldID(fieldID)
	e.pushVarint(uint64(fieldID<<3) | wireLenDelim)
	e.pushVarint(uint64(len(b)))
	e.data = append(e.data, b...)
}

// Double emits a field with wire type fixed64 holding an IEEE-754 double.
func (e *Emitter) Double(fieldID uint32, v float64) {
	checkFieldID(fieldID)
	e.pushVarint(uint64(fieldID<<3) | wireFixed64)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	e.data = append(e.data, buf[:]...)
}

func (e *Emitter) pushVarint(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			e.data = append(e.data, b|0x80)
		} else {
			e.data = append(e.data, b)
			return
		}
	}
}

// maxNestedSize and maxNestedSmallSize are the largest submessage bodies
// Nested/NestedSmall can backpatch the length of.
const (
	maxNestedSize      = 1<<21 - 1 // 2 MiB - 1, backpatched in 3 bytes
	maxNestedSmallSize = 1<<14 - 1 // 16 KiB - 1, backpatched in 2 bytes
)

// Nested writes field_id as a length-delimited field whose body is
// produced by build. The body's length is not known until build returns,
// so Nested reserves a fixed 3-byte (non-minimal) varint length prefix
// and backpatches it afterwards -- this avoids a second pass or a
// memmove at the cost of a few wasted length bytes. Maximum body size is
// 2^21-1 bytes; build may itself call Nested/NestedSmall.
func (e *Emitter) Nested(fieldID uint32, build func(*Emitter) error) error {
	return e.nested(fieldID, 3, maxNestedSize, build)
}

// NestedSmall is identical to Nested but reserves only 2 backpatch bytes,
// for a maximum body size of 2^14-1 bytes. Used for the small, frequently
// repeated InternedData entries.
func (e *Emitter) NestedSmall(fieldID uint32, build func(*Emitter) error) error {
	return e.nested(fieldID, 2, maxNestedSmallSize, build)
}

func (e *Emitter) nested(fieldID uint32, width int, maxSize int, build func(*Emitter) error) error {
	checkFieldID(fieldID)
	e.pushVarint(uint64(fieldID<<3) | wireLenDelim)

	lenOffset := len(e.data)
	for i := 0; i < width; i++ {
		e.data = append(e.data, 0)
	}
	bodyOffset := len(e.data)

	if err := build(e); err != nil {
		return err
	}

	size := len(e.data) - bodyOffset
	if size > maxSize {
		return &NestedMessageTooLargeError{ActualSize: size, MaxSize: maxSize}
	}

	switch width {
	case 3:
		e.data[lenOffset] = byte(size&0x7f) | 0x80
		e.data[lenOffset+1] = byte((size>>7)&0x7f) | 0x80
		e.data[lenOffset+2] = byte((size >> 14) & 0x7f)
	case 2:
		e.data[lenOffset] = byte(size&0x7f) | 0x80
		e.data[lenOffset+1] = byte((size >> 7) & 0x7f)
	default:
		panic("perfetto: unsupported backpatch width")
	}
	return nil
}
