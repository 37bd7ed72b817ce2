package writer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-trace/internal/capture"
	"github.com/ClusterCockpit/cc-trace/pkg/perfetto"
)

// nopCloser adapts a *bytes.Buffer to io.WriteCloser for tests that
// don't care about actual file lifecycle.
type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

// readVarint mirrors pkg/perfetto's encoding so tests can walk the
// emitted bytes without depending on a full decoder.
func readVarint(t *testing.T, b []byte, off int) (uint64, int) {
	t.Helper()
	var v uint64
	var shift uint
	for {
		require.Less(t, off, len(b), "varint ran past end of buffer")
		c := b[off]
		off++
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			break
		}
		shift += 7
	}
	return v, off
}

func TestRunEmitsSequenceStartAndNewThreadThenShutsDown(t *testing.T) {
	state := capture.NewState(8)
	rec := capture.NewRecorder(state, "worker")
	rec.Send(capture.Message{Kind: capture.MsgEnter, Label: "root", Timestamp: 100})
	rec.Send(capture.Message{Kind: capture.MsgExit, Label: "root", Timestamp: 200})

	buf := &bytes.Buffer{}
	w := New(state, nopCloser{buf}, nil, nil)

	state.Finished().Push(capture.FinishedItem{Stop: true})
	require.NoError(t, w.Run())

	assert.NotZero(t, buf.Len())

	// Every top-level item is a length-delimited field 1 (tag byte 0x0a).
	data := buf.Bytes()
	off := 0
	packets := 0
	for off < len(data) {
		tag, next := readVarint(t, data, off)
		require.Equal(t, uint64(0x0a), tag, "expected Trace field 1 tag")
		size, next2 := readVarint(t, data, next)
		off = next2 + int(size)
		packets++
	}
	// sequence-start + NewThread + Enter + Exit = 4 packets
	assert.Equal(t, 4, packets)
}

func TestRunDropsOversizeDebugAnnotationWithoutFailing(t *testing.T) {
	state := capture.NewState(8)
	rec := capture.NewRecorder(state, "")
	huge := make([]byte, 3<<20) // exceeds Nested's 2MiB-1 body limit for debug_annotations (field 4)
	for i := range huge {
		huge[i] = 'x'
	}
	rec.Send(capture.Message{
		Kind:      capture.MsgEnter,
		Label:     "big",
		Timestamp: 1,
		Args: []capture.FieldValue{
			{Name: "payload", Kind: capture.FieldString, Str: string(huge)},
		},
	})

	rec.Send(capture.Message{Kind: capture.MsgExit, Label: "big", Timestamp: 2})

	buf := &bytes.Buffer{}
	var captured error
	w := New(state, nopCloser{buf}, func(err error) { captured = err }, nil)

	state.Finished().Push(capture.FinishedItem{Stop: true})
	require.NoError(t, w.Run())
	assert.Error(t, captured)

	// The Enter packet that would have declared "big" was dropped, so the
	// rolled-back name must be redeclared on the surviving Exit packet
	// instead of leaving a name_iid with no matching interned_data entry.
	packets := readTopLevelPackets(t, buf.Bytes())
	require.Len(t, packets, 3) // sequence-start, NewThread, Exit("big")
	last := packets[len(packets)-1]
	assert.True(t, bytes.IndexByte(last, byte(12<<3)|2) >= 0, "Exit packet should carry interned_data for the rolled-back name")
}

// readTopLevelPackets walks a serialized Trace container and returns the
// raw bytes of each top-level TracePacket submessage.
func readTopLevelPackets(t *testing.T, data []byte) [][]byte {
	t.Helper()
	var packets [][]byte
	off := 0
	for off < len(data) {
		tag, next := readVarint(t, data, off)
		require.Equal(t, uint64(0x0a), tag)
		size, next2 := readVarint(t, data, next)
		packets = append(packets, data[next2:next2+int(size)])
		off = next2 + int(size)
	}
	return packets
}

func TestTrackUUIDAndSequenceIDAreStableFunctionsOfThreadID(t *testing.T) {
	assert.Equal(t, uint64(8765), trackUUID(0))
	assert.Equal(t, uint64(8765*2), trackUUID(1))
	assert.Equal(t, uint32(1), sequenceID(0))
	assert.Equal(t, uint32(2), sequenceID(1))
}

func TestFieldValueMapsEachKindToItsDebugValue(t *testing.T) {
	cases := []struct {
		in   capture.FieldValue
		want perfetto.DebugValue
	}{
		{capture.FieldValue{Kind: capture.FieldBool, B: true}, perfetto.BoolValue(true)},
		{capture.FieldValue{Kind: capture.FieldU64, U64: 42}, perfetto.UintValue(42)},
		{capture.FieldValue{Kind: capture.FieldI64, I64: -7}, perfetto.IntValue(-7)},
		{capture.FieldValue{Kind: capture.FieldF64, F64: 3.5}, perfetto.DoubleValue(3.5)},
		{capture.FieldValue{Kind: capture.FieldString, Str: "hi"}, perfetto.StringValue("hi")},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, fieldValue(c.in))
	}
}

func TestRunPropagatesWriteIOError(t *testing.T) {
	state := capture.NewState(8)
	rec := capture.NewRecorder(state, "")
	rec.Send(capture.Message{Kind: capture.MsgEvent, Label: "x", Timestamp: 1})

	w := New(state, failingSink{}, nil, nil)
	state.Finished().Push(capture.FinishedItem{Stop: true})
	err := w.Run()
	require.Error(t, err)
}

type failingSink struct{}

func (failingSink) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingSink) Close() error                { return nil }
