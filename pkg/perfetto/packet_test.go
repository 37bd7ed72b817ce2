package perfetto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracePacketEmitsSequenceStartPacket(t *testing.T) {
	out := NewEmitter()
	p := TracePacket{
		Timestamp:               1,
		TrustedUID:              42,
		TrustedPacketSequenceID: 1,
		SequenceFlags:           SeqIncrementalStateCleared,
		TracePacketDefaults: &TracePacketDefaults{
			TimestampClockID: 6,
			TrackEventDefaults: &TrackEventDefaults{
				TrackUUID: 8765,
			},
		},
	}
	require.NoError(t, WriteTo(out, p))
	require.NotEmpty(t, out.Bytes())
}

func TestTrackEventWithInternedName(t *testing.T) {
	out := NewEmitter()
	ev := TrackEvent{
		Type: EventSliceBegin,
		Name: InternedID(1),
		DebugAnnotations: []DebugAnnotation{
			{Name: PlainString("n"), Value: IntValue(-5)},
		},
	}
	require.NoError(t, ev.Emit(out))
	require.NotEmpty(t, out.Bytes())
}

func TestInternedDataEntriesAreNestedSmall(t *testing.T) {
	out := NewEmitter()
	d := InternedData{
		EventNames: []EventName{{IID: 1, Name: "fib"}},
	}
	require.NoError(t, d.Emit(out))
	require.NotEmpty(t, out.Bytes())
	// Field 2 tag, then a 2-byte (non-minimal) length of 7, then the entry.
	assert.Equal(t, []byte{0x12, 0x87, 0x00, 0x08, 0x01, 0x12, 0x03, 'f', 'i', 'b'}, out.Bytes())
}
