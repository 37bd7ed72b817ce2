package perfetto

// Field ids and wire types below follow the Perfetto trace proto exactly
// as defined in the upstream `perfetto_trace.proto`. Only the subset
// cc-trace emits is represented.

// Sequence flags, carried on every TracePacket.
const (
	SeqIncrementalStateCleared uint32 = 1
	SeqNeedsIncrementalState   uint32 = 2
)

// EventType enumerates the TrackEvent.type values cc-trace produces.
type EventType int

const (
	EventSliceBegin EventType = 1
	EventSliceEnd   EventType = 2
	EventInstant    EventType = 3
	EventCounter    EventType = 4
)

func (t EventType) wireValue() uint64 { return uint64(t) }

// IString is either a plain string name or a reference to a previously
// interned name (TrackEvent.name / DebugAnnotation.name are both
// oneof-like this way in the Perfetto schema).
type IString struct {
	Plain    string
	Interned uint64
	isPlain  bool
}

func PlainString(s string) IString  { return IString{Plain: s, isPlain: true} }
func InternedID(iid uint64) IString { return IString{Interned: iid} }

// DebugValue is the tagged value carried by a DebugAnnotation.
type DebugValue struct {
	kind debugValueKind
	b    bool
	u    uint64
	i    int64
	f    float64
	s    string
}

type debugValueKind int

const (
	debugBool debugValueKind = iota
	debugUint
	debugInt
	debugDouble
	debugString
)

func BoolValue(v bool) DebugValue      { return DebugValue{kind: debugBool, b: v} }
func UintValue(v uint64) DebugValue    { return DebugValue{kind: debugUint, u: v} }
func IntValue(v int64) DebugValue      { return DebugValue{kind: debugInt, i: v} }
func DoubleValue(v float64) DebugValue { return DebugValue{kind: debugDouble, f: v} }
func StringValue(v string) DebugValue  { return DebugValue{kind: debugString, s: v} }

func (v DebugValue) emit(out *Emitter) {
	switch v.kind {
	case debugBool:
		b := uint64(0)
		if v.b {
			b = 1
		}
		out.Varint(2, b)
	case debugUint:
		out.Varint(3, v.u)
	case debugInt:
		// Plain int64 reinterpreted as unsigned two's complement, not zigzag:
		// the .proto declares this field as int64, not sint64.
		out.Varint(4, uint64(v.i))
	case debugDouble:
		out.Double(5, v.f)
	case debugString:
		out.String(6, v.s)
	}
}

// DebugAnnotation is one name/value pair attached to a TrackEvent.
type DebugAnnotation struct {
	Name  IString
	Value DebugValue
}

func (a DebugAnnotation) Emit(out *Emitter) error {
	if a.Name.isPlain {
		out.String(10, a.Name.Plain)
	} else {
		out.Varint(1, a.Name.Interned)
	}
	a.Value.emit(out)
	return nil
}

// TrackEvent is the body of a slice-begin/slice-end/instant TracePacket.
type TrackEvent struct {
	Type              EventType
	Name              IString
	DebugAnnotations  []DebugAnnotation
	CounterValueInt64 *int64
	CounterValueF64   *float64
}

func (ev TrackEvent) Emit(out *Emitter) error {
	out.Varint(9, ev.Type.wireValue())
	if ev.Name.isPlain {
		out.String(23, ev.Name.Plain)
	} else {
		out.Varint(10, ev.Name.Interned)
	}
	for _, ann := range ev.DebugAnnotations {
		if err := out.Nested(4, func(o *Emitter) error { return ann.Emit(o) }); err != nil {
			return err
		}
	}
	switch {
	case ev.CounterValueInt64 != nil:
		out.Varint(30, uint64(*ev.CounterValueInt64))
	case ev.CounterValueF64 != nil:
		out.Double(44, *ev.CounterValueF64)
	}
	return nil
}

// TrackDescriptor names and identifies a track (one per thread, here).
type TrackDescriptor struct {
	UUID uint64
	Name string
}

func (d TrackDescriptor) Emit(out *Emitter) error {
	out.Varint(1, d.UUID)
	out.String(2, d.Name)
	return nil
}

// TrackEventDefaults fixes the implicit track_uuid for a sequence.
type TrackEventDefaults struct {
	TrackUUID uint64
}

func (d TrackEventDefaults) Emit(out *Emitter) error {
	out.Varint(11, d.TrackUUID)
	return nil
}

// TracePacketDefaults is attached to the first packet of a sequence.
type TracePacketDefaults struct {
	TimestampClockID   uint32
	TrackEventDefaults *TrackEventDefaults
}

func (d TracePacketDefaults) Emit(out *Emitter) error {
	out.Varint(58, uint64(d.TimestampClockID))
	if d.TrackEventDefaults != nil {
		if err := out.Nested(11, func(o *Emitter) error { return d.TrackEventDefaults.Emit(o) }); err != nil {
			return err
		}
	}
	return nil
}

// EventName is one entry of InternedData.event_names /
// InternedData.debug_annotation_names.
type EventName struct {
	IID  uint64
	Name string
}

func (n EventName) Emit(out *Emitter) error {
	out.Varint(1, n.IID)
	out.String(2, n.Name)
	return nil
}

// InternedData carries newly-seen interned strings for a sequence.
// debug_annotation_names uses field id 3, the slot immediately following
// event_names (2) in the upstream Perfetto schema.
type InternedData struct {
	EventNames           []EventName
	DebugAnnotationNames []EventName
}

func (d InternedData) Emit(out *Emitter) error {
	for _, n := range d.EventNames {
		if err := out.NestedSmall(2, func(o *Emitter) error { return n.Emit(o) }); err != nil {
			return err
		}
	}
	for _, n := range d.DebugAnnotationNames {
		if err := out.NestedSmall(3, func(o *Emitter) error { return n.Emit(o) }); err != nil {
			return err
		}
	}
	return nil
}

// PacketBody is the oneof of what a TracePacket carries; at most one of
// TrackEvent/TrackDescriptor is non-nil.
type PacketBody struct {
	TrackEvent      *TrackEvent
	TrackDescriptor *TrackDescriptor
}

// TracePacket is one top-level message inside the length-delimited
// stream that makes up a Perfetto trace file (each instance is written
// as field 1 of the implicit outer `Trace` message).
type TracePacket struct {
	Timestamp               uint64
	TrustedUID              int32
	TrustedPacketSequenceID uint32
	SequenceFlags           uint32
	Body                    PacketBody
	InternedData            *InternedData
	TracePacketDefaults     *TracePacketDefaults
}

func (p TracePacket) Emit(out *Emitter) error {
	out.Varint(8, p.Timestamp)
	out.Varint(3, uint64(uint32(p.TrustedUID))) // int32 field, not sint32: no zigzag
	out.Varint(13, uint64(p.SequenceFlags))
	out.Varint(10, uint64(p.TrustedPacketSequenceID))

	switch {
	case p.Body.TrackEvent != nil:
		if err := out.Nested(11, func(o *Emitter) error { return p.Body.TrackEvent.Emit(o) }); err != nil {
			return err
		}
	case p.Body.TrackDescriptor != nil:
		if err := out.Nested(60, func(o *Emitter) error { return p.Body.TrackDescriptor.Emit(o) }); err != nil {
			return err
		}
	}

	if p.InternedData != nil {
		if err := out.Nested(12, func(o *Emitter) error { return p.InternedData.Emit(o) }); err != nil {
			return err
		}
	}
	if p.TracePacketDefaults != nil {
		if err := out.Nested(59, func(o *Emitter) error { return p.TracePacketDefaults.Emit(o) }); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo appends p, wrapped as field 1 of the top-level Trace container,
// to out. This is the only place a TracePacket is turned into the bytes
// that land in the trace file.
func WriteTo(out *Emitter, p TracePacket) error {
	return out.Nested(1, func(o *Emitter) error { return p.Emit(o) })
}
