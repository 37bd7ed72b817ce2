// Package writer implements the single-consumer writer loop: it drains
// finished buffers handed off by internal/capture, serializes each
// Message into a Perfetto TracePacket via pkg/perfetto, and appends the
// bytes to a buffered output sink.
package writer

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/cc-trace/internal/capture"
	"github.com/ClusterCockpit/cc-trace/internal/intern"
	"github.com/ClusterCockpit/cc-trace/pkg/perfetto"
)

// outputBufferSize is the user-space buffer capacity for the output sink.
const outputBufferSize = 64 * 1024

// trustedUID is a fixed, arbitrary small integer reported on every
// packet this process writes, per the Perfetto wire format.
const trustedUID = 42

// ErrorSink receives errors encountered off the hot path (an oversize
// debug annotation, a fatal write error or a panic caught at join time).
// It defaults to logging through cclog.Errorf.
type ErrorSink func(error)

// DefaultErrorSink logs err through cclog at error level, prefixed the
// way the rest of the house style tags subsystem logs.
func DefaultErrorSink(err error) {
	cclog.Errorf("trace: %s", err.Error())
}

// Writer is the writer loop's state: the output sink, the reusable
// emitter and intern table (both exclusively owned by the writer
// goroutine, so carry no locking), and the capture state it drains.
type Writer struct {
	state    *capture.State
	out      *bufio.Writer
	closer   io.Closer
	emitter  *perfetto.Emitter
	interned *intern.Table
	errSink  ErrorSink
	metrics  *Metrics
}

// New builds a Writer that appends to sink (typically a buffered file)
// and drains state. errSink receives diagnostics for recoverable
// errors; if nil, DefaultErrorSink is used. metrics may be nil.
func New(state *capture.State, sink io.WriteCloser, errSink ErrorSink, metrics *Metrics) *Writer {
	if errSink == nil {
		errSink = DefaultErrorSink
	}
	if metrics == nil {
		metrics = NewMetrics(nil, state)
	}
	return &Writer{
		state:    state,
		out:      bufio.NewWriterSize(sink, outputBufferSize),
		closer:   sink,
		emitter:  perfetto.NewEmitter(),
		interned: intern.New(),
		errSink:  errSink,
		metrics:  metrics,
	}
}

// Run drains the finished-buffer queue until it observes the stop
// sentinel, processing full buffers as they arrive, then snapshot-
// drains every thread still registered in_use, flushes, and closes the
// sink. A non-nil error is a WriteIoError and is fatal: the caller is
// expected to report it through the flush guard and not call Run again.
func (w *Writer) Run() error {
	for {
		item, ok := w.state.Finished().Pop()
		if !ok {
			break
		}
		if item.Stop {
			return w.shutdown()
		}
		if err := w.processBuffer(item.Buffer); err != nil {
			return err
		}
	}
	return w.finish()
}

func (w *Writer) shutdown() error {
	for _, buf := range w.state.TakeAll() {
		if err := w.processBuffer(buf); err != nil {
			return err
		}
	}
	return w.finish()
}

func (w *Writer) finish() error {
	if err := w.out.Flush(); err != nil {
		return err
	}
	return w.closer.Close()
}

// processBuffer bounds the drain by the queue length observed at entry
// so a producer that is still (briefly) writing to this buffer during
// shutdown can never prevent termination.
func (w *Writer) processBuffer(buf *capture.Buffer) error {
	items := buf.Len()
	threadID := buf.ThreadID()
	w.interned.Reset()

	if err := w.emitSequenceStart(threadID); err != nil {
		return err
	}

	var fatal error
	buf.Drain(items, func(m capture.Message) bool {
		if err := w.emitMessage(threadID, m); err != nil {
			fatal = err
			return false
		}
		return true
	})
	return fatal
}

func (w *Writer) emitMessage(threadID capture.ThreadID, m capture.Message) error {
	switch m.Kind {
	case capture.MsgNewThread:
		return w.emitNewThread(threadID, m)
	case capture.MsgEnter:
		return w.emitTrackEvent(threadID, m, perfetto.EventSliceBegin, true)
	case capture.MsgExit:
		return w.emitTrackEvent(threadID, m, perfetto.EventSliceEnd, false)
	case capture.MsgEvent:
		return w.emitTrackEvent(threadID, m, perfetto.EventInstant, true)
	default:
		return fmt.Errorf("writer: unknown message kind %v", m.Kind)
	}
}

func trackUUID(threadID capture.ThreadID) uint64 {
	return 8765 * (uint64(threadID) + 1)
}

func sequenceID(threadID capture.ThreadID) uint32 {
	return 1 + uint32(threadID)
}

// emitSequenceStart writes the one packet that resets incremental state
// and establishes this sequence's default track and clock.
func (w *Writer) emitSequenceStart(threadID capture.ThreadID) error {
	pkt := perfetto.TracePacket{
		Timestamp:               1,
		TrustedUID:              trustedUID,
		TrustedPacketSequenceID: sequenceID(threadID),
		SequenceFlags:           perfetto.SeqIncrementalStateCleared,
		TracePacketDefaults: &perfetto.TracePacketDefaults{
			TimestampClockID: 6, // BOOTTIME convention
			TrackEventDefaults: &perfetto.TrackEventDefaults{
				TrackUUID: trackUUID(threadID),
			},
		},
	}
	_, err := w.writePacket(pkt)
	return err
}

// emitNewThread writes the thread's TrackDescriptor, naming its track.
func (w *Writer) emitNewThread(threadID capture.ThreadID, m capture.Message) error {
	pkt := perfetto.TracePacket{
		Timestamp:               1,
		TrustedUID:              trustedUID,
		TrustedPacketSequenceID: sequenceID(threadID),
		SequenceFlags:           perfetto.SeqNeedsIncrementalState,
		Body: perfetto.PacketBody{
			TrackDescriptor: &perfetto.TrackDescriptor{
				UUID: trackUUID(threadID),
				Name: m.DisplayName,
			},
		},
	}
	_, err := w.writePacket(pkt)
	return err
}

// emitTrackEvent writes an Enter/Exit/Event packet. Debug annotations
// are only attached when withArgs is true: spans carry their args on
// Enter only. If the packet turns out too large to write, any names
// interned for it are rolled back so they get redeclared on the next
// packet that references them, instead of leaving a dangling name_iid.
func (w *Writer) emitTrackEvent(threadID capture.ThreadID, m capture.Message, eventType perfetto.EventType, withArgs bool) error {
	nameIID, nameIsNew := w.interned.EventName(m.Label)

	var eventNames []perfetto.EventName
	if nameIsNew {
		eventNames = append(eventNames, perfetto.EventName{IID: nameIID, Name: m.Label})
	}

	var debugAnnotations []perfetto.DebugAnnotation
	var annotationNames []perfetto.EventName
	if withArgs {
		for _, f := range m.Args {
			aIID, aIsNew := w.interned.AnnotationName(f.Name)
			if aIsNew {
				annotationNames = append(annotationNames, perfetto.EventName{IID: aIID, Name: f.Name})
			}
			debugAnnotations = append(debugAnnotations, perfetto.DebugAnnotation{
				Name:  perfetto.InternedID(aIID),
				Value: fieldValue(f),
			})
		}
	}

	var interned *perfetto.InternedData
	if len(eventNames) > 0 || len(annotationNames) > 0 {
		interned = &perfetto.InternedData{EventNames: eventNames, DebugAnnotationNames: annotationNames}
	}

	pkt := perfetto.TracePacket{
		Timestamp:               uint64(m.Timestamp),
		TrustedUID:              trustedUID,
		TrustedPacketSequenceID: sequenceID(threadID),
		SequenceFlags:           perfetto.SeqNeedsIncrementalState,
		Body: perfetto.PacketBody{
			TrackEvent: &perfetto.TrackEvent{
				Type:             eventType,
				Name:             perfetto.InternedID(nameIID),
				DebugAnnotations: debugAnnotations,
			},
		},
		InternedData: interned,
	}

	dropped, err := w.writePacket(pkt)
	if err != nil {
		return err
	}
	if dropped {
		for _, n := range eventNames {
			w.interned.ForgetEventName(n.Name, n.IID)
		}
		for _, n := range annotationNames {
			w.interned.ForgetAnnotationName(n.Name, n.IID)
		}
	}
	return nil
}

func fieldValue(f capture.FieldValue) perfetto.DebugValue {
	switch f.Kind {
	case capture.FieldBool:
		return perfetto.BoolValue(f.B)
	case capture.FieldU64:
		return perfetto.UintValue(f.U64)
	case capture.FieldI64:
		return perfetto.IntValue(f.I64)
	case capture.FieldF64:
		return perfetto.DoubleValue(f.F64)
	default:
		return perfetto.StringValue(f.Str)
	}
}

// writePacket serializes pkt as the Trace container's field 1 and
// appends it to the output sink. dropped reports a recoverable skip (the
// packet's body was too large to encode) rather than a fatal error; the
// caller is responsible for undoing any bookkeeping it did in
// anticipation of the packet actually landing in the file.
func (w *Writer) writePacket(pkt perfetto.TracePacket) (dropped bool, err error) {
	w.emitter.Clear()
	if err := perfetto.WriteTo(w.emitter, pkt); err != nil {
		var tooLarge *perfetto.NestedMessageTooLargeError
		if errors.As(err, &tooLarge) {
			w.metrics.oversizeDropped.Inc()
			w.errSink(err)
			return true, nil
		}
		return false, err
	}

	n, err := w.out.Write(w.emitter.Bytes())
	if err != nil {
		return false, err
	}
	w.metrics.packetsWritten.Inc()
	w.metrics.bytesWritten.Add(float64(n))
	return false, nil
}
