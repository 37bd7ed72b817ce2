// Package cctrace is an in-process tracing sink: it captures
// hierarchical span enter/exit events and instantaneous log events from
// application code and serializes them into a Perfetto-compatible
// binary trace file for offline visualization.
//
// Typical use, one Layer per process:
//
//	layer, guard, err := cctrace.NewBuilder().File("trace.pftrace").Build()
//	if err != nil { ... }
//	defer guard.Close()
//
//	ctx = layer.Enter(ctx, "handle_request")
//	defer layer.Exit(ctx, "handle_request")
package cctrace

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ClusterCockpit/cc-trace/internal/capture"
	"github.com/ClusterCockpit/cc-trace/internal/writer"
)

const (
	// defaultBufferCapacity is the recommended default for the
	// per-thread buffer capacity.
	defaultBufferCapacity = 4096
	// minBufferCapacity is the hard minimum: a rotation must be able to
	// fit the single message that triggered it.
	minBufferCapacity = 2
)

// Builder configures a Layer/FlushGuard pair before construction, with
// the usual fluent setters plus the error-reporting and metrics hooks a
// long-running process needs.
type Builder struct {
	path           string
	includeArgs    bool
	bufferCapacity int
	errSink        writer.ErrorSink
	registerer     prometheus.Registerer
}

// NewBuilder returns a Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{bufferCapacity: defaultBufferCapacity}
}

// File sets the output trace path. If never called, Build uses
// "trace-<unix-epoch-millis>.pftrace".
func (b *Builder) File(path string) *Builder {
	b.path = path
	return b
}

// IncludeArgs controls whether span/event field values are captured as
// debug annotations. Default false.
func (b *Builder) IncludeArgs(include bool) *Builder {
	b.includeArgs = include
	return b
}

// BufferCapacity sets the per-thread buffer capacity. Values below
// minBufferCapacity are replaced by defaultBufferCapacity at Build time.
func (b *Builder) BufferCapacity(n int) *Builder {
	b.bufferCapacity = n
	return b
}

// ErrorSink overrides where errors raised off the hot path (oversize
// debug annotations, a fatal write error, a recovered writer panic) are
// reported. Defaults to logging through cclog.
func (b *Builder) ErrorSink(sink func(error)) *Builder {
	b.errSink = sink
	return b
}

// Registerer optionally registers the writer's Prometheus metrics. A
// nil Registerer (the default) still tracks the counters internally,
// just without exposing them.
func (b *Builder) Registerer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// Build opens the output file, starts the writer goroutine, and returns
// the Layer application code calls into along with the FlushGuard that
// owns the writer's lifetime.
func (b *Builder) Build() (*Layer, *FlushGuard, error) {
	capacity := b.bufferCapacity
	if capacity < minBufferCapacity {
		capacity = defaultBufferCapacity
	}

	path := b.path
	if path == "" {
		path = fmt.Sprintf("trace-%d.pftrace", time.Now().UnixMilli())
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}

	errSink := b.errSink
	if errSink == nil {
		errSink = writer.DefaultErrorSink
	}

	state := capture.NewState(capacity)
	metrics := writer.NewMetrics(b.registerer, state)
	w := writer.New(state, file, errSink, metrics)
	guard := newFlushGuard(state, w, errSink)

	layer := &Layer{
		state:       state,
		includeArgs: b.includeArgs,
		startedAt:   time.Now(),
	}
	return layer, guard, nil
}

// Layer is the entry point application code calls into on span
// enter/exit and instant events. It carries no per-call-site state of
// its own -- all mutable state lives in the shared capture.State reached
// through it.
type Layer struct {
	state       *capture.State
	includeArgs bool
	startedAt   time.Time
}

// NewRecorder returns a Recorder pre-bound to name, for callers that
// want a stable display name for a long-lived worker goroutine instead
// of the "thread {id}" fallback. Store it in a context with WithRecorder
// before the goroutine's first Enter/Event call.
func (l *Layer) NewRecorder(name string) *Recorder {
	return &Recorder{inner: capture.NewRecorder(l.state, name)}
}

func (l *Layer) recorderFor(ctx context.Context) *Recorder {
	if r := recorderFromContext(ctx); r != nil {
		return r
	}
	return &Recorder{inner: capture.NewRecorder(l.state, "")}
}

func (l *Layer) timestamp() capture.Timestamp {
	return capture.Timestamp(time.Since(l.startedAt).Nanoseconds())
}

func (l *Layer) args(fields []Field) []capture.FieldValue {
	if !l.includeArgs {
		return nil
	}
	return toCaptureArgs(fields)
}

// Enter records a span begin and returns a context carrying the
// Recorder it was sent on, so a later Exit/Event call on that same
// context lands on the same logical thread. Typical use:
//
//	ctx = layer.Enter(ctx, "span_name", cctrace.Int("n", n))
//	defer layer.Exit(ctx, "span_name")
func (l *Layer) Enter(ctx context.Context, label string, fields ...Field) context.Context {
	r := l.recorderFor(ctx)
	r.inner.Send(capture.Message{
		Kind:      capture.MsgEnter,
		Timestamp: l.timestamp(),
		Label:     label,
		Args:      l.args(fields),
	})
	return WithRecorder(ctx, r)
}

// Exit records a span end on the Recorder bound to ctx. Spans carry
// their field values on Enter only.
func (l *Layer) Exit(ctx context.Context, label string) {
	r := l.recorderFor(ctx)
	r.inner.Send(capture.Message{
		Kind:      capture.MsgExit,
		Timestamp: l.timestamp(),
		Label:     label,
	})
}

// Event records an instantaneous event on the Recorder bound to ctx. If
// ctx carries no Recorder, the event is sent on a new Recorder of its
// own and shows up as a new thread in the trace.
func (l *Layer) Event(ctx context.Context, label string, fields ...Field) {
	r := l.recorderFor(ctx)
	r.inner.Send(capture.Message{
		Kind:      capture.MsgEvent,
		Timestamp: l.timestamp(),
		Label:     label,
		Args:      l.args(fields),
	})
}
