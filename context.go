package cctrace

import (
	"context"

	"github.com/ClusterCockpit/cc-trace/internal/capture"
)

// Recorder is the caller-held handle for one logical thread of
// execution. It is bound to a context.Context by Layer.Enter and should
// not be used concurrently from more than one goroutine at a time.
type Recorder struct {
	inner *capture.Recorder
}

type recorderKey struct{}

// WithRecorder returns a copy of ctx carrying r. Layer.Enter does this
// automatically; WithRecorder is exposed for callers that want to seed
// a named Recorder (e.g. for a long-lived worker goroutine) before the
// first span is entered.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

func recorderFromContext(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}
