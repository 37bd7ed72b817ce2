package cctrace

import (
	"fmt"
	"sync"

	"github.com/ClusterCockpit/cc-trace/internal/capture"
	"github.com/ClusterCockpit/cc-trace/internal/writer"
)

// FlushGuard owns the writer goroutine's lifetime. Close is the only way
// outstanding buffers get drained and the output file closed; if the
// process exits without calling it, they are not written -- callers
// should defer guard.Close() right after Build.
type FlushGuard struct {
	state *capture.State
	done  chan struct{}
	once  sync.Once
	err   error
}

func newFlushGuard(state *capture.State, w *writer.Writer, errSink writer.ErrorSink) *FlushGuard {
	g := &FlushGuard{state: state, done: make(chan struct{})}
	go func() {
		defer close(g.done)
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("cc-trace: writer panic: %v", p)
				g.err = err
				errSink(err)
			}
		}()
		if err := w.Run(); err != nil {
			g.err = err
			errSink(err)
		}
	}()
	return g
}

// Close requests a final shutdown drain: every thread still registered
// in_use is snapshotted and flushed, the output is flushed and closed,
// and the writer goroutine exits. It blocks until that goroutine has
// finished and returns the first fatal error encountered (a write
// failure or a recovered panic), or nil. Close is idempotent; later
// calls return the same result without sending a second stop sentinel.
//
// Each buffer's drain is bounded by the number of messages it holds when
// the writer starts on it, so messages a producer sends while Close is
// running are not guaranteed to be written.
func (g *FlushGuard) Close() error {
	g.once.Do(func() {
		g.state.Finished().Push(capture.FinishedItem{Stop: true})
		<-g.done
	})
	return g.err
}
