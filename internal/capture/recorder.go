package capture

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ClusterCockpit/cc-trace/internal/queue"
)

// FinishedItem is one item on the handoff queue from producers to the
// writer: either a full buffer ready to be processed, or the terminal
// stop sentinel.
type FinishedItem struct {
	Buffer *Buffer
	Stop   bool
}

// State is the process-wide half of the capture subsystem: the
// monotonic thread-id counter, the set of buffers currently owned by
// their producer thread, and the handoff queue to the writer. One State
// is shared by every Recorder a Layer hands out.
type State struct {
	capacity      int
	nextThreadID  atomic.Uint64
	inUse         sync.Map // ThreadID -> *Buffer
	finished      *queue.Unbounded[FinishedItem]
	activeThreads atomic.Int64
	rotations     atomic.Int64
}

// NewState builds a capture State with the given per-thread buffer
// capacity. Capacity must be at least 2: a rotation that cannot even fit
// the single message being rotated into the fresh buffer is a
// programming error, not a recoverable condition.
func NewState(capacity int) *State {
	if capacity < 2 {
		panic("capture: buffer capacity must be >= 2")
	}
	return &State{capacity: capacity, finished: queue.NewUnbounded[FinishedItem]()}
}

// Finished returns the handoff queue the writer receives from.
func (s *State) Finished() *queue.Unbounded[FinishedItem] {
	return s.finished
}

// ActiveThreads reports the number of distinct threads currently
// registered in_use. A thread leaves this count only at shutdown
// (TakeAll); a buffer rotation does not change it, since the thread
// stays registered under the same id with a fresh buffer.
func (s *State) ActiveThreads() int64 { return s.activeThreads.Load() }

// Rotations reports the total number of times a full buffer was handed
// off to the writer and replaced, across all threads.
func (s *State) Rotations() int64 { return s.rotations.Load() }

// TakeAll snapshots every thread-id currently registered in_use and
// removes it, returning the associated buffers. Used once, at shutdown:
// snapshotting the keys before removing avoids holding a live iterator
// over the map while producers may still be inserting into it.
func (s *State) TakeAll() []*Buffer {
	var ids []ThreadID
	s.inUse.Range(func(k, _ any) bool {
		ids = append(ids, k.(ThreadID))
		return true
	})

	bufs := make([]*Buffer, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.inUse.LoadAndDelete(id); ok {
			bufs = append(bufs, v.(*Buffer))
			s.activeThreads.Add(-1)
		}
	}
	return bufs
}

// Recorder is the per-logical-thread handle a caller holds for the
// lifetime of one logical thread of execution. Go has no supported
// thread-local storage and routinely runs far more goroutines than OS
// threads, so rather than an implicit thread-local cell this module
// hands callers an explicit cell to hold (e.g. stashed in a
// context.Context). A Recorder must be used by one goroutine at a time;
// it is not safe for concurrent Send calls.
type Recorder struct {
	state    *State
	name     string
	threadID ThreadID
	haveID   bool
	cell     atomic.Pointer[Buffer]
}

// NewRecorder returns a Recorder backed by state. name is used as the
// display name prefix for the synthetic NewThread message emitted on
// first Send ("{name} {thread_id}"); an empty name yields "thread
// {thread_id}", matching the unnamed-OS-thread fallback.
func NewRecorder(state *State, name string) *Recorder {
	return &Recorder{state: state, name: name}
}

// ThreadID returns the id assigned to this recorder. Only meaningful
// after the first Send.
func (r *Recorder) ThreadID() ThreadID { return r.threadID }

// Send routes msg into the recorder's current buffer, assigning a
// thread-id and emitting the synthetic NewThread message first if this
// is the recorder's first Send. Never blocks: a full buffer is rotated
// to the writer immediately and a fresh one takes its place.
func (r *Recorder) Send(msg Message) {
	buf := r.cell.Swap(nil)
	if buf == nil {
		buf = r.allocFirstBuffer()
	}

	msg.ThreadID = r.threadID
	if !buf.push(msg) {
		buf = r.handleFullBuffer(buf)
		if !buf.push(msg) {
			panic("capture: failed to push into freshly rotated buffer")
		}
	}
	r.cell.Store(buf)
}

func (r *Recorder) allocFirstBuffer() *Buffer {
	threadID := ThreadID(r.state.nextThreadID.Add(1) - 1)
	r.threadID = threadID
	r.haveID = true

	displayName := r.displayName()
	buf := newBuffer(threadID, r.state.capacity)
	if !buf.push(Message{Kind: MsgNewThread, ThreadID: threadID, DisplayName: displayName}) {
		panic("capture: fresh buffer rejected its own NewThread message")
	}
	r.state.inUse.Store(threadID, buf)
	r.state.activeThreads.Add(1)
	return buf
}

func (r *Recorder) displayName() string {
	id := strconv.FormatUint(uint64(r.threadID), 10)
	if r.name == "" {
		return "thread " + id
	}
	return r.name + " " + id
}

func (r *Recorder) handleFullBuffer(buf *Buffer) *Buffer {
	threadID := buf.ThreadID()
	r.state.inUse.Delete(threadID)
	r.state.finished.Push(FinishedItem{Buffer: buf})
	r.state.rotations.Add(1)

	fresh := newBuffer(threadID, r.state.capacity)
	r.state.inUse.Store(threadID, fresh)
	return fresh
}
