package capture

// Buffer is a fixed-capacity queue of Message exclusively associated
// with one thread while in use, then handed to the writer once full (or
// at shutdown). Backed by a Go channel: select+default gives a
// non-blocking push, and Len gives the exact snapshot the writer's
// drain needs before it starts popping.
type Buffer struct {
	threadID ThreadID
	queue    chan Message
}

func newBuffer(threadID ThreadID, capacity int) *Buffer {
	return &Buffer{threadID: threadID, queue: make(chan Message, capacity)}
}

// ThreadID reports the thread this buffer belongs (belonged) to.
func (b *Buffer) ThreadID() ThreadID { return b.threadID }

// Len reports the number of messages currently queued.
func (b *Buffer) Len() int { return len(b.queue) }

// push attempts a non-blocking enqueue. ok is false if the buffer is
// full; the caller is responsible for rotating in that case.
func (b *Buffer) push(m Message) (ok bool) {
	select {
	case b.queue <- m:
		return true
	default:
		return false
	}
}

// Drain pops up to n messages (the snapshot the caller took at the start
// of processing), never blocking. It stops early if the buffer empties
// before n messages are popped, or if f returns false, e.g. after a
// fatal write error.
func (b *Buffer) Drain(n int, f func(Message) bool) {
	for i := 0; i < n; i++ {
		select {
		case m := <-b.queue:
			if !f(m) {
				return
			}
		default:
			return
		}
	}
}
