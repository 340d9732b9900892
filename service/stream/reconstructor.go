package stream

import (
	"fmt"
	"io"
	"sync"

	errs "GProject/tools/errs"
)

// Reconstructor reassembles chunked binary frames for one upload into a
// contiguous byte sequence. Feed appends chunks in arrival order; a
// chunk that would push the unread backlog past the high-water mark is
// rejected and the stream aborted. Feed never blocks: the connection
// read loop is the only goroutine delivering chunks AND the control
// frames that could drain them, so stalling it would wedge the whole
// connection. End seals the sequence; Terminate discards it.
type Reconstructor struct {
	ID   int64
	Name string
	Size int64

	mu         sync.Mutex
	cond       *sync.Cond
	buf        []byte
	off        int // read offset into buf
	highWater  int
	done       bool
	terminated bool
}

func New(id int64, name string, size int64, highWater int) (*Reconstructor, *errs.CodeError) {
	if name == "" || size < 0 {
		return nil, errs.ErrStreamMeta.WithDetail(fmt.Sprintf("stream %d name=%q size=%d", id, name, size))
	}
	if highWater <= 0 {
		highWater = 1 << 20
	}
	r := &Reconstructor{
		ID:        id,
		Name:      name,
		Size:      size,
		highWater: highWater,
	}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Feed appends one chunk. A chunk that would carry the unread backlog
// past the high-water mark aborts the stream and fails the call; the
// peer is expected to re-initiate with saner chunking or a consumer
// attached.
func (r *Reconstructor) Feed(p []byte) *errs.CodeError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done || r.terminated {
		return errs.ErrStreamFinalized.WithDetail(r.tag())
	}
	if len(r.buf)-r.off+len(p) > r.highWater {
		r.terminateLocked()
		return errs.ErrStreamBacklog.WithDetail(r.tag())
	}
	r.buf = append(r.buf, p...)
	r.cond.Broadcast()
	return nil
}

// Read drains the assembled sequence in arrival order. It blocks until
// data arrives, returns io.EOF once the stream has ended and the buffer
// is drained, and fails if the stream was terminated.
func (r *Reconstructor) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.off >= len(r.buf) && !r.done && !r.terminated {
		r.cond.Wait()
	}
	if r.terminated {
		return 0, fmt.Errorf("stream terminated: %s", r.tag())
	}
	if r.off >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	r.cond.Broadcast()
	return n, nil
}

// End seals the stream. The assembled sequence stays readable via Read
// until drained, or via Bytes as a whole.
func (r *Reconstructor) End() *errs.CodeError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.terminated {
		return errs.ErrStreamFinalized.WithDetail(r.tag())
	}
	r.done = true
	r.cond.Broadcast()
	return nil
}

// Terminate aborts the stream and discards partial data.
func (r *Reconstructor) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminateLocked()
}

func (r *Reconstructor) terminateLocked() {
	if r.terminated {
		return
	}
	r.terminated = true
	r.buf = nil
	r.off = 0
	r.cond.Broadcast()
}

// Bytes returns the full assembled sequence. Only meaningful after End
// when no concurrent Read consumed the buffer.
func (r *Reconstructor) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return nil
	}
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

// Received reports total bytes fed so far.
func (r *Reconstructor) Received() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.buf))
}

func (r *Reconstructor) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Reconstructor) tag() string {
	return fmt.Sprintf("stream %d (%s)", r.ID, r.Name)
}
