// Package stream provides the single-producer chunk buffer that carries
// audio between sources, the replay layer and the network adapters.
package stream

import (
	"context"
	"time"

	"speechlink-go/src/core/utils"

	"github.com/google/uuid"
)

// Chunk is one unit handed from a writer to a reader. A terminal chunk has
// IsEnd set and a nil buffer; it is delivered once the stream is closed and
// drained.
type Chunk[T any] struct {
	Buffer       T
	IsEnd        bool
	TimeReceived time.Time
}

// Stream is an unbounded FIFO of chunks with independent sequential
// readers. Each reader sees every chunk written after it attached. The
// owner of the stream closes it; readers only release their own
// subscription.
type Stream[T any] struct {
	id       string
	mu       chan struct{} // 1-slot semaphore so reads can honor ctx
	readers  map[int]*Reader[T]
	nextID   int
	closed   bool
	disposed bool
}

func NewStream[T any]() *Stream[T] {
	s := &Stream[T]{
		id:      uuid.NewString(),
		mu:      make(chan struct{}, 1),
		readers: make(map[int]*Reader[T]),
	}
	return s
}

func (s *Stream[T]) ID() string { return s.id }

func (s *Stream[T]) lock()   { s.mu <- struct{}{} }
func (s *Stream[T]) unlock() { <-s.mu }

// Write appends a chunk for every attached reader. Writing to a closed or
// disposed stream is an error rather than a silent drop, so producer bugs
// surface at the write site.
func (s *Stream[T]) Write(buffer T) error {
	s.lock()
	defer s.unlock()
	if s.disposed {
		return utils.ErrObjectDisposed
	}
	if s.closed {
		return utils.ErrStreamClosed
	}
	chunk := Chunk[T]{Buffer: buffer, TimeReceived: time.Now()}
	for _, r := range s.readers {
		r.push(chunk)
	}
	return nil
}

// Close marks that no more writes will occur. Queued unread chunks remain
// readable; each reader then receives one terminal IsEnd chunk.
func (s *Stream[T]) Close() {
	s.lock()
	defer s.unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, r := range s.readers {
		r.signal()
	}
}

// IsClosed reports whether Close has been called.
func (s *Stream[T]) IsClosed() bool {
	s.lock()
	defer s.unlock()
	return s.closed
}

// Dispose releases the stream. Subsequent reads fail with ErrObjectDisposed.
func (s *Stream[T]) Dispose() {
	s.lock()
	defer s.unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	for _, r := range s.readers {
		r.signal()
	}
	s.readers = make(map[int]*Reader[T])
}

// GetReader attaches a new independent cursor. The reader sees all chunks
// written from this point on.
func (s *Stream[T]) GetReader() *Reader[T] {
	s.lock()
	defer s.unlock()
	r := &Reader[T]{
		stream: s,
		id:     s.nextID,
		ready:  make(chan struct{}, 1),
	}
	s.nextID++
	if !s.disposed {
		s.readers[r.id] = r
	}
	return r
}

// Reader is one subscription cursor over a stream.
type Reader[T any] struct {
	stream   *Stream[T]
	id       int
	queue    []Chunk[T]
	ready    chan struct{}
	detached bool
	sentEnd  bool
}

func (r *Reader[T]) push(chunk Chunk[T]) {
	r.queue = append(r.queue, chunk)
	r.signal()
}

func (r *Reader[T]) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Read returns the next unread chunk, blocking until one is written, the
// stream closes, or ctx is canceled. Once the stream is closed and this
// reader has drained its queue, Read returns a terminal chunk with IsEnd
// set; further reads keep returning terminal chunks.
func (r *Reader[T]) Read(ctx context.Context) (Chunk[T], error) {
	for {
		select {
		case r.stream.mu <- struct{}{}:
		case <-ctx.Done():
			return Chunk[T]{}, ctx.Err()
		}

		if r.stream.disposed {
			<-r.stream.mu
			return Chunk[T]{}, utils.ErrObjectDisposed
		}
		if r.detached {
			<-r.stream.mu
			return Chunk[T]{}, utils.NewError(utils.KindDisposed, "stream.Read", "reader is closed")
		}
		if len(r.queue) > 0 {
			chunk := r.queue[0]
			r.queue = r.queue[1:]
			<-r.stream.mu
			return chunk, nil
		}
		if r.stream.closed {
			r.sentEnd = true
			<-r.stream.mu
			return Chunk[T]{IsEnd: true, TimeReceived: time.Now()}, nil
		}
		<-r.stream.mu

		select {
		case <-r.ready:
		case <-ctx.Done():
			return Chunk[T]{}, ctx.Err()
		}
	}
}

// Close releases only this reader's subscription; the stream and other
// readers are unaffected.
func (r *Reader[T]) Close() {
	r.stream.lock()
	defer r.stream.unlock()
	if r.detached {
		return
	}
	r.detached = true
	delete(r.stream.readers, r.id)
}
