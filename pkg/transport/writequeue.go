package transport

import (
	"io"
	"sync"
)

// DefaultHighWaterMark is the number of queued bytes above which Write
// asks the caller to wait for Drain.
const DefaultHighWaterMark = 16 * 1024

// writeQueue serialises writes onto a writer owned by a single goroutine.
//
// Pushes made before start are held until a writer is supplied.
type writeQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	w         io.Writer
	bufs      [][]byte
	queued    int
	highWater int
	needDrain bool
	inFlight  bool

	started bool
	closed  bool
	aborted bool
	then    func()
	done    chan struct{}

	onDrain func()
	onError func(error)
}

func newWriteQueue(highWater int, onDrain func(), onError func(error)) *writeQueue {
	if highWater <= 0 {
		highWater = DefaultHighWaterMark
	}
	q := &writeQueue{
		highWater: highWater,
		done:      make(chan struct{}),
		onDrain:   onDrain,
		onError:   onError,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// start attaches the writer and launches the write goroutine.
func (q *writeQueue) start(w io.Writer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.aborted {
		return
	}
	q.w = w
	q.started = true
	go q.run()
}

// push queues a copy of p. It returns false when the queue is above the
// high-water mark or no longer accepts data.
func (q *writeQueue) push(p []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.aborted {
		return false
	}
	if len(p) == 0 {
		return q.queued < q.highWater
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	q.bufs = append(q.bufs, buf)
	q.queued += len(buf)
	q.cond.Broadcast()

	if q.queued >= q.highWater {
		q.needDrain = true
		return false
	}
	return true
}

// flush blocks until everything queued so far has been written.
// It returns immediately when the queue was never started.
func (q *writeQueue) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.started && !q.aborted && (len(q.bufs) > 0 || q.inFlight) {
		q.cond.Wait()
	}
}

// closeThen stops accepting data; fn runs on the write goroutine once the
// queue is empty.
func (q *writeQueue) closeThen(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.aborted {
		return
	}
	q.closed = true
	q.then = fn
	q.cond.Broadcast()
}

// abort drops queued data and stops the write goroutine.
func (q *writeQueue) abort() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.aborted = true
	q.bufs = nil
	q.queued = 0
	q.cond.Broadcast()
}

// wait blocks until the write goroutine has exited.
func (q *writeQueue) wait() {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if started {
		<-q.done
	}
}

// pending returns the number of queued bytes.
func (q *writeQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// run drives the loop and reports a write failure once the goroutine is
// accounted as finished, so callers blocked in wait never depend on the
// error listener returning.
func (q *writeQueue) run() {
	err := q.loop()
	close(q.done)
	if err != nil && q.onError != nil {
		q.onError(err)
	}
}

func (q *writeQueue) loop() error {
	for {
		q.mu.Lock()
		for len(q.bufs) == 0 && !q.closed && !q.aborted {
			q.cond.Wait()
		}
		if q.aborted {
			q.cond.Broadcast()
			q.mu.Unlock()
			return nil
		}
		if len(q.bufs) == 0 {
			then := q.then
			q.then = nil
			q.cond.Broadcast()
			q.mu.Unlock()
			if then != nil {
				then()
			}
			return nil
		}
		buf := q.bufs[0]
		q.bufs[0] = nil
		q.bufs = q.bufs[1:]
		q.inFlight = true
		w := q.w
		q.mu.Unlock()

		_, err := w.Write(buf)

		q.mu.Lock()
		q.inFlight = false
		q.queued -= len(buf)
		drain := err == nil && q.needDrain && q.queued == 0
		if drain {
			q.needDrain = false
		}
		if err != nil {
			q.aborted = true
			q.bufs = nil
			q.queued = 0
		}
		q.cond.Broadcast()
		q.mu.Unlock()

		if err != nil {
			return err
		}
		if drain && q.onDrain != nil {
			// Listeners may wait on this queue.
			go q.onDrain()
		}
	}
}
