package voice

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/embla/pkg/provider/stt"
)

// forwarder moves captured chunks to a recognition stream in capture order.
// push never blocks; a dedicated goroutine drains the queue into SendAudio.
type forwarder struct {
	handle stt.SessionHandle
	log    *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	stopped bool
	done    chan struct{}
}

func newForwarder(handle stt.SessionHandle, log *slog.Logger) *forwarder {
	f := &forwarder{handle: handle, log: log, done: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	go f.run()
	return f
}

// push queues chunk for sending.
func (f *forwarder) push(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.queue = append(f.queue, chunk)
	f.cond.Signal()
}

// stop discards anything still queued and waits for the sending goroutine
// to exit.
func (f *forwarder) stop() {
	f.mu.Lock()
	f.stopped = true
	f.queue = nil
	f.cond.Signal()
	f.mu.Unlock()
	<-f.done
}

func (f *forwarder) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.stopped {
			f.cond.Wait()
		}
		if f.stopped {
			f.mu.Unlock()
			return
		}
		chunk := f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]
		f.mu.Unlock()

		if err := f.handle.SendAudio(chunk); err != nil {
			// The stream reports its own failure through Results and Err.
			if !errors.Is(err, stt.ErrSessionClosed) {
				f.log.Debug("voice: send audio failed", "err", err)
			}
			f.mu.Lock()
			f.stopped = true
			f.queue = nil
			f.mu.Unlock()
			return
		}
	}
}
