package voice

import (
	"log/slog"
	"sync"
)

// dispatcher delivers the events of one session to its subscriber from a
// single goroutine. Emitting never blocks: events are queued without bound
// and delivered in emission order, outside any orchestrator lock.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	sub    Subscriber
	closed bool
	done   chan struct{}
	log    *slog.Logger
}

func newDispatcher(sub Subscriber, log *slog.Logger) *dispatcher {
	d := &dispatcher{sub: sub, done: make(chan struct{}), log: log}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// emit queues e and reports whether it was accepted. Events emitted after
// close are dropped.
func (d *dispatcher) emit(e Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, e)
	d.cond.Signal()
	return true
}

// close stops accepting events. Queued events are still delivered, after
// which done is closed.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()
}

// detach drops the subscriber. Remaining events are discarded.
func (d *dispatcher) detach() {
	d.mu.Lock()
	d.sub = nil
	d.mu.Unlock()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		sub := d.sub
		d.mu.Unlock()

		if sub != nil {
			d.deliver(sub, e)
		}
	}
}

func (d *dispatcher) deliver(sub Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("voice: subscriber panicked", "session_id", e.SessionID(), "panic", r)
		}
	}()
	sub.HandleEvent(e)
}

// Multi returns a Subscriber that hands every event to each of subs in turn.
// Nil entries are skipped.
func Multi(subs ...Subscriber) Subscriber {
	return SubscriberFunc(func(e Event) {
		for _, s := range subs {
			if s != nil {
				s.HandleEvent(e)
			}
		}
	})
}
