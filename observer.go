package cardauth

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type subscriber struct {
	id uint64
	fn Listener
}

// delivery is one queued state change and the listeners it is addressed to.
type delivery struct {
	state SessionState
	to    []subscriber
}

// observer multicasts session state to listeners in subscription order. States
// are delivered one at a time in the order they were queued; whichever goroutine
// finds the queue idle drains it. Listeners run outside the lock, and one that
// fails is dropped without affecting the others.
type observer struct {
	mu       sync.Mutex
	nextID   uint64
	subs     []subscriber
	pending  []delivery
	draining bool

	logger  *zap.Logger
	dropped func()
}

func newObserver(logger *zap.Logger, dropped func()) *observer {
	return &observer{logger: logger, dropped: dropped}
}

// subscribe registers fn and queues its initial callback. The caller drains.
func (o *observer) subscribe(fn Listener, current SessionState) func() {
	o.mu.Lock()
	o.nextID++
	s := subscriber{id: o.nextID, fn: fn}
	o.subs = append(o.subs, s)
	o.pending = append(o.pending, delivery{state: current, to: []subscriber{s}})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(s.id, nil) })
	}
}

// enqueue addresses state to the listeners registered right now. Callers hold
// the controller lock so the queue order matches the order of state writes.
func (o *observer) enqueue(state SessionState) {
	o.mu.Lock()
	to := make([]subscriber, len(o.subs))
	copy(to, o.subs)
	o.pending = append(o.pending, delivery{state: state, to: to})
	o.mu.Unlock()
}

// drain delivers queued states unless another goroutine is already doing so. A
// listener that triggers a transition only queues it; it is delivered after the
// listener returns.
func (o *observer) drain() {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	for len(o.pending) > 0 {
		d := o.pending[0]
		o.pending[0] = delivery{}
		o.pending = o.pending[1:]
		o.mu.Unlock()

		for _, s := range d.to {
			if !o.active(s.id) {
				continue
			}
			if err := o.call(s, d.state); err != nil {
				o.remove(s.id, err)
			}
		}

		o.mu.Lock()
	}
	o.draining = false
	o.mu.Unlock()
}

func (o *observer) call(s subscriber, state SessionState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return s.fn(state)
}

func (o *observer) active(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.subs {
		if s.id == id {
			return true
		}
	}
	return false
}

func (o *observer) remove(id uint64, cause error) {
	o.mu.Lock()
	found := false
	for i, s := range o.subs {
		if s.id == id {
			o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
			found = true
			break
		}
	}
	o.mu.Unlock()

	if found && cause != nil {
		o.logger.Warn("session listener removed", zap.Uint64("listener", id), zap.Error(cause))
		if o.dropped != nil {
			o.dropped()
		}
	}
}

func (o *observer) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}
