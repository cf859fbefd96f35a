package feed

import (
	"sort"
	"sync"

	"github.com/3leaps/sfeed/internal/model"
	"github.com/3leaps/sfeed/internal/release"
)

type EventKind int

const (
	// EventState reports a state transition of a release.
	EventState EventKind = iota
	// EventProgress reports download progress of a release being prepared.
	EventProgress
)

func (k EventKind) String() string {
	if k == EventProgress {
		return "progress"
	}
	return "state"
}

// Event is delivered to subscribers, one at a time and in order.
type Event struct {
	Kind     EventKind
	Release  *release.Release
	ID       string
	Version  string
	State    model.State
	Progress float64
}

// dispatcher delivers events from a single goroutine. Posting never blocks.
type dispatcher struct {
	mu     sync.Mutex
	subs   map[uint64]func(Event)
	nextID uint64
	queue  []Event
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		subs: make(map[uint64]func(Event)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) post(e Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, e := range batch {
			for _, fn := range d.subscribers() {
				fn(e)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

func (d *dispatcher) subscribers() []func(Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint64, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, d.subs[id])
	}
	return out
}

// close delivers queued events and stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
