package importer

import (
	"sync"

	"github.com/nhle/mailhistory/internal/model"
)

// Change carries the value of a property before and after an update.
type Change[T any] struct {
	Old T
	New T
}

// Notifier delivers changes of one kind to its subscribers. Delivery is
// asynchronous and ordered: Publish never blocks on a subscriber, and
// each subscriber sees changes in publication order on the notifier's
// own goroutine.
type Notifier[T any] struct {
	mu      sync.Mutex
	subs    map[int]func(Change[T])
	nextID  int
	pending []Change[T]
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewNotifier starts a notifier. Close stops it.
func NewNotifier[T any]() *Notifier[T] {
	n := &Notifier[T]{
		subs: make(map[int]func(Change[T])),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.loop()
	return n
}

// Subscribe registers fn and returns a function that unregisters it.
func (n *Notifier[T]) Subscribe(fn func(Change[T])) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Publish queues a change for delivery.
func (n *Notifier[T]) Publish(oldValue, newValue T) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.pending = append(n.pending, Change[T]{Old: oldValue, New: newValue})

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Close delivers the changes already queued and stops the notifier.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.wake)
	n.mu.Unlock()

	<-n.done
}

func (n *Notifier[T]) loop() {
	defer close(n.done)

	for range n.wake {
		n.drain()
	}
	n.drain()
}

func (n *Notifier[T]) drain() {
	for {
		n.mu.Lock()
		if len(n.pending) == 0 {
			n.mu.Unlock()
			return
		}
		batch := n.pending
		n.pending = nil
		subs := make([]func(Change[T]), 0, len(n.subs))
		for id := 0; id < n.nextID; id++ {
			if fn, ok := n.subs[id]; ok {
				subs = append(subs, fn)
			}
		}
		n.mu.Unlock()

		for _, change := range batch {
			for _, fn := range subs {
				fn(change)
			}
		}
	}
}

// Events groups the coordinator's notifications.
type Events struct {
	// AccountAdded, AccountRemoved and AccountsInitialized carry the
	// account set before and after the change.
	AccountAdded        *Notifier[[]model.AccountConfig]
	AccountRemoved      *Notifier[[]model.AccountConfig]
	AccountsInitialized *Notifier[[]model.AccountConfig]

	// ImportingChanged fires when an import run starts and, exactly once,
	// when it ends.
	ImportingChanged *Notifier[bool]

	// SessionChanged reports session progress.
	SessionChanged *Notifier[SessionSnapshot]
}

func newEvents() Events {
	return Events{
		AccountAdded:        NewNotifier[[]model.AccountConfig](),
		AccountRemoved:      NewNotifier[[]model.AccountConfig](),
		AccountsInitialized: NewNotifier[[]model.AccountConfig](),
		ImportingChanged:    NewNotifier[bool](),
		SessionChanged:      NewNotifier[SessionSnapshot](),
	}
}

func (e Events) close() {
	e.AccountAdded.Close()
	e.AccountRemoved.Close()
	e.AccountsInitialized.Close()
	e.ImportingChanged.Close()
	e.SessionChanged.Close()
}
