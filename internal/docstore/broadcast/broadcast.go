// Package broadcast fans document change events out to collection listeners.
package broadcast

import (
	"time"

	"github.com/louisbranch/tablesync/internal/docstore"
)

// DefaultTimeout bounds delivery to a single slow subscriber.
const DefaultTimeout = 100 * time.Millisecond

type taggedChange struct {
	collection string
	change     docstore.DocChange
}

// Subscription receives changes for one collection until cancelled.
type Subscription struct {
	collection string
	changes    chan docstore.DocChange
	cancel     func()
}

// Changes returns the channel delivering this subscription's events.
func (s *Subscription) Changes() <-chan docstore.DocChange {
	return s.changes
}

// Cancel removes the subscription. The changes channel is closed by the
// broadcaster loop once the removal is processed.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Broadcaster routes accepted document changes to per-collection
// subscribers from a single goroutine.
type Broadcaster struct {
	subscribeChan   chan *Subscription
	unsubscribeChan chan *Subscription
	bufferedChanges chan taggedChange
	stopChan        chan struct{}
	doneChan        chan struct{}
	subscribers     map[string]map[*Subscription]struct{}
	timeout         time.Duration
}

// New constructs a broadcaster with the given accept buffer size.
func New(bufferSize int, timeout time.Duration) *Broadcaster {
	b := &Broadcaster{
		subscribeChan:   make(chan *Subscription),
		unsubscribeChan: make(chan *Subscription),
		bufferedChanges: make(chan taggedChange, bufferSize),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
		subscribers:     make(map[string]map[*Subscription]struct{}),
		timeout:         timeout,
	}

	go b.start()

	return b
}

// Accept enqueues a change for delivery to the collection's subscribers.
func (b *Broadcaster) Accept(collection string, change docstore.DocChange) {
	select {
	case b.bufferedChanges <- taggedChange{collection: collection, change: change}:
	case <-b.stopChan:
	}
}

// Subscribe registers a subscriber for one collection's changes.
func (b *Broadcaster) Subscribe(collection string, buffer int) *Subscription {
	sub := &Subscription{
		collection: collection,
		changes:    make(chan docstore.DocChange, buffer),
	}
	sub.cancel = func() {
		select {
		case b.unsubscribeChan <- sub:
		case <-b.stopChan:
		}
	}

	select {
	case b.subscribeChan <- sub:
	case <-b.stopChan:
		close(sub.changes)
	}

	return sub
}

// Close stops the broadcaster loop and closes all subscriptions.
func (b *Broadcaster) Close() {
	close(b.stopChan)
	<-b.doneChan
}

func (b *Broadcaster) start() {
	defer close(b.doneChan)

	for {
		select {
		case sub := <-b.subscribeChan:
			subs, ok := b.subscribers[sub.collection]
			if !ok {
				subs = make(map[*Subscription]struct{})
				b.subscribers[sub.collection] = subs
			}
			subs[sub] = struct{}{}

		case sub := <-b.unsubscribeChan:
			if subs, ok := b.subscribers[sub.collection]; ok {
				if _, present := subs[sub]; present {
					delete(subs, sub)
					close(sub.changes)
				}
				if len(subs) == 0 {
					delete(b.subscribers, sub.collection)
				}
			}

		case tagged := <-b.bufferedChanges:
			b.deliver(tagged)

		case <-b.stopChan:
			for _, subs := range b.subscribers {
				for sub := range subs {
					close(sub.changes)
				}
			}
			b.subscribers = nil
			return
		}
	}
}

// deliver pushes a change to every subscriber of its collection, dropping
// the event for any subscriber that stays full past the timeout.
func (b *Broadcaster) deliver(tagged taggedChange) {
	for sub := range b.subscribers[tagged.collection] {
		select {
		case sub.changes <- tagged.change:
		case <-time.After(b.timeout):
		}
	}
}
