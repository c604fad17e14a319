// Package watch provides an observable value: a current state plus
// subscriber channels that receive updates, keeping only the latest value
// when a subscriber falls behind.
package watch

import "sync"

// Value holds a current value of type T and notifies subscribers on change.
type Value[T any] struct {
	mu   sync.Mutex
	cur  T
	subs map[int]chan T
	next int
}

// New creates a Value with the given initial state.
func New[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores a new value and notifies all subscribers. Subscriber channels
// are conflated: if a subscriber has not consumed the previous update, it is
// replaced by the newer one.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = val
	for _, ch := range v.subs {
		send(ch, val)
	}
}

// Subscribe registers a new subscriber. The returned channel immediately
// yields the current value, then every subsequent update. The cancel func
// removes the subscription.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.next
	v.next++
	ch := make(chan T, 1)
	ch <- v.cur
	v.subs[id] = ch
	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

func send[T any](ch chan T, val T) {
	for {
		select {
		case ch <- val:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
