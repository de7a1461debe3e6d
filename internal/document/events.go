package document

import "sync"

// Notifier fans a payload-free "documents changed" signal out to subscribers.
// Delivery is best effort and in-process only.
type Notifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func()
}

// NewNotifier creates a Notifier with no subscribers
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func())}
}

// Subscribe registers fn and returns a func that removes it.
// fn runs on the notifying goroutine and must not block.
func (n *Notifier) Subscribe(fn func()) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Notify calls every subscriber
func (n *Notifier) Notify() {
	if n == nil {
		return
	}
	n.mu.RLock()
	subs := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}
