package store

import "sync"

// notifier fans a "store changed" signal out to every subscriber. Each subscriber channel holds at most one
// pending signal, so a slow reader sees one wake-up for any number of writes.
type notifier struct {
	mu     sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan struct{})}
}

func (n *notifier) subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()

			delete(n.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.subs)
}
