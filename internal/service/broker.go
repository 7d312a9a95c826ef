package service

import "sync"

// StatusBroker wakes goroutines waiting on an order's payment status.
type StatusBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewStatusBroker() *StatusBroker {
	return &StatusBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe returns a channel signalled on every Publish for orderID. cancel must be called
// once the caller stops listening.
func (b *StatusBroker) Subscribe(orderID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subs[orderID] == nil {
		b.subs[orderID] = make(map[chan struct{}]struct{})
	}
	b.subs[orderID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[orderID], ch)
			if len(b.subs[orderID]) == 0 {
				delete(b.subs, orderID)
			}
		})
	}
	return ch, cancel
}

// Publish never blocks; a subscriber that has not drained its last signal keeps just one.
func (b *StatusBroker) Publish(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[orderID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *StatusBroker) subscribers(orderID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[orderID])
}
