package feed

import "sync"

// Notifier decides which price changes are announced to the user: only
// prices strictly above the last one announced, so repeated or out of order
// deliveries of the same price fire once.
type Notifier struct {
	mu   sync.Mutex
	last int64
}

// NewNotifier starts from the price the user has already seen.
func NewNotifier(seen int64) *Notifier {
	return &Notifier{last: seen}
}

// Offer reports whether price should be announced, and records it if so.
func (n *Notifier) Offer(price int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if price <= n.last {
		return false
	}
	n.last = price
	return true
}

func (n *Notifier) Last() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
