package breaker

import "time"

// SetNow replaces the breaker clock for tests.
func (b *Breaker) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.now = now
}
