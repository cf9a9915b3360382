package task

import "time"

// SetNow swaps the store clock for lease-expiry tests.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}
