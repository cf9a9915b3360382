package persist

import "time"

// SetNow swaps the clock used for result file timestamps.
func (p *Persister) SetNow(now func() time.Time) {
	p.now = now
}
