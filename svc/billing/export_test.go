package billing

import "time"

// SetClock replaces the deduper clock.
func (d *MemoryDeduper) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Len returns the number of remembered keys, expired or not.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
