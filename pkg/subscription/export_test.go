package subscription

// HeldLocks returns the number of user locks currently held or awaited.
func (s *MemoryStore) HeldLocks() int { return s.locks.Len() }
