package usecases

// PendingWaiters reports how many callers are waiting on the in-flight refresh.
func PendingWaiters(c *ZoneCache) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return 0
	}
	return c.inflight.waiters
}
