package progress

import "sync"

// Counter tracks how many nodes each job has entered.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Reset starts a job at zero.
func (c *Counter) Reset(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[jobID] = 0
}

// Next increments and returns the job's count.
func (c *Counter) Next(jobID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[jobID]++
	return c.counts[jobID]
}

// Advance increments the count of a tracked job. It reports false, and
// creates nothing, for a job that is not tracked.
func (c *Counter) Advance(jobID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[jobID]
	if !ok {
		return 0, false
	}
	n++
	c.counts[jobID] = n
	return n, true
}

// Current returns the job's count, zero if unknown.
func (c *Counter) Current(jobID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[jobID]
}

// Forget drops a finished job.
func (c *Counter) Forget(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, jobID)
}

// Len is the number of tracked jobs.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
