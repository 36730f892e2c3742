// ABOUTME: Per-job snapshot cache preserving log entries and status across
// ABOUTME: channel teardown so re-observing a job resumes without a round-trip.

package logstream

import "sync"

// snapshot is the cached view of one job's log output.
type snapshot struct {
	entries []Entry
	status  string
}

// Cache keeps the last known (entries, status) per job id. An entry is
// created on first observation, updated on every accepted event or status
// change, and read back when the same job is observed again, including after
// its channel has been torn down.
//
// The cache is never evicted: a long-lived session observing many jobs grows
// without bound. Any future eviction policy must not evict a job that is
// actively being observed.
type Cache struct {
	mu   sync.RWMutex
	jobs map[string]snapshot
}

// NewCache creates an empty log snapshot cache.
func NewCache() *Cache {
	return &Cache{jobs: make(map[string]snapshot)}
}

// Get returns a copy of the cached entries and status for a job.
// The copy keeps callers from aliasing cache internals.
func (c *Cache) Get(jobID string) ([]Entry, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.jobs[jobID]
	if !ok {
		return nil, "", false
	}
	entries := make([]Entry, len(snap.entries))
	copy(entries, snap.entries)
	return entries, snap.status, true
}

// Put stores the current entries and status for a job, replacing any
// previous snapshot. The entries are copied in.
func (c *Cache) Put(jobID string, entries []Entry, status string) {
	stored := make([]Entry, len(entries))
	copy(stored, entries)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[jobID] = snapshot{entries: stored, status: status}
}

// Len returns the number of jobs with a cached snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.jobs)
}
