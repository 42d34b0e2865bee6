package workerproc

import (
	"sync"
)

// Pool implements spec.md's WorkerPool: project_path -> list<Worker>,
// with the stated invariants — a worker appears in at most one bucket,
// dead workers are purged on next lookup, and bucket removal kills all
// resident workers.
type Pool struct {
	mu      sync.Mutex
	buckets map[string][]*Worker
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{buckets: make(map[string][]*Worker)}
}

// Lookup purges dead workers from bucket project, then returns a worker
// whose client_count is below maxClients (0 disables the cap), or nil if
// none qualifies.
func (p *Pool) Lookup(project string, maxClients int) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.purgeLocked(project)
	for _, w := range bucket {
		if maxClients == 0 || w.ClientCount() < maxClients {
			return w
		}
	}
	return nil
}

// purgeLocked removes dead workers from project's bucket and stores the
// survivors back. Caller must hold p.mu.
func (p *Pool) purgeLocked(project string) []*Worker {
	bucket := p.buckets[project]
	alive := bucket[:0:0]
	for _, w := range bucket {
		if w.Alive() {
			alive = append(alive, w)
		}
	}
	if len(alive) == 0 {
		delete(p.buckets, project)
	} else {
		p.buckets[project] = alive
	}
	return alive
}

// Add binds worker to project and pushes it into that bucket.
func (p *Pool) Add(project string, w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.ProjectPath = project
	p.buckets[project] = append(p.buckets[project], w)
}

// RemoveProject kills every worker in project's bucket and removes it,
// returning the count killed (used by --restart).
func (p *Pool) RemoveProject(project string) int {
	p.mu.Lock()
	bucket := p.buckets[project]
	delete(p.buckets, project)
	p.mu.Unlock()

	for _, w := range bucket {
		w.Kill()
	}
	return len(bucket)
}

// All returns every worker currently tracked, across all buckets, for
// shutdown.
func (p *Pool) All() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []*Worker
	for _, bucket := range p.buckets {
		all = append(all, bucket...)
	}
	return all
}

// Shutdown kills every worker in the pool and empties it.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	buckets := p.buckets
	p.buckets = make(map[string][]*Worker)
	p.mu.Unlock()

	for _, bucket := range buckets {
		for _, w := range bucket {
			w.Kill()
		}
	}
}
