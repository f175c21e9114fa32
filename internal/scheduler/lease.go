package scheduler

import "sync"

// Lease is an exclusive right to use one accelerator, bound to a single job
// for its lifetime. It is invalidated on release; the inference stage refuses
// invalid leases.
type Lease struct {
	pool  *LeasePool
	jobID string

	mu    sync.Mutex
	valid bool
}

// JobID returns the job the lease is bound to.
func (l *Lease) JobID() string { return l.jobID }

// Valid reports whether the lease is still held.
func (l *Lease) Valid() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.valid
}

// Release returns the device to the pool. Safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	if !l.valid {
		l.mu.Unlock()
		return
	}
	l.valid = false
	l.mu.Unlock()
	l.pool.release()
}

// LeasePool arbitrates access to the accelerators. Size is the device count,
// one on the single-GPU deployments this targets; the acquire/release
// discipline is the same either way.
type LeasePool struct {
	mu   sync.Mutex
	size int
	held int
}

// NewLeasePool creates a pool for the given device count (minimum one).
func NewLeasePool(size int) *LeasePool {
	if size < 1 {
		size = 1
	}
	return &LeasePool{size: size}
}

// TryAcquire hands out a lease bound to jobID if a device is free. It never
// blocks; the scheduler waits by re-running dispatch when a lease comes back.
func (p *LeasePool) TryAcquire(jobID string) (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held >= p.size {
		return nil, false
	}
	p.held++
	return &Lease{pool: p, jobID: jobID, valid: true}, true
}

// Held returns the number of outstanding leases.
func (p *LeasePool) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Size returns the device count.
func (p *LeasePool) Size() int { return p.size }

func (p *LeasePool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held > 0 {
		p.held--
	}
}
