package scheduler

import (
	"sync"
	"testing"
)

func TestLeasePoolExhaustion(t *testing.T) {
	p := NewLeasePool(1)

	lease, ok := p.TryAcquire("j1")
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if !lease.Valid() || lease.JobID() != "j1" {
		t.Error("lease not bound to j1")
	}

	if _, ok := p.TryAcquire("j2"); ok {
		t.Error("acquire succeeded with no free device")
	}

	lease.Release()
	if lease.Valid() {
		t.Error("lease still valid after release")
	}
	if _, ok := p.TryAcquire("j2"); !ok {
		t.Error("acquire failed after release")
	}
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	p := NewLeasePool(1)
	lease, _ := p.TryAcquire("j1")

	lease.Release()
	lease.Release()

	if p.Held() != 0 {
		t.Errorf("held = %d after double release, want 0", p.Held())
	}
	if _, ok := p.TryAcquire("j2"); !ok {
		t.Error("pool corrupted by double release")
	}
	if p.Held() != 1 {
		t.Errorf("held = %d, want 1", p.Held())
	}
}

func TestLeasePoolMinimumSize(t *testing.T) {
	p := NewLeasePool(0)
	if p.Size() != 1 {
		t.Errorf("size = %d, want 1", p.Size())
	}
}

func TestLeasePoolConcurrentAcquire(t *testing.T) {
	p := NewLeasePool(2)

	var wg sync.WaitGroup
	results := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := p.TryAcquire("j")
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	got := 0
	for ok := range results {
		if ok {
			got++
		}
	}
	if got != 2 {
		t.Errorf("granted %d leases, want 2", got)
	}
}
