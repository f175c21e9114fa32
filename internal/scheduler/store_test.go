package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxpipe/api/internal/model"
)

func TestMemoryStoreCloneIsolation(t *testing.T) {
	s := NewMemoryStore()
	job := &model.Job{ID: "j1", Status: model.JobStatusQueued, CreatedAt: time.Now()}

	if err := s.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the original after save must not leak into the store.
	job.Status = model.JobStatusFailed
	got, err := s.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobStatusQueued {
		t.Errorf("stored job mutated through caller pointer: %s", got.Status)
	}

	// And mutating a read result must not change the store.
	got.Status = model.JobStatusCancelled
	again, _ := s.GetJob(context.Background(), "j1")
	if again.Status != model.JobStatusQueued {
		t.Errorf("stored job mutated through read snapshot: %s", again.Status)
	}
}

func TestMemoryStoreUnknownJob(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetJob(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		s.SaveJob(context.Background(), &model.Job{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	jobs, err := s.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len = %d", len(jobs))
	}
	if jobs[0].ID != "new" || jobs[2].ID != "old" {
		t.Errorf("order = [%s %s %s], want newest first", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}
