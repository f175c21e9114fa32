package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/storage"
)

// TaskTypePurgeBlob is the asynq task that removes a blob once its retention
// window has passed. The scheduler enqueues it with ProcessIn after a job
// succeeds, so raw uploads do not pile up on disk.
const TaskTypePurgeBlob = "storage:purge_blob"

type purgePayload struct {
	Ref string `json:"ref"`
}

// NewPurgeTask builds a delayed purge task for one blob.
func NewPurgeTask(ref storage.Ref) (*asynq.Task, error) {
	data, err := json.Marshal(purgePayload{Ref: ref.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePurgeBlob, data), nil
}

// Janitor processes purge tasks.
type Janitor struct {
	store *storage.LocalStore
	log   zerolog.Logger
}

// NewJanitor creates a janitor over the local store.
func NewJanitor(store *storage.LocalStore, log zerolog.Logger) *Janitor {
	return &Janitor{store: store, log: log.With().Str("component", "janitor").Logger()}
}

// ProcessTask deletes the blob named in the task. Deletion is idempotent, so
// re-delivery is harmless.
func (j *Janitor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p purgePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal purge payload: %w", err)
	}
	if err := j.store.Delete(storage.Ref(p.Ref)); err != nil {
		return err
	}
	j.log.Info().Str("ref", p.Ref).Msg("blob purged")
	return nil
}
