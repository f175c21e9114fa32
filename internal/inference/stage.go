package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/model"
	"github.com/voxpipe/api/internal/storage"
)

// Extractor cuts one diarized span out of the normalized recording. The
// transform runner satisfies this.
type Extractor interface {
	ExtractSegment(ctx context.Context, in storage.Ref, jobID string, idx int, start, dur float64) (storage.Ref, error)
}

// Stage performs one bounded unit of accelerator work per job attempt:
// diarize the normalized recording, transcribe every usable turn, persist the
// transcript through the storage manager. Calling it without a held lease is
// a programming error, not a recoverable outcome.
type Stage struct {
	engine     Engine
	extractor  Extractor
	store      *storage.LocalStore
	minSegment float64
	log        zerolog.Logger
}

// NewStage wires the stage. minSegment is the shortest turn worth
// transcribing, in seconds; shorter turns are kept in the transcript but
// marked skipped.
func NewStage(engine Engine, extractor Extractor, store *storage.LocalStore, minSegment float64, log zerolog.Logger) *Stage {
	if minSegment <= 0 {
		minSegment = 0.5
	}
	return &Stage{
		engine:     engine,
		extractor:  extractor,
		store:      store,
		minSegment: minSegment,
		log:        log.With().Str("component", "inference").Logger(),
	}
}

// Infer runs diarization and transcription for one job and writes
// outputs/<jobID>/transcript.json. The returned segments are also handed back
// so the scheduler can store them on the job record.
func (s *Stage) Infer(ctx context.Context, jobID string, intermediate storage.Ref, language string, lease Lease, progress func(pct int, step string)) (storage.Ref, []model.TranscriptSegment, error) {
	if lease == nil || !lease.Valid() || lease.JobID() != jobID {
		return "", nil, ErrPreconditionViolation
	}
	if progress == nil {
		progress = func(int, string) {}
	}

	audioPath, err := s.store.Path(intermediate)
	if err != nil {
		return "", nil, &Error{Kind: KindModelFailure, Msg: fmt.Sprintf("intermediate %s unavailable", intermediate), Err: err}
	}

	progress(40, "Running speaker diarization...")
	turns, err := s.engine.Diarize(ctx, audioPath)
	if err != nil {
		return "", nil, err
	}
	if len(turns) == 0 {
		return "", nil, &Error{Kind: KindModelFailure, Msg: "no speech detected in audio"}
	}
	s.log.Info().Str("job", jobID).Int("turns", len(turns)).Msg("diarization complete")

	segments := make([]model.TranscriptSegment, 0, len(turns))
	for i, turn := range turns {
		dur := turn.End - turn.Start
		seg := model.TranscriptSegment{
			Start:    turn.Start,
			End:      turn.End,
			Speaker:  turn.Speaker,
			Duration: dur,
		}

		if dur < s.minSegment {
			seg.Text = "[skipped: too short]"
			seg.Skipped = true
			segments = append(segments, seg)
			continue
		}

		chunkRef, err := s.extractor.ExtractSegment(ctx, intermediate, jobID, i, turn.Start, dur)
		if err != nil {
			return "", nil, &Error{Kind: KindModelFailure, Msg: fmt.Sprintf("segment %d extraction failed", i), Err: err}
		}

		chunkPath, err := s.store.Path(chunkRef)
		if err != nil {
			return "", nil, &Error{Kind: KindModelFailure, Msg: fmt.Sprintf("segment %d chunk missing", i), Err: err}
		}

		text, err := s.engine.Transcribe(ctx, chunkPath, language)
		// The chunk is scratch either way.
		_ = s.store.Delete(chunkRef)
		if err != nil {
			return "", nil, err
		}
		seg.Text = text
		segments = append(segments, seg)

		pct := 50 + (45*(i+1))/len(turns)
		progress(pct, fmt.Sprintf("Transcribed segment %d/%d", i+1, len(turns)))
	}

	data, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return "", nil, &Error{Kind: KindModelFailure, Msg: "failed to encode transcript", Err: err}
	}
	outRef, err := s.store.Put(storage.KindOutput, jobID+"/transcript.json", bytes.NewReader(data))
	if err != nil {
		return "", nil, err
	}

	s.log.Info().Str("job", jobID).Str("ref", outRef.String()).
		Int("segments", len(segments)).Msg("transcript written")
	return outRef, segments, nil
}

// Health reports accelerator availability from the engine.
func (s *Stage) Health(ctx context.Context) (Health, error) {
	return s.engine.Health(ctx)
}
