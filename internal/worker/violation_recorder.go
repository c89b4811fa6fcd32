package worker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/config"
	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/storage"
)

// ViolationRecorder is the producer side of the violation pipeline: it bumps
// the attempt's durable counters in the vault and queues the full event for
// the archive worker. Failures are logged and swallowed — recording a
// violation must never disturb the exam.
type ViolationRecorder struct {
	rdb   *redis.Client
	vault storage.Vault
	log   zerolog.Logger
}

// NewViolationRecorder creates a ViolationRecorder.
func NewViolationRecorder(rdb *redis.Client, vault storage.Vault, log zerolog.Logger) *ViolationRecorder {
	return &ViolationRecorder{
		rdb:   rdb,
		vault: vault,
		log:   log.With().Str("component", "violation_recorder").Logger(),
	}
}

// Record persists the counters and enqueues the event for archiving.
func (r *ViolationRecorder) Record(ctx context.Context, event model.ViolationEvent) {
	if err := r.vault.RecordViolation(ctx, event.AttemptID, event.Type); err != nil {
		r.log.Error().Err(err).Str("attempt_id", event.AttemptID.String()).Msg("Counter persist failed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.log.Error().Err(err).Msg("Marshal violation event failed")
		return
	}
	if err := r.rdb.RPush(ctx, config.WorkerKey.ArchiveViolationsQueue, data).Err(); err != nil {
		r.log.Error().Err(err).Str("attempt_id", event.AttemptID.String()).Msg("Queue push failed")
	}
}
