package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/config"
	"github.com/prosetya/examgate/internal/model"
)

// Vault durably persists in-progress attempt state (answers, flags,
// violation counters) so a page reload or gateway restart restores it.
// Writes happen synchronously after every in-memory change, so a crash
// loses at most the in-flight change. Cleared only on confirmed
// successful submission.
type Vault interface {
	SaveAnswer(ctx context.Context, attemptID uuid.UUID, key model.AnswerKey, value model.AnswerValue) error
	SaveFlag(ctx context.Context, attemptID uuid.UUID, position int, flagged bool) error
	RecordViolation(ctx context.Context, attemptID uuid.UUID, vt model.ViolationType) error
	SaveStart(ctx context.Context, attemptID uuid.UUID, startedAtUnix int64) error
	Load(ctx context.Context, attemptID uuid.UUID) (*RestoredState, error)
	Clear(ctx context.Context, attemptID uuid.UUID) error
}

// RestoredState is everything the vault can recover for one attempt.
type RestoredState struct {
	Answers       map[model.AnswerKey]model.AnswerValue
	Flags         map[int]bool
	Violations    model.ViolationSummary
	StartedAtUnix int64 // 0 when unknown
}

// RedisVault stores attempt state in Redis hashes under well-known keys.
type RedisVault struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisVault creates a RedisVault.
func NewRedisVault(rdb *redis.Client, log zerolog.Logger) *RedisVault {
	return &RedisVault{
		rdb: rdb,
		log: log.With().Str("component", "vault").Logger(),
	}
}

func (v *RedisVault) SaveAnswer(ctx context.Context, attemptID uuid.UUID, key model.AnswerKey, value model.AnswerValue) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	if err := v.rdb.HSet(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String()), key.String(), data).Err(); err != nil {
		return fmt.Errorf("persist answer: %w", err)
	}
	return nil
}

func (v *RedisVault) SaveFlag(ctx context.Context, attemptID uuid.UUID, position int, flagged bool) error {
	key := config.CacheKey.AttemptFlagsKey(attemptID.String())
	field := strconv.Itoa(position)
	var err error
	if flagged {
		err = v.rdb.HSet(ctx, key, field, "1").Err()
	} else {
		err = v.rdb.HDel(ctx, key, field).Err()
	}
	if err != nil {
		return fmt.Errorf("persist flag: %w", err)
	}
	return nil
}

func (v *RedisVault) RecordViolation(ctx context.Context, attemptID uuid.UUID, vt model.ViolationType) error {
	key := config.CacheKey.AttemptViolationsKey(attemptID.String())
	pipe := v.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, string(vt), 1)
	pipe.HIncrBy(ctx, key, "total", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist violation: %w", err)
	}
	return nil
}

func (v *RedisVault) SaveStart(ctx context.Context, attemptID uuid.UUID, startedAtUnix int64) error {
	if err := v.rdb.Set(ctx, config.CacheKey.AttemptStartKey(attemptID.String()), startedAtUnix, 0).Err(); err != nil {
		return fmt.Errorf("persist start time: %w", err)
	}
	return nil
}

// Load restores everything the vault holds for the attempt. Malformed
// entries are skipped with a warning rather than failing the restore —
// losing one stale entry is better than refusing to resume the session.
func (v *RedisVault) Load(ctx context.Context, attemptID uuid.UUID) (*RestoredState, error) {
	id := attemptID.String()
	state := &RestoredState{
		Answers: make(map[model.AnswerKey]model.AnswerValue),
		Flags:   make(map[int]bool),
	}

	answers, err := v.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	for field, raw := range answers {
		key, err := model.ParseAnswerKey(field)
		if err != nil {
			v.log.Warn().Err(err).Str("attempt_id", id).Msg("Skipping malformed answer key")
			continue
		}
		var val model.AnswerValue
		if err := json.Unmarshal([]byte(raw), &val); err != nil {
			v.log.Warn().Err(err).Str("attempt_id", id).Str("key", field).Msg("Skipping malformed answer value")
			continue
		}
		state.Answers[key] = val
	}

	flags, err := v.rdb.HGetAll(ctx, config.CacheKey.AttemptFlagsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	for field := range flags {
		pos, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		state.Flags[pos] = true
	}

	violations, err := v.rdb.HGetAll(ctx, config.CacheKey.AttemptViolationsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load violations: %w", err)
	}
	for field, raw := range violations {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if field == "total" {
			state.Violations.Total = n
			continue
		}
		if state.Violations.ByType == nil {
			state.Violations.ByType = make(map[model.ViolationType]int)
		}
		state.Violations.ByType[model.ViolationType(field)] = n
	}

	start, err := v.rdb.Get(ctx, config.CacheKey.AttemptStartKey(id)).Result()
	if err == nil {
		if n, perr := strconv.ParseInt(start, 10, 64); perr == nil {
			state.StartedAtUnix = n
		}
	} else if err != redis.Nil {
		return nil, fmt.Errorf("load start time: %w", err)
	}

	return state, nil
}

// Clear deletes every key the vault holds for the attempt. Called exactly
// once, after the platform acknowledged the submission.
func (v *RedisVault) Clear(ctx context.Context, attemptID uuid.UUID) error {
	id := attemptID.String()
	if err := v.rdb.Del(ctx,
		config.CacheKey.AttemptAnswersKey(id),
		config.CacheKey.AttemptFlagsKey(id),
		config.CacheKey.AttemptViolationsKey(id),
		config.CacheKey.AttemptStartKey(id),
	).Err(); err != nil {
		return fmt.Errorf("clear attempt state: %w", err)
	}
	return nil
}
