package submit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/examapi"
	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/proctor"
	"github.com/prosetya/examgate/internal/storage"
	"github.com/prosetya/examgate/internal/store"
)

// API is the slice of the platform client the coordinator needs.
type API interface {
	SubmitAnswers(ctx context.Context, payload *model.SubmissionPayload) (uuid.UUID, error)
	FetchResult(ctx context.Context, resultID uuid.UUID) (*model.EvaluatedResult, error)
}

// Events receives submission progress for relay to the exam client.
type Events interface {
	ConfirmRequired(summary ConfirmSummary)
	StateChanged(state State)
	Completed(result *model.EvaluatedResult)
	SubmitFailed(reason string)
}

// ConfirmSummary is shown to the candidate before an incomplete or flagged
// attempt is finalized.
type ConfirmSummary struct {
	Unanswered int `json:"unanswered"`
	Flagged    int `json:"flagged"`
	Violations int `json:"violations"`
}

// Config carries the coordinator's retry policy for the result fetch. The
// submission write itself is never retried; duplicate-write risk is handled
// by treating the platform's conflict as success.
type Config struct {
	ResultFetchRetries int
	ResultFetchBackoff time.Duration
	// Sleep defaults to time.Sleep; injectable for tests.
	Sleep func(time.Duration)
}

// Coordinator orchestrates the end of a session: validation, confirmation,
// payload construction and the remote submission with recovery. A single
// in-flight latch guarantees the manual path and the timer's auto-submit
// path can never both execute the network submission.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	inFlight bool

	attempt model.Attempt
	store   *store.AttemptStore
	monitor *proctor.Monitor
	vault   storage.Vault
	api     API
	events  Events
	cfg     Config

	// onSubmitted runs once, after the session is terminally submitted:
	// the owner stops the timer and monitor and releases the session.
	onSubmitted   func()
	submittedOnce sync.Once

	log zerolog.Logger
}

// NewCoordinator creates a Coordinator in the Idle state.
func NewCoordinator(
	attempt model.Attempt,
	st *store.AttemptStore,
	monitor *proctor.Monitor,
	vault storage.Vault,
	api API,
	events Events,
	cfg Config,
	onSubmitted func(),
	log zerolog.Logger,
) *Coordinator {
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Coordinator{
		state:       StateIdle,
		attempt:     attempt,
		store:       st,
		monitor:     monitor,
		vault:       vault,
		api:         api,
		events:      events,
		cfg:         cfg,
		onSubmitted: onSubmitted,
		log:         log.With().Str("component", "submit").Str("attempt_id", attempt.ID.String()).Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestSubmit is the manual submission path. A complete, unflagged attempt
// finalizes directly; otherwise the candidate is asked to confirm and the
// coordinator waits for Confirm or Cancel.
func (c *Coordinator) RequestSubmit(ctx context.Context) {
	c.mu.Lock()
	if !c.transitionLocked(StateValidating) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.notifyState(StateValidating)

	summary := ConfirmSummary{
		Unanswered: len(c.store.Unanswered()),
		Flagged:    len(c.store.Flagged()),
		Violations: c.monitor.Summary(ctx).Total,
	}

	if summary.Unanswered == 0 && summary.Flagged == 0 {
		c.finalize(ctx)
		return
	}

	c.mu.Lock()
	if !c.transitionLocked(StateConfirming) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.notifyState(StateConfirming)
	c.events.ConfirmRequired(summary)
}

// Confirm proceeds with a submission the candidate has acknowledged.
// Only valid while Confirming.
func (c *Coordinator) Confirm(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateConfirming {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.finalize(ctx)
}

// Cancel abandons a pending confirmation and returns control to the session
// with no side effects.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConfirming {
		return
	}
	if c.transitionLocked(StateIdle) {
		defer c.notifyState(StateIdle)
	}
}

// AutoSubmit is the timer-expiry path. It skips confirmation entirely.
// Returns false when the session is still initializing so the timer re-arms
// the trigger instead of dropping it; any other outcome counts as accepted.
func (c *Coordinator) AutoSubmit(ctx context.Context) bool {
	if !c.store.Ready() {
		return false
	}
	c.log.Info().Msg("Timer expired, auto-submitting")
	c.finalize(ctx)
	return true
}

// finalize builds the payload and performs the remote submission exactly
// once. Concurrent callers while one submission is in flight are no-ops.
func (c *Coordinator) finalize(ctx context.Context) {
	c.mu.Lock()
	if c.inFlight || c.state == StateSucceeded {
		c.mu.Unlock()
		return
	}
	if !c.transitionLocked(StateSubmitting) {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()
	c.notifyState(StateSubmitting)

	questions, answers := c.store.Snapshot()
	payload := BuildPayload(c.attempt.ID, questions, answers, c.monitor.Summary(ctx))

	resultID, err := c.api.SubmitAnswers(ctx, payload)

	switch {
	case err == nil:
		c.succeed(ctx, resultID)

	case errors.Is(err, examapi.ErrAlreadySubmitted):
		// A prior auto-retry or expiry-triggered call already landed.
		// Idempotent recovery: identical to success for the candidate.
		c.log.Info().Msg("Duplicate submission conflict, treating as success")
		c.succeed(ctx, uuid.Nil)

	default:
		c.log.Error().Err(err).Msg("Submission failed")
		c.mu.Lock()
		c.inFlight = false
		c.transitionLocked(StateFailed)
		c.mu.Unlock()
		c.notifyState(StateFailed)
		// Answers stay in the vault; the candidate gets a retry affordance.
		c.events.SubmitFailed(err.Error())
	}
}

// Retry re-runs the submission after a failure.
func (c *Coordinator) Retry(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.finalize(ctx)
}

func (c *Coordinator) succeed(ctx context.Context, resultID uuid.UUID) {
	if err := c.vault.Clear(ctx, c.attempt.ID); err != nil {
		// The submission is acknowledged; a failed cleanup must not undo it.
		c.log.Error().Err(err).Msg("Vault clear failed after acknowledged submission")
	}

	c.mu.Lock()
	c.transitionLocked(StateSucceeded)
	c.mu.Unlock()
	c.notifyState(StateSucceeded)

	// Deliver the completion event before teardown detaches the client.
	c.events.Completed(c.fetchResult(ctx, resultID))

	c.submittedOnce.Do(func() {
		if c.onSubmitted != nil {
			c.onSubmitted()
		}
	})
}

// fetchResult polls the evaluated result with bounded retries and backoff.
// The platform may briefly report not-ready after the submission write; nil
// is returned when retries exhaust, never an error to the candidate.
func (c *Coordinator) fetchResult(ctx context.Context, resultID uuid.UUID) *model.EvaluatedResult {
	if resultID == uuid.Nil {
		return nil
	}

	for attempt := 0; attempt <= c.cfg.ResultFetchRetries; attempt++ {
		if attempt > 0 {
			c.cfg.Sleep(c.cfg.ResultFetchBackoff)
		}
		result, err := c.api.FetchResult(ctx, resultID)
		if err == nil {
			return result
		}
		if !errors.Is(err, examapi.ErrNotReady) {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("Result fetch failed")
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	c.log.Warn().Str("result_id", resultID.String()).Msg("Result not ready after retries")
	return nil
}

// transitionLocked applies a named transition. Caller holds the mutex.
func (c *Coordinator) transitionLocked(to State) bool {
	if !canTransition(c.state, to) {
		c.log.Warn().Str("from", string(c.state)).Str("to", string(to)).Msg("Rejected state transition")
		return false
	}
	from := c.state
	c.state = to
	c.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Submission state changed")
	return true
}

func (c *Coordinator) notifyState(state State) {
	if c.events != nil {
		c.events.StateChanged(state)
	}
}
