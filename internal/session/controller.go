package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/proctor"
	"github.com/prosetya/examgate/internal/storage"
	"github.com/prosetya/examgate/internal/store"
	"github.com/prosetya/examgate/internal/submit"
	"github.com/prosetya/examgate/internal/timer"
)

// ErrInitFailed marks a failure during the start flow. Initialization
// failures are fatal: no partial session is ever started.
var ErrInitFailed = errors.New("session initialization failed")

// PlatformAPI is the slice of the platform client the controller needs.
type PlatformAPI interface {
	StartSession(ctx context.Context, examID uuid.UUID, candidateID int) (*model.Attempt, error)
	FetchQuestions(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
	submit.API
}

// Options bundles the tunables a Controller needs from config.
type Options struct {
	TickInterval time.Duration
	Proctor      proctor.Config
	Submit       submit.Config
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Controller wires one attempt's state store, timer engine, security
// monitor and submission coordinator together. Each collaborator is
// injected with exactly the dependencies it may touch: the monitor never
// sees answers, the timer only checks readiness, and only the store and
// the coordinator's clear-on-success path mutate answer state.
type Controller struct {
	Attempt model.Attempt

	paper       *model.ExamPaper
	store       *store.AttemptStore
	engine      *timer.Engine
	monitor     *proctor.Monitor
	coordinator *submit.Coordinator
	relay       *eventRelay

	vault storage.Vault
	log   zerolog.Logger

	stopOnce  sync.Once
	onRelease func(c *Controller)
}

// Start runs the session start flow: handshake, question fetch, vault
// restore, store initialization, then timer and monitor startup. Any error
// before the store is initialized aborts the whole session.
func Start(
	ctx context.Context,
	candidateID int,
	examID uuid.UUID,
	api PlatformAPI,
	vault storage.Vault,
	recorder proctor.Recorder,
	opts Options,
	onRelease func(c *Controller),
	log zerolog.Logger,
) (*Controller, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	attempt, err := api.StartSession(ctx, examID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	if attempt.Status == model.AttemptStatusSubmitted {
		return nil, fmt.Errorf("%w: attempt already submitted", ErrInitFailed)
	}

	paper, err := api.FetchQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	paper.Questions = sanitizeQuestions(paper.Questions, log)
	if len(paper.Questions) == 0 {
		return nil, fmt.Errorf("%w: exam has no questions", ErrInitFailed)
	}

	restored, err := vault.Load(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: restore persisted state: %v", ErrInitFailed, err)
	}

	// The platform's start instant anchors the absolute deadline. Fall back
	// to the vault's cached instant, then to now (fresh attempt).
	startedAt := attempt.StartedAt
	if startedAt.IsZero() && restored.StartedAtUnix > 0 {
		startedAt = time.Unix(restored.StartedAtUnix, 0)
	}
	if startedAt.IsZero() {
		startedAt = now()
	}
	attempt.StartedAt = startedAt
	if err := vault.SaveStart(ctx, attempt.ID, startedAt.Unix()); err != nil {
		log.Warn().Err(err).Msg("Failed to cache attempt start time")
	}

	c := &Controller{
		Attempt:   *attempt,
		paper:     paper,
		relay:     &eventRelay{},
		vault:     vault,
		onRelease: onRelease,
		log:       log.With().Str("component", "session").Str("attempt_id", attempt.ID.String()).Logger(),
	}

	c.store = store.New(attempt.ID, vault, log)
	c.store.Initialize(paper.Questions, restored)

	c.monitor = proctor.NewMonitor(*attempt, opts.Proctor, c.relay, recorder, log)
	c.monitor.Seed(restored.Violations)

	c.coordinator = submit.NewCoordinator(
		*attempt, c.store, c.monitor, vault, api, c.relay,
		opts.Submit, c.Stop, log,
	)

	deadline := startedAt.Add(time.Duration(attempt.DurationMinutes) * time.Minute)
	c.engine = timer.New(timer.Config{
		Deadline: deadline,
		Interval: opts.TickInterval,
		Now:      opts.Now,
		OnTick: func(remaining time.Duration) {
			c.relay.Tick(int(remaining / time.Second))
		},
		OnExpire: func() bool {
			return c.coordinator.AutoSubmit(context.Background())
		},
	}, log)
	c.engine.Start()

	c.log.Info().
		Str("exam_id", examID.String()).
		Int("questions", len(paper.Questions)).
		Time("deadline", deadline).
		Msg("Session started")

	return c, nil
}

// Attach connects the client's event sink (WebSocket) to the session.
func (c *Controller) Attach(sink ClientEvents) { c.relay.Attach(sink) }

// Detach disconnects the event sink. The session keeps running.
func (c *Controller) Detach() { c.relay.Detach() }

// Paper returns the renderable exam.
func (c *Controller) Paper() *model.ExamPaper { return c.paper }

// SetAnswer records a candidate's answer.
func (c *Controller) SetAnswer(ctx context.Context, position int, questionID uuid.UUID, value model.AnswerValue) {
	c.store.SetAnswer(ctx, position, questionID, value)
}

// ToggleFlag toggles the flagged marker on a position.
func (c *Controller) ToggleFlag(ctx context.Context, position int) {
	c.store.ToggleFlag(ctx, position)
}

// SetCursor records the candidate's current position.
func (c *Controller) SetCursor(position int) { c.store.SetCursor(position) }

// Signal feeds a proctoring signal to the security monitor.
func (c *Controller) Signal(ctx context.Context, sig proctor.Signal, detail string) {
	c.monitor.Observe(ctx, sig, detail)
}

// Heartbeat records a periodic client ping.
func (c *Controller) Heartbeat(ctx context.Context) { c.monitor.Heartbeat(ctx) }

// RequestSubmit starts the manual submission path.
func (c *Controller) RequestSubmit(ctx context.Context) { c.coordinator.RequestSubmit(ctx) }

// ConfirmSubmit acknowledges a pending confirmation.
func (c *Controller) ConfirmSubmit(ctx context.Context) { c.coordinator.Confirm(ctx) }

// CancelSubmit abandons a pending confirmation.
func (c *Controller) CancelSubmit() { c.coordinator.Cancel() }

// RetrySubmit re-runs a failed submission.
func (c *Controller) RetrySubmit(ctx context.Context) { c.coordinator.Retry(ctx) }

// State is the reload/recovery view: everything the client needs to rebuild
// its rendering after a refresh.
type State struct {
	Attempt          model.Attempt                `json:"attempt"`
	RemainingSeconds int                          `json:"remaining_seconds"`
	Answers          map[string]model.AnswerValue `json:"answers"`
	Flagged          []int                        `json:"flagged"`
	Cursor           int                          `json:"cursor"`
	Violations       model.ViolationSummary       `json:"violations"`
	SubmitState      submit.State                 `json:"submit_state"`
	WarningVisible   bool                         `json:"warning_visible"`
}

// State snapshots the current session for the state endpoint.
func (c *Controller) State(ctx context.Context) *State {
	_, answers := c.store.Snapshot()
	out := make(map[string]model.AnswerValue, len(answers))
	for k, v := range answers {
		if !v.IsEmpty() {
			out[k.String()] = v
		}
	}
	return &State{
		Attempt:          c.Attempt,
		RemainingSeconds: int(c.engine.Remaining() / time.Second),
		Answers:          out,
		Flagged:          c.store.Flagged(),
		Cursor:           c.store.Cursor(),
		Violations:       c.monitor.Summary(ctx),
		SubmitState:      c.coordinator.State(),
		WarningVisible:   c.monitor.WarningVisible(),
	}
}

// SubmitState returns the coordinator's lifecycle state.
func (c *Controller) SubmitState() submit.State { return c.coordinator.State() }

// Stop tears the session down: timer first so no further auto-submit can
// fire, then the monitor. Idempotent and safe on every exit path.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.engine.Stop()
		c.monitor.Close()
		c.relay.Detach()
		if c.onRelease != nil {
			c.onRelease(c)
		}
		c.log.Info().Msg("Session stopped")
	})
}

// sanitizeQuestions degrades malformed entries to placeholder questions
// instead of aborting the session, per the graceful-degradation policy.
func sanitizeQuestions(questions []model.Question, log zerolog.Logger) []model.Question {
	out := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		switch q.Type {
		case model.QuestionTypeSingleChoice, model.QuestionTypeMultipleChoice:
			if q.Text == "" || len(q.Options) == 0 {
				q.Fallback = true
			}
		case model.QuestionTypeFreeText:
			if q.Text == "" {
				q.Fallback = true
			}
		default:
			log.Warn().Str("question_id", q.ID.String()).Str("type", string(q.Type)).Msg("Unknown question type, rendering fallback")
			q.Type = model.QuestionTypeSingleChoice
			q.Fallback = true
		}
		out = append(out, q)
	}
	return out
}
