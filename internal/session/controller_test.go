package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/proctor"
	"github.com/prosetya/examgate/internal/storage"
	"github.com/prosetya/examgate/internal/submit"
)

// memVault is an in-memory Vault shared across controller restarts, which
// is exactly what reload recovery needs to exercise.
type memVault struct {
	mu         sync.Mutex
	answers    map[uuid.UUID]map[model.AnswerKey]model.AnswerValue
	flags      map[uuid.UUID]map[int]bool
	violations map[uuid.UUID]model.ViolationSummary
	starts     map[uuid.UUID]int64
}

func newMemVault() *memVault {
	return &memVault{
		answers:    make(map[uuid.UUID]map[model.AnswerKey]model.AnswerValue),
		flags:      make(map[uuid.UUID]map[int]bool),
		violations: make(map[uuid.UUID]model.ViolationSummary),
		starts:     make(map[uuid.UUID]int64),
	}
}

func (v *memVault) SaveAnswer(ctx context.Context, attemptID uuid.UUID, key model.AnswerKey, value model.AnswerValue) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.answers[attemptID] == nil {
		v.answers[attemptID] = make(map[model.AnswerKey]model.AnswerValue)
	}
	v.answers[attemptID][key] = value
	return nil
}

func (v *memVault) SaveFlag(ctx context.Context, attemptID uuid.UUID, position int, flagged bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.flags[attemptID] == nil {
		v.flags[attemptID] = make(map[int]bool)
	}
	if flagged {
		v.flags[attemptID][position] = true
	} else {
		delete(v.flags[attemptID], position)
	}
	return nil
}

func (v *memVault) RecordViolation(ctx context.Context, attemptID uuid.UUID, vt model.ViolationType) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.violations[attemptID]
	if s.ByType == nil {
		s.ByType = make(map[model.ViolationType]int)
	}
	s.Total++
	s.ByType[vt]++
	v.violations[attemptID] = s
	return nil
}

func (v *memVault) SaveStart(ctx context.Context, attemptID uuid.UUID, startedAtUnix int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.starts[attemptID] = startedAtUnix
	return nil
}

func (v *memVault) Load(ctx context.Context, attemptID uuid.UUID) (*storage.RestoredState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	state := &storage.RestoredState{
		Answers:       make(map[model.AnswerKey]model.AnswerValue),
		Flags:         make(map[int]bool),
		Violations:    v.violations[attemptID].Clone(),
		StartedAtUnix: v.starts[attemptID],
	}
	for k, val := range v.answers[attemptID] {
		state.Answers[k] = val
	}
	for pos := range v.flags[attemptID] {
		state.Flags[pos] = true
	}
	return state, nil
}

func (v *memVault) Clear(ctx context.Context, attemptID uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.answers, attemptID)
	delete(v.flags, attemptID)
	delete(v.violations, attemptID)
	delete(v.starts, attemptID)
	return nil
}

func (v *memVault) answerCount(attemptID uuid.UUID) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.answers[attemptID])
}

// fakePlatform implements PlatformAPI with an idempotent handshake.
type fakePlatform struct {
	mu        sync.Mutex
	attempt   model.Attempt
	paper     model.ExamPaper
	startErr  error
	paperErr  error
	submitErr error
	resultID  uuid.UUID
	submits   int
	// startHook, when set, runs at the top of StartSession outside the
	// lock; tests use it to hold several handshakes in flight at once.
	startHook func()
}

func (p *fakePlatform) StartSession(ctx context.Context, examID uuid.UUID, candidateID int) (*model.Attempt, error) {
	if p.startHook != nil {
		p.startHook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}
	a := p.attempt
	return &a, nil
}

func (p *fakePlatform) FetchQuestions(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paperErr != nil {
		return nil, p.paperErr
	}
	paper := p.paper
	paper.Questions = append([]model.Question(nil), p.paper.Questions...)
	return &paper, nil
}

func (p *fakePlatform) SubmitAnswers(ctx context.Context, payload *model.SubmissionPayload) (uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	if p.submitErr != nil {
		return uuid.Nil, p.submitErr
	}
	return p.resultID, nil
}

func (p *fakePlatform) FetchResult(ctx context.Context, resultID uuid.UUID) (*model.EvaluatedResult, error) {
	return &model.EvaluatedResult{ResultID: resultID, Score: 100}, nil
}

func (p *fakePlatform) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

// recordingSink captures every event pushed to the client.
type recordingSink struct {
	mu        sync.Mutex
	ticks     []int
	warnings  []string
	states    []submit.State
	completed int
	failed    []string
	confirms  int
}

func (s *recordingSink) Tick(remainingSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, remainingSeconds)
}

func (s *recordingSink) Warning(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, message)
}

func (s *recordingSink) WarningCleared() {}

func (s *recordingSink) Remediate(action string) {}

func (s *recordingSink) ConfirmRequired(summary submit.ConfirmSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirms++
}

func (s *recordingSink) StateChanged(state submit.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *recordingSink) Completed(result *model.EvaluatedResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
}

func (s *recordingSink) SubmitFailed(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, reason)
}

type vaultRecorder struct {
	vault storage.Vault
}

func (r *vaultRecorder) Record(ctx context.Context, event model.ViolationEvent) {
	_ = r.vault.RecordViolation(ctx, event.AttemptID, event.Type)
}

func newFakePlatform() *fakePlatform {
	examID := uuid.New()
	return &fakePlatform{
		attempt: model.Attempt{
			ID:              uuid.New(),
			ExamID:          examID,
			CandidateID:     7,
			DurationMinutes: 60,
			Status:          model.AttemptStatusInProgress,
		},
		paper: model.ExamPaper{
			ExamID: examID,
			Title:  "Networks Midterm",
			Questions: []model.Question{
				{ID: uuid.New(), Type: model.QuestionTypeSingleChoice, Text: "q1", Options: []string{"a", "b"}},
				{ID: uuid.New(), Type: model.QuestionTypeFreeText, Text: "q2"},
			},
		},
		resultID: uuid.New(),
	}
}

func testOptions(now func() time.Time) Options {
	return Options{
		TickInterval: time.Hour, // keep the background ticker quiet
		Proctor: proctor.Config{
			FocusDebounce:     time.Second,
			HeartbeatInterval: 5 * time.Second,
			HeartbeatGrace:    15 * time.Second,
			RemediationDelay:  time.Millisecond,
			WarningDuration:   time.Hour,
			Now:               now,
		},
		Submit: submit.Config{Sleep: func(time.Duration) {}},
		Now:    now,
	}
}

func startTestSession(t *testing.T, platform *fakePlatform, vault *memVault) *Controller {
	t.Helper()
	now := time.Unix(9000, 0)
	c, err := Start(
		context.Background(), 7, platform.attempt.ExamID,
		platform, vault, &vaultRecorder{vault: vault},
		testOptions(func() time.Time { return now }),
		nil, zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestStartRejectsSubmittedAttempt(t *testing.T) {
	platform := newFakePlatform()
	platform.attempt.Status = model.AttemptStatusSubmitted

	_, err := Start(context.Background(), 7, platform.attempt.ExamID,
		platform, newMemVault(), nil, testOptions(nil), nil, zerolog.Nop())

	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("err = %v, want ErrInitFailed", err)
	}
}

func TestStartFailsOnEmptyPaper(t *testing.T) {
	platform := newFakePlatform()
	platform.paper.Questions = nil

	_, err := Start(context.Background(), 7, platform.attempt.ExamID,
		platform, newMemVault(), nil, testOptions(nil), nil, zerolog.Nop())

	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("err = %v, want ErrInitFailed", err)
	}
}

func TestStartFailsOnHandshakeError(t *testing.T) {
	platform := newFakePlatform()
	platform.startErr = errors.New("upstream 503")

	_, err := Start(context.Background(), 7, platform.attempt.ExamID,
		platform, newMemVault(), nil, testOptions(nil), nil, zerolog.Nop())

	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("err = %v, want ErrInitFailed", err)
	}
}

func TestMalformedQuestionsDegradeToFallback(t *testing.T) {
	platform := newFakePlatform()
	platform.paper.Questions = append(platform.paper.Questions,
		model.Question{ID: uuid.New(), Type: "MATRIX", Text: "unsupported"},
		model.Question{ID: uuid.New(), Type: model.QuestionTypeSingleChoice}, // no text, no options
	)

	c := startTestSession(t, platform, newMemVault())

	questions := c.Paper().Questions
	if len(questions) != 4 {
		t.Fatalf("questions = %d, want all 4 kept", len(questions))
	}
	if !questions[2].Fallback || !questions[3].Fallback {
		t.Fatal("malformed questions must be marked as fallback")
	}
	if questions[0].Fallback || questions[1].Fallback {
		t.Fatal("well-formed questions must not be fallback")
	}
}

func TestFullLifecycleManualSubmit(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	vault := newMemVault()
	released := 0

	now := time.Unix(9000, 0)
	c, err := Start(ctx, 7, platform.attempt.ExamID,
		platform, vault, &vaultRecorder{vault: vault},
		testOptions(func() time.Time { return now }),
		func(*Controller) { released++ }, zerolog.Nop())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sink := &recordingSink{}
	c.Attach(sink)

	questions := c.Paper().Questions
	c.SetAnswer(ctx, 0, questions[0].ID, model.AnswerValue{Single: "a"})
	c.SetAnswer(ctx, 1, questions[1].ID, model.AnswerValue{Text: "short essay"})
	c.Signal(ctx, proctor.SignalCopy, "")

	c.RequestSubmit(ctx)

	if got := c.SubmitState(); got != submit.StateSucceeded {
		t.Fatalf("submit state = %s, want SUCCEEDED", got)
	}
	if platform.submitCount() != 1 {
		t.Fatalf("platform submits = %d, want 1", platform.submitCount())
	}
	if vault.answerCount(c.Attempt.ID) != 0 {
		t.Fatal("vault must be cleared after success")
	}
	if sink.completed != 1 {
		t.Fatalf("completed events = %d, want 1", sink.completed)
	}
	if released != 1 {
		t.Fatalf("release hook ran %d times, want 1", released)
	}

	// Teardown already ran via onSubmitted; a second Stop is a no-op.
	c.Stop()
	if released != 1 {
		t.Fatal("Stop must be idempotent")
	}
}

func TestReloadRestoresAnswersFlagsAndViolations(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	vault := newMemVault()

	first := startTestSession(t, platform, vault)
	questions := first.Paper().Questions
	first.SetAnswer(ctx, 0, questions[0].ID, model.AnswerValue{Single: "b"})
	first.ToggleFlag(ctx, 1)
	first.Signal(ctx, proctor.SignalFullscreenExit, "")
	first.Stop() // browser closed; nothing submitted

	second := startTestSession(t, platform, vault)
	state := second.State(ctx)

	key := model.AnswerKey{Position: 0, QuestionID: questions[0].ID}
	if got := state.Answers[key.String()]; got.Single != "b" {
		t.Fatalf("restored answer = %+v, want Single=b", got)
	}
	if len(state.Flagged) != 1 || state.Flagged[0] != 1 {
		t.Fatalf("restored flags = %v, want [1]", state.Flagged)
	}
	if state.Violations.Total != 1 || state.Violations.ByType[model.ViolationFullscreenExit] != 1 {
		t.Fatalf("restored violations = %+v, want one fullscreen exit", state.Violations)
	}
	if state.SubmitState != submit.StateIdle {
		t.Fatalf("submit state = %s, want IDLE on a fresh mount", state.SubmitState)
	}
}

func TestDeadlineAnchoredOnOriginalStart(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	started := time.Unix(9000, 0)
	platform.attempt.StartedAt = started

	// Rejoin 50 minutes into a 60-minute attempt.
	now := started.Add(50 * time.Minute)
	c, err := Start(ctx, 7, platform.attempt.ExamID,
		platform, newMemVault(), nil,
		testOptions(func() time.Time { return now }),
		nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if got := c.State(ctx).RemainingSeconds; got != 600 {
		t.Fatalf("remaining = %ds, want 600 (duration not reset on rejoin)", got)
	}
}

func TestStateOmitsEmptyAnswers(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	c := startTestSession(t, platform, newMemVault())

	c.SetAnswer(ctx, 0, c.Paper().Questions[0].ID, model.AnswerValue{Single: "a"})

	state := c.State(ctx)
	if len(state.Answers) != 1 {
		t.Fatalf("state answers = %d, want only the non-empty one", len(state.Answers))
	}
}

func TestEventsDroppedWhileDetached(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	c := startTestSession(t, platform, newMemVault())

	sink := &recordingSink{}
	c.Attach(sink)
	c.Detach()

	// No sink attached: the violation is still counted, nothing panics.
	c.Signal(ctx, proctor.SignalCopy, "")

	if got := c.State(ctx).Violations.Total; got != 1 {
		t.Fatalf("violations = %d, want 1 even while detached", got)
	}
	if len(sink.warnings) != 0 {
		t.Fatal("detached sink must not receive events")
	}
}

func TestRegistryIdempotentPerCandidateExam(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	vault := newMemVault()
	registry := NewRegistry(platform, vault, &vaultRecorder{vault: vault},
		testOptions(nil), zerolog.Nop())
	defer registry.Shutdown()

	first, err := registry.Start(ctx, 7, platform.attempt.ExamID)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := registry.Start(ctx, 7, platform.attempt.ExamID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first != second {
		t.Fatal("re-joining must return the same controller")
	}

	got, err := registry.Get(first.Attempt.ID)
	if err != nil || got != first {
		t.Fatalf("Get = %v, %v; want the active controller", got, err)
	}
}

func TestRegistryConcurrentDoubleStart(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	vault := newMemVault()
	registry := NewRegistry(platform, vault, &vaultRecorder{vault: vault},
		testOptions(nil), zerolog.Nop())
	defer registry.Shutdown()

	// Hold both handshakes in flight so both callers pass the fast-path
	// lookup before either registers.
	entered := make(chan struct{}, 2)
	proceed := make(chan struct{})
	platform.startHook = func() {
		entered <- struct{}{}
		<-proceed
	}

	results := make(chan *Controller, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := registry.Start(ctx, 7, platform.attempt.ExamID)
			results <- c
			errs <- err
		}()
	}
	<-entered
	<-entered
	close(proceed)

	first, second := <-results, <-results
	if err := <-errs; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first != second {
		t.Fatal("racing starts must converge on one controller")
	}

	// Stopping the losing duplicate must not evict the survivor.
	got, err := registry.Get(first.Attempt.ID)
	if err != nil {
		t.Fatalf("Get after double start: %v", err)
	}
	if got != first {
		t.Fatal("registry must still hold the surviving controller")
	}
}

func TestRegistryReleasesOnStop(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform()
	vault := newMemVault()
	registry := NewRegistry(platform, vault, nil, testOptions(nil), zerolog.Nop())

	c, err := registry.Start(ctx, 7, platform.attempt.ExamID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()

	if _, err := registry.Get(c.Attempt.ID); err == nil {
		t.Fatal("stopped session must leave the registry")
	}
}
