package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/storage"
)

// fakeVault records writes in memory and can be told to fail.
type fakeVault struct {
	answers    map[model.AnswerKey]model.AnswerValue
	flags      map[int]bool
	violations map[model.ViolationType]int
	startedAt  int64
	cleared    bool
	failWrites bool
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		answers:    make(map[model.AnswerKey]model.AnswerValue),
		flags:      make(map[int]bool),
		violations: make(map[model.ViolationType]int),
	}
}

func (v *fakeVault) SaveAnswer(ctx context.Context, attemptID uuid.UUID, key model.AnswerKey, value model.AnswerValue) error {
	if v.failWrites {
		return errors.New("vault down")
	}
	v.answers[key] = value
	return nil
}

func (v *fakeVault) SaveFlag(ctx context.Context, attemptID uuid.UUID, position int, flagged bool) error {
	if v.failWrites {
		return errors.New("vault down")
	}
	if flagged {
		v.flags[position] = true
	} else {
		delete(v.flags, position)
	}
	return nil
}

func (v *fakeVault) RecordViolation(ctx context.Context, attemptID uuid.UUID, vt model.ViolationType) error {
	v.violations[vt]++
	return nil
}

func (v *fakeVault) SaveStart(ctx context.Context, attemptID uuid.UUID, startedAtUnix int64) error {
	v.startedAt = startedAtUnix
	return nil
}

func (v *fakeVault) Load(ctx context.Context, attemptID uuid.UUID) (*storage.RestoredState, error) {
	return &storage.RestoredState{
		Answers:       v.answers,
		Flags:         v.flags,
		StartedAtUnix: v.startedAt,
	}, nil
}

func (v *fakeVault) Clear(ctx context.Context, attemptID uuid.UUID) error {
	v.cleared = true
	v.answers = make(map[model.AnswerKey]model.AnswerValue)
	v.flags = make(map[int]bool)
	return nil
}

func testQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:      uuid.New(),
			Type:    model.QuestionTypeSingleChoice,
			Text:    "question",
			Options: []string{"a", "b", "c"},
		}
	}
	return qs
}

func newTestStore(t *testing.T, questions []model.Question, restored *storage.RestoredState) (*AttemptStore, *fakeVault) {
	t.Helper()
	vault := newFakeVault()
	s := New(uuid.New(), vault, zerolog.Nop())
	s.Initialize(questions, restored)
	return s, vault
}

func TestSetAnswerShapeMismatchIgnored(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(2) // single choice
	s, vault := newTestStore(t, questions, nil)

	// A multi-select value on a single-choice question carries nothing the
	// payload could serialize; counting it as answered would desync the
	// confirmation summary from the submission.
	s.SetAnswer(ctx, 0, questions[0].ID, model.AnswerValue{Multi: []string{"a", "b"}})

	if s.IsAnswered(0, questions[0].ID) {
		t.Fatal("mismatched shape must not count as answered")
	}
	if len(vault.answers) != 0 {
		t.Fatal("mismatched shape must not reach the vault")
	}
	if got := len(s.Unanswered()); got != 2 {
		t.Fatalf("unanswered = %d, want 2", got)
	}
}

func TestSetAnswerStripsForeignFields(t *testing.T) {
	ctx := context.Background()
	questions := []model.Question{
		{ID: uuid.New(), Type: model.QuestionTypeFreeText, Text: "essay"},
	}
	s, vault := newTestStore(t, questions, nil)

	s.SetAnswer(ctx, 0, questions[0].ID, model.AnswerValue{Text: "draft", Single: "a"})

	key := model.AnswerKey{Position: 0, QuestionID: questions[0].ID}
	_, answers := s.Snapshot()
	if got := answers[key]; got.Text != "draft" || got.Single != "" {
		t.Fatalf("stored value = %+v, want only Text kept", got)
	}
	if got := vault.answers[key]; got.Single != "" {
		t.Fatalf("vault value = %+v, want the foreign field stripped", got)
	}
}

func TestInitializeSeedsEmptyEntries(t *testing.T) {
	questions := testQuestions(3)
	s, _ := newTestStore(t, questions, nil)

	if !s.Ready() {
		t.Fatal("store not ready after Initialize")
	}
	unanswered := s.Unanswered()
	if len(unanswered) != 3 {
		t.Fatalf("unanswered = %d, want 3", len(unanswered))
	}
	for i, key := range unanswered {
		if key.Position != i || key.QuestionID != questions[i].ID {
			t.Errorf("entry %d = %v, want position %d question %s", i, key, i, questions[i].ID)
		}
	}
}

func TestSetAnswerPersistsThroughVault(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(2)
	s, vault := newTestStore(t, questions, nil)

	val := model.AnswerValue{Single: "b"}
	s.SetAnswer(ctx, 1, questions[1].ID, val)

	if !s.IsAnswered(1, questions[1].ID) {
		t.Fatal("answer not recorded")
	}
	key := model.AnswerKey{Position: 1, QuestionID: questions[1].ID}
	if got := vault.answers[key]; got.Single != "b" {
		t.Fatalf("vault holds %v, want Single=b", got)
	}
}

func TestSetAnswerKeyMismatchIgnored(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(2)
	s, vault := newTestStore(t, questions, nil)

	// Key pairs position 0 with question 1's id: no match, no write.
	s.SetAnswer(ctx, 0, questions[1].ID, model.AnswerValue{Single: "a"})

	if s.IsAnswered(0, questions[0].ID) {
		t.Error("mismatched key mutated answer state")
	}
	if len(vault.answers) != 0 {
		t.Error("mismatched key reached the vault")
	}
}

func TestSetAnswerVaultFailureKeepsMemoryWrite(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(1)
	s, vault := newTestStore(t, questions, nil)
	vault.failWrites = true

	s.SetAnswer(ctx, 0, questions[0].ID, model.AnswerValue{Single: "a"})

	if !s.IsAnswered(0, questions[0].ID) {
		t.Error("in-memory write should stand when the vault errors")
	}
}

func TestRestoreReconcilesByQuestionID(t *testing.T) {
	questions := testQuestions(3)

	// Stored under the previous order: question 2 was at position 0.
	restored := &storage.RestoredState{
		Answers: map[model.AnswerKey]model.AnswerValue{
			{Position: 0, QuestionID: questions[2].ID}: {Single: "c"},
			{Position: 2, QuestionID: questions[0].ID}: {Text: "essay"},
		},
	}
	s, _ := newTestStore(t, questions, restored)

	if !s.IsAnswered(2, questions[2].ID) {
		t.Error("answer for question 2 not restored to its new position")
	}
	if !s.IsAnswered(0, questions[0].ID) {
		t.Error("answer for question 0 not restored to its new position")
	}
	if s.IsAnswered(1, questions[1].ID) {
		t.Error("question 1 should stay unanswered")
	}
}

func TestRestoreDuplicateIDsMatchInStoredOrder(t *testing.T) {
	dup := uuid.New()
	questions := []model.Question{
		{ID: dup, Type: model.QuestionTypeSingleChoice, Text: "first"},
		{ID: dup, Type: model.QuestionTypeSingleChoice, Text: "second"},
	}
	restored := &storage.RestoredState{
		Answers: map[model.AnswerKey]model.AnswerValue{
			{Position: 1, QuestionID: dup}: {Single: "late"},
			{Position: 0, QuestionID: dup}: {Single: "early"},
		},
	}
	s, _ := newTestStore(t, questions, restored)

	_, answers := s.Snapshot()
	if got := answers[model.AnswerKey{Position: 0, QuestionID: dup}]; got.Single != "early" {
		t.Errorf("position 0 = %q, want early", got.Single)
	}
	if got := answers[model.AnswerKey{Position: 1, QuestionID: dup}]; got.Single != "late" {
		t.Errorf("position 1 = %q, want late", got.Single)
	}
}

func TestRestoreForUnknownQuestionDropped(t *testing.T) {
	questions := testQuestions(1)
	restored := &storage.RestoredState{
		Answers: map[model.AnswerKey]model.AnswerValue{
			{Position: 5, QuestionID: uuid.New()}: {Single: "orphan"},
		},
	}
	s, _ := newTestStore(t, questions, restored)

	if got := len(s.Unanswered()); got != 1 {
		t.Fatalf("unanswered = %d, want 1", got)
	}
}

func TestToggleFlagRoundTrip(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(3)
	s, vault := newTestStore(t, questions, nil)

	s.ToggleFlag(ctx, 2)
	s.ToggleFlag(ctx, 0)
	if got := s.Flagged(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("flagged = %v, want [0 2]", got)
	}
	if !vault.flags[2] || !vault.flags[0] {
		t.Error("flags not persisted")
	}

	s.ToggleFlag(ctx, 2)
	if got := s.Flagged(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("flagged after unflag = %v, want [0]", got)
	}
	if vault.flags[2] {
		t.Error("unflag not persisted")
	}
}

func TestFlagsRestoredAcrossInitialize(t *testing.T) {
	questions := testQuestions(3)
	restored := &storage.RestoredState{
		Flags: map[int]bool{1: true, 7: true}, // 7 is out of range now
	}
	s, _ := newTestStore(t, questions, restored)

	if got := s.Flagged(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("flagged = %v, want [1]", got)
	}
}

func TestFlagIndependentOfAnswer(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(1)
	s, _ := newTestStore(t, questions, nil)

	s.ToggleFlag(ctx, 0)
	if s.IsAnswered(0, questions[0].ID) {
		t.Error("flagging must not answer the question")
	}

	s.SetAnswer(ctx, 0, questions[0].ID, model.AnswerValue{Single: "a"})
	if got := s.Flagged(); len(got) != 1 {
		t.Error("answering must not clear the flag")
	}
}

func TestCursorClampedToRange(t *testing.T) {
	questions := testQuestions(3)
	s, _ := newTestStore(t, questions, nil)

	s.SetCursor(2)
	if got := s.Cursor(); got != 2 {
		t.Fatalf("cursor = %d, want 2", got)
	}
	s.SetCursor(99)
	s.SetCursor(-1)
	if got := s.Cursor(); got != 2 {
		t.Fatalf("cursor after invalid moves = %d, want 2", got)
	}
}

func TestEmptyValueCountsAsUnanswered(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(2)
	s, _ := newTestStore(t, questions, nil)

	s.SetAnswer(ctx, 0, questions[0].ID, model.AnswerValue{Multi: []string{}})
	s.SetAnswer(ctx, 1, questions[1].ID, model.AnswerValue{Text: ""})

	if got := len(s.Unanswered()); got != 2 {
		t.Fatalf("unanswered = %d, want 2", got)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	questions := testQuestions(1)
	s, _ := newTestStore(t, questions, nil)

	_, answers := s.Snapshot()
	key := model.AnswerKey{Position: 0, QuestionID: questions[0].ID}
	answers[key] = model.AnswerValue{Single: "tampered"}

	if s.IsAnswered(0, questions[0].ID) {
		t.Error("mutating a snapshot leaked into the store")
	}
}
