package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/storage"
)

// AttemptStore is the single source of truth for one attempt's in-progress
// answers, flags and cursor position. Every question has exactly one answer
// entry (possibly empty) at all times. All operations are total: invalid
// input is ignored, never surfaced as an error.
//
// The store is shared by the WebSocket reader (writes), the timer engine
// (readiness check) and the submission coordinator (snapshot, clear); a
// mutex serializes access. Writes are applied in caller order and persisted
// through the vault before the write call returns.
type AttemptStore struct {
	mu        sync.Mutex
	attemptID uuid.UUID
	questions []model.Question
	keys      []model.AnswerKey // index == position
	answers   map[model.AnswerKey]model.AnswerValue
	flags     map[int]bool
	cursor    int
	ready     bool

	vault storage.Vault
	log   zerolog.Logger
}

// New creates an empty store for the attempt. Initialize must be called
// before the store is usable.
func New(attemptID uuid.UUID, vault storage.Vault, log zerolog.Logger) *AttemptStore {
	return &AttemptStore{
		attemptID: attemptID,
		answers:   make(map[model.AnswerKey]model.AnswerValue),
		flags:     make(map[int]bool),
		vault:     vault,
		log:       log.With().Str("component", "store").Str("attempt_id", attemptID.String()).Logger(),
	}
}

// Initialize seeds one empty answer entry per question and merges previously
// persisted answers onto the fresh question list. Restored answers are
// reconciled by question id, not position, so a reshuffled or re-fetched
// order cannot misattribute them. Duplicate ids are matched in stored
// position order.
func (s *AttemptStore) Initialize(questions []model.Question, restored *storage.RestoredState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.questions = make([]model.Question, len(questions))
	copy(s.questions, questions)
	s.keys = make([]model.AnswerKey, len(questions))
	s.answers = make(map[model.AnswerKey]model.AnswerValue, len(questions))
	s.flags = make(map[int]bool)
	s.cursor = 0

	// Queue restored values per question id, ordered by their stored position.
	byID := make(map[uuid.UUID][]restoredEntry)
	if restored != nil {
		for key, val := range restored.Answers {
			byID[key.QuestionID] = append(byID[key.QuestionID], restoredEntry{pos: key.Position, val: val})
		}
		for id := range byID {
			sortEntries(byID[id])
		}
		for pos, flagged := range restored.Flags {
			if flagged && pos >= 0 && pos < len(questions) {
				s.flags[pos] = true
			}
		}
	}

	for pos, q := range questions {
		key := model.AnswerKey{Position: pos, QuestionID: q.ID}
		s.keys[pos] = key
		value := model.AnswerValue{}
		if queue := byID[q.ID]; len(queue) > 0 {
			value = queue[0].val
			byID[q.ID] = queue[1:]
		}
		s.answers[key] = value
	}

	s.ready = true
}

// Ready reports whether Initialize has completed. The timer's expiry trigger
// defers until the store is ready.
func (s *AttemptStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SetAnswer overwrites the answer entry for (position, question id) and
// persists the change through the vault before returning. A key that does
// not match the question at that position is ignored.
func (s *AttemptStore) SetAnswer(ctx context.Context, position int, questionID uuid.UUID, value model.AnswerValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position < 0 || position >= len(s.keys) {
		return
	}
	key := s.keys[position]
	if key.QuestionID != questionID {
		s.log.Warn().Int("position", position).Str("question_id", questionID.String()).Msg("Answer key mismatch, ignoring")
		return
	}

	// Only the field matching the question's type is kept. A value carrying
	// nothing for this type would count as answered while serializing empty
	// at submission, so it is dropped outright.
	conformed := conformValue(s.questions[position].Type, value)
	if conformed.IsEmpty() && !value.IsEmpty() {
		s.log.Warn().Int("position", position).Str("type", string(s.questions[position].Type)).Msg("Answer shape mismatch, ignoring")
		return
	}
	value = conformed

	s.answers[key] = value

	if err := s.vault.SaveAnswer(ctx, s.attemptID, key, value); err != nil {
		// The in-memory write stands; at worst a crash loses this one change.
		s.log.Error().Err(err).Str("key", key.String()).Msg("Vault write failed")
	}
}

// ToggleFlag adds or removes the position from the flagged set. Answer state
// is untouched.
func (s *AttemptStore) ToggleFlag(ctx context.Context, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position < 0 || position >= len(s.keys) {
		return
	}

	flagged := !s.flags[position]
	if flagged {
		s.flags[position] = true
	} else {
		delete(s.flags, position)
	}

	if err := s.vault.SaveFlag(ctx, s.attemptID, position, flagged); err != nil {
		s.log.Error().Err(err).Int("position", position).Msg("Vault flag write failed")
	}
}

// SetCursor records the candidate's current position.
func (s *AttemptStore) SetCursor(position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position >= 0 && position < len(s.keys) {
		s.cursor = position
	}
}

// Cursor returns the current position.
func (s *AttemptStore) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// IsAnswered reports whether the entry at (position, question id) holds a
// non-empty value. False for null, empty string and empty selection set.
func (s *AttemptStore) IsAnswered(position int, questionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position < 0 || position >= len(s.keys) {
		return false
	}
	key := s.keys[position]
	if key.QuestionID != questionID {
		return false
	}
	return !s.answers[key].IsEmpty()
}

// Unanswered returns the keys of all entries still holding an empty value.
func (s *AttemptStore) Unanswered() []model.AnswerKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.AnswerKey
	for _, key := range s.keys {
		if s.answers[key].IsEmpty() {
			out = append(out, key)
		}
	}
	return out
}

// Flagged returns the flagged positions in ascending order.
func (s *AttemptStore) Flagged() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, 0, len(s.flags))
	for pos := range s.flags {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

// Snapshot returns an independent copy of the ordered questions and their
// current answers, for payload construction.
func (s *AttemptStore) Snapshot() ([]model.Question, map[model.AnswerKey]model.AnswerValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions := make([]model.Question, len(s.questions))
	copy(questions, s.questions)
	answers := make(map[model.AnswerKey]model.AnswerValue, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	return questions, answers
}

// Questions returns the ordered question list.
func (s *AttemptStore) Questions() []model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// conformValue keeps the answer field matching the question type and zeroes
// the rest.
func conformValue(t model.QuestionType, v model.AnswerValue) model.AnswerValue {
	switch t {
	case model.QuestionTypeMultipleChoice:
		return model.AnswerValue{Multi: v.Multi}
	case model.QuestionTypeFreeText:
		return model.AnswerValue{Text: v.Text}
	default:
		return model.AnswerValue{Single: v.Single}
	}
}

type restoredEntry struct {
	pos int
	val model.AnswerValue
}

func sortEntries(entries []restoredEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })
}
