package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeFreeText       QuestionType = "FREE_TEXT"
)

// Question is one exam question as fetched from the evaluation platform.
// Immutable once a session has been initialized with it.
type Question struct {
	ID      uuid.UUID    `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"text"`
	Options []string     `json:"options,omitempty"`
	// Fallback marks a question whose upstream entry was unusable (unknown
	// type, missing text). It is rendered as a placeholder and counts as
	// unanswerable rather than aborting the whole session.
	Fallback bool `json:"fallback,omitempty"`
}

// AnswerKey identifies one answer entry by (position, question id). The
// composite disambiguates duplicate ids across a shuffled or re-fetched
// question set.
type AnswerKey struct {
	Position   int
	QuestionID uuid.UUID
}

// String renders the key in its wire/storage form "position:question_id".
func (k AnswerKey) String() string {
	return strconv.Itoa(k.Position) + ":" + k.QuestionID.String()
}

// ParseAnswerKey parses the "position:question_id" storage form.
func ParseAnswerKey(s string) (AnswerKey, error) {
	pos, id, ok := strings.Cut(s, ":")
	if !ok {
		return AnswerKey{}, fmt.Errorf("malformed answer key %q", s)
	}
	p, err := strconv.Atoi(pos)
	if err != nil {
		return AnswerKey{}, fmt.Errorf("malformed answer key position %q: %w", s, err)
	}
	qid, err := uuid.Parse(id)
	if err != nil {
		return AnswerKey{}, fmt.Errorf("malformed answer key question id %q: %w", s, err)
	}
	return AnswerKey{Position: p, QuestionID: qid}, nil
}

// AnswerValue is a candidate's response to one question. Exactly one field is
// populated depending on the question type; the zero value means unanswered.
// Multiple selections are always an explicit list, never folded into Single.
type AnswerValue struct {
	Single string   `json:"single,omitempty"`
	Multi  []string `json:"multi,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// IsEmpty reports whether the value counts as "unanswered": the zero value,
// an empty string, or an empty selection set.
func (v AnswerValue) IsEmpty() bool {
	return v.Single == "" && len(v.Multi) == 0 && v.Text == ""
}
