package model

import "github.com/google/uuid"

// ChoiceAnswer is one choice question's selections in the submission payload.
// Selections are always an explicit list; single-choice answers are a
// one-element list, never a bare scalar.
type ChoiceAnswer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Selected   []string  `json:"selected"`
}

// TextAnswer is one free-text question's response in the submission payload.
type TextAnswer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
}

// SubmissionPayload is the complete answer set sent to the evaluation
// platform. Constructed exactly once at submission time; immutable after.
// Every question contributes an entry, answered or not.
type SubmissionPayload struct {
	AttemptID     uuid.UUID        `json:"attempt_id"`
	ChoiceAnswers []ChoiceAnswer   `json:"choice_answers"`
	TextAnswers   []TextAnswer     `json:"text_answers"`
	Violations    ViolationSummary `json:"violations"`
}
