package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// Attempt is one candidate's instance of taking a specific exam. The id is
// issued by the evaluation platform on the start handshake; re-joining an
// in-progress attempt returns the same id and the original duration.
type Attempt struct {
	ID              uuid.UUID     `json:"id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	CandidateID     int           `json:"candidate_id"`
	StartedAt       time.Time     `json:"started_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          AttemptStatus `json:"status"`
}

// ExamPaper is the renderable exam as fetched from the platform.
type ExamPaper struct {
	ExamID       uuid.UUID  `json:"exam_id"`
	Title        string     `json:"title"`
	Instructions string     `json:"instructions,omitempty"`
	Questions    []Question `json:"questions"`
}

// EvaluatedResult is the score breakdown returned once the platform has
// finished evaluating a submitted attempt.
type EvaluatedResult struct {
	ResultID  uuid.UUID       `json:"result_id"`
	AttemptID uuid.UUID       `json:"attempt_id"`
	Score     float64         `json:"score"`
	MaxScore  float64         `json:"max_score"`
	Breakdown []QuestionScore `json:"breakdown,omitempty"`
}

// QuestionScore is one question's contribution to an evaluated result.
type QuestionScore struct {
	QuestionID uuid.UUID `json:"question_id"`
	Awarded    float64   `json:"awarded"`
	Possible   float64   `json:"possible"`
}

// StartExamRequest is the payload for starting or resuming an attempt.
type StartExamRequest struct {
	ExamID string `json:"exam_id" binding:"required,uuid"`
}
