package websocket

import (
	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/submit"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionFlag      Action = "flag"
	ActionPosition  Action = "position"
	ActionSignal    Action = "signal"
	ActionHeartbeat Action = "heartbeat"
	ActionSubmit    Action = "submit"
	ActionConfirm   Action = "confirm"
	ActionCancel    Action = "cancel"
	ActionRetry     Action = "retry"
)

// Request is the single client message shape; Action selects which fields
// apply. Keeping one shape avoids a second decode pass per message.
type Request struct {
	Action Action `json:"action"`

	// answer
	Position   int               `json:"position,omitempty"`
	QuestionID string            `json:"question_id,omitempty"`
	Value      model.AnswerValue `json:"value,omitempty"`

	// signal
	Signal string `json:"signal,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick            Event = "tick"
	EventWarning         Event = "warning"
	EventWarningCleared  Event = "warning_cleared"
	EventRemediate       Event = "remediate"
	EventConfirmRequired Event = "confirm_required"
	EventSubmitState     Event = "submit_state"
	EventCompleted       Event = "completed"
	EventSubmitFailed    Event = "submit_failed"
	EventError           Event = "error"
)

type TickEvent struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

type WarningEvent struct {
	Event   Event  `json:"event"`
	Message string `json:"message,omitempty"`
}

type RemediateEvent struct {
	Event  Event  `json:"event"`
	Action string `json:"action"`
}

type ConfirmRequiredEvent struct {
	Event   Event                 `json:"event"`
	Summary submit.ConfirmSummary `json:"summary"`
}

type SubmitStateEvent struct {
	Event Event        `json:"event"`
	State submit.State `json:"state"`
}

type CompletedEvent struct {
	Event  Event                  `json:"event"`
	Result *model.EvaluatedResult `json:"result,omitempty"`
}

type SubmitFailedEvent struct {
	Event  Event  `json:"event"`
	Reason string `json:"reason"`
	// Retry tells the client a retry affordance should be shown.
	Retry bool `json:"retry"`
}

type ErrorEvent struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
