package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType classifies a detected proctoring-policy violation.
type ViolationType string

const (
	ViolationFullscreenExit ViolationType = "FULLSCREEN_EXIT"
	ViolationTabSwitch      ViolationType = "TAB_SWITCH"
	ViolationFocusLoss      ViolationType = "FOCUS_LOSS"
	ViolationCopyAttempt    ViolationType = "COPY_ATTEMPT"
	ViolationPasteAttempt   ViolationType = "PASTE_ATTEMPT"
	ViolationCutAttempt     ViolationType = "CUT_ATTEMPT"
	ViolationContextMenu    ViolationType = "CONTEXT_MENU"
	ViolationPrintAttempt   ViolationType = "PRINT_ATTEMPT"
	// ViolationHeartbeatGap is a weak, best-effort signal: an unexpectedly
	// large gap between periodic client heartbeats, hinting at suspended or
	// throttled execution. Sensitivity is a tunable, not a contract.
	ViolationHeartbeatGap ViolationType = "HEARTBEAT_GAP"
)

// ViolationEvent is a single classified violation, queued for archiving.
type ViolationEvent struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	CandidateID int           `json:"candidate_id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	Type        ViolationType `json:"type"`
	Detail      string        `json:"detail,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// ViolationSummary is the accumulated count per type for one attempt.
// Counters are only ever incremented for the lifetime of the session.
type ViolationSummary struct {
	Total  int                   `json:"total"`
	ByType map[ViolationType]int `json:"by_type,omitempty"`
}

// Clone returns an independent copy so callers cannot mutate monitor state.
func (s ViolationSummary) Clone() ViolationSummary {
	out := ViolationSummary{Total: s.Total}
	if len(s.ByType) > 0 {
		out.ByType = make(map[ViolationType]int, len(s.ByType))
		for k, v := range s.ByType {
			out.ByType[k] = v
		}
	}
	return out
}
