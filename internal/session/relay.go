package session

import (
	"sync"

	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/submit"
)

// ClientEvents is everything the gateway pushes down to the exam client:
// timer ticks, proctoring feedback and submission progress.
type ClientEvents interface {
	Tick(remainingSeconds int)
	Warning(message string)
	WarningCleared()
	Remediate(action string)
	ConfirmRequired(summary submit.ConfirmSummary)
	StateChanged(state submit.State)
	Completed(result *model.EvaluatedResult)
	SubmitFailed(reason string)
}

// eventRelay decouples the controller's lifetime from the WebSocket
// connection's: the controller exists from the start handshake, the sink
// attaches when the socket connects and detaches on disconnect. Events with
// no sink attached are dropped; the client recovers the current picture
// from the state endpoint on reconnect.
type eventRelay struct {
	mu   sync.Mutex
	sink ClientEvents
}

func (r *eventRelay) Attach(sink ClientEvents) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *eventRelay) Detach() {
	r.mu.Lock()
	r.sink = nil
	r.mu.Unlock()
}

func (r *eventRelay) current() ClientEvents {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}

func (r *eventRelay) Tick(remainingSeconds int) {
	if s := r.current(); s != nil {
		s.Tick(remainingSeconds)
	}
}

func (r *eventRelay) Warning(message string) {
	if s := r.current(); s != nil {
		s.Warning(message)
	}
}

func (r *eventRelay) WarningCleared() {
	if s := r.current(); s != nil {
		s.WarningCleared()
	}
}

func (r *eventRelay) Remediate(action string) {
	if s := r.current(); s != nil {
		s.Remediate(action)
	}
}

func (r *eventRelay) ConfirmRequired(summary submit.ConfirmSummary) {
	if s := r.current(); s != nil {
		s.ConfirmRequired(summary)
	}
}

func (r *eventRelay) StateChanged(state submit.State) {
	if s := r.current(); s != nil {
		s.StateChanged(state)
	}
}

func (r *eventRelay) Completed(result *model.EvaluatedResult) {
	if s := r.current(); s != nil {
		s.Completed(result)
	}
}

func (r *eventRelay) SubmitFailed(reason string) {
	if s := r.current(); s != nil {
		s.SubmitFailed(reason)
	}
}
