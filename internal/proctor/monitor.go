package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/model"
)

// Emitter pushes transient proctoring feedback to the exam client.
type Emitter interface {
	Warning(message string)
	WarningCleared()
	Remediate(action string)
}

// Recorder persists a classified violation (durable counters plus the
// archive queue). Failures are the recorder's problem; the monitor never
// escalates them.
type Recorder interface {
	Record(ctx context.Context, event model.ViolationEvent)
}

// Config carries the monitor's tunables. Thresholds are configuration, not
// constants: the debounce window and heartbeat sensitivity are best-effort
// policy knobs.
type Config struct {
	FocusDebounce     time.Duration
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
	RemediationDelay  time.Duration
	WarningDuration   time.Duration
	Now               func() time.Time
}

// Monitor observes browser-level proctoring signals for one attempt,
// classifies them and accumulates violation counters. It never mutates
// answer state; its only outputs are the counters, transient warnings and
// remediation commands. Counters are never decremented.
type Monitor struct {
	mu      sync.Mutex
	attempt model.Attempt
	counts  model.ViolationSummary
	// pending holds leave instants for debounced signals awaiting either a
	// quick return (ignored) or the debounce window elapsing (counted).
	pending        map[model.ViolationType]time.Time
	lastHeartbeat  time.Time
	warningVisible bool
	closed         bool

	dismissTimer *time.Timer
	remedyTimer  *time.Timer

	cfg      Config
	emit     Emitter
	recorder Recorder
	log      zerolog.Logger

	closeOnce sync.Once
}

// NewMonitor creates a Monitor for the attempt. Seed restores counters
// persisted by a previous mount of the same attempt.
func NewMonitor(attempt model.Attempt, cfg Config, emit Emitter, recorder Recorder, log zerolog.Logger) *Monitor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{
		attempt:  attempt,
		counts:   model.ViolationSummary{ByType: make(map[model.ViolationType]int)},
		pending:  make(map[model.ViolationType]time.Time),
		cfg:      cfg,
		emit:     emit,
		recorder: recorder,
		log:      log.With().Str("component", "proctor").Str("attempt_id", attempt.ID.String()).Logger(),
	}
}

// Seed restores previously accumulated counters (after a reload).
func (m *Monitor) Seed(summary model.ViolationSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts.Total = summary.Total
	for t, n := range summary.ByType {
		m.counts.ByType[t] = n
	}
}

// Observe classifies one reported signal.
func (m *Monitor) Observe(ctx context.Context, sig Signal, detail string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	now := m.cfg.Now()
	// A return signal settles its own pending entry in the branch below;
	// keep that type out of the sweep so the resolution still sees it.
	m.sweepLocked(ctx, now, returns[sig])

	switch {
	case sig == SignalFullscreenDenied:
		// Browser refused re-entry. Not escalated; the exam continues.
		m.mu.Unlock()
		m.log.Warn().Str("detail", detail).Msg("Fullscreen re-entry denied by browser")
		return

	case immediate[sig] != "":
		vt := immediate[sig]
		m.countLocked(ctx, vt, detail, now)
		m.mu.Unlock()
		m.showWarning(vt)
		if vt == model.ViolationFullscreenExit {
			m.scheduleRemediation()
		}
		return

	case debounced[sig] != "":
		vt := debounced[sig]
		if _, exists := m.pending[vt]; !exists {
			m.pending[vt] = now
		}
		m.mu.Unlock()
		return

	case returns[sig] != "":
		vt := returns[sig]
		leftAt, exists := m.pending[vt]
		delete(m.pending, vt)
		counted := false
		if exists && now.Sub(leftAt) >= m.cfg.FocusDebounce {
			m.countLocked(ctx, vt, detail, now)
			counted = true
		}
		m.mu.Unlock()
		if counted {
			m.showWarning(vt)
		}
		// Returning to the tab is the moment fullscreen can be re-acquired.
		if sig == SignalVisible {
			m.scheduleRemediation()
		}
		return
	}

	m.mu.Unlock()
	m.log.Warn().Str("signal", string(sig)).Msg("Unknown proctoring signal")
}

// Heartbeat records a periodic client ping. A gap beyond interval+grace
// counts one timing-anomaly violation per gap; it is a weak signal for
// suspended or throttled execution.
func (m *Monitor) Heartbeat(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	now := m.cfg.Now()
	m.sweepLocked(ctx, now, "")

	if !m.lastHeartbeat.IsZero() {
		if gap := now.Sub(m.lastHeartbeat); gap > m.cfg.HeartbeatInterval+m.cfg.HeartbeatGrace {
			m.countLocked(ctx, model.ViolationHeartbeatGap, gap.String(), now)
		}
	}
	m.lastHeartbeat = now
	m.mu.Unlock()
}

// Summary settles pending debounced signals and returns a copy of the
// accumulated counters for the submission payload.
func (m *Monitor) Summary(ctx context.Context) model.ViolationSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(ctx, m.cfg.Now(), "")
	return m.counts.Clone()
}

// WarningVisible reports whether a transient warning is currently shown.
func (m *Monitor) WarningVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningVisible
}

// Close tears down timers and stops observation. Idempotent and safe on
// every exit path, including abrupt disconnects.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		if m.dismissTimer != nil {
			m.dismissTimer.Stop()
		}
		if m.remedyTimer != nil {
			m.remedyTimer.Stop()
		}
		m.mu.Unlock()
	})
}

// sweepLocked counts pending leave signals whose debounce window elapsed
// without a return, skipping except (the type the current signal resolves
// itself). Caller holds the mutex.
func (m *Monitor) sweepLocked(ctx context.Context, now time.Time, except model.ViolationType) {
	for vt, leftAt := range m.pending {
		if vt == except {
			continue
		}
		if now.Sub(leftAt) >= m.cfg.FocusDebounce {
			delete(m.pending, vt)
			m.countLocked(ctx, vt, "sustained", leftAt)
		}
	}
}

// countLocked increments counters and hands the event to the recorder.
// Caller holds the mutex.
func (m *Monitor) countLocked(ctx context.Context, vt model.ViolationType, detail string, at time.Time) {
	m.counts.Total++
	m.counts.ByType[vt]++

	m.log.Info().Str("type", string(vt)).Int("total", m.counts.Total).Msg("Violation recorded")

	if m.recorder != nil {
		m.recorder.Record(ctx, model.ViolationEvent{
			AttemptID:   m.attempt.ID,
			CandidateID: m.attempt.CandidateID,
			ExamID:      m.attempt.ExamID,
			Type:        vt,
			Detail:      detail,
			OccurredAt:  at,
		})
	}
}

func (m *Monitor) showWarning(vt model.ViolationType) {
	if m.emit == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.warningVisible = true
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
	}
	m.dismissTimer = time.AfterFunc(m.cfg.WarningDuration, m.dismissWarning)
	m.mu.Unlock()

	m.emit.Warning(warningMessage(vt))
}

func (m *Monitor) dismissWarning() {
	m.mu.Lock()
	if m.closed || !m.warningVisible {
		m.mu.Unlock()
		return
	}
	m.warningVisible = false
	m.mu.Unlock()

	m.emit.WarningCleared()
}

func (m *Monitor) scheduleRemediation() {
	if m.emit == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.remedyTimer != nil {
		m.remedyTimer.Stop()
	}
	m.remedyTimer = time.AfterFunc(m.cfg.RemediationDelay, func() {
		m.emit.Remediate(RemediateFullscreen)
	})
	m.mu.Unlock()
}

func warningMessage(vt model.ViolationType) string {
	switch vt {
	case model.ViolationFullscreenExit:
		return "Fullscreen mode is required. Returning you to fullscreen."
	case model.ViolationTabSwitch:
		return "Leaving the exam tab was recorded."
	case model.ViolationFocusLoss:
		return "Switching away from the exam window was recorded."
	case model.ViolationCopyAttempt, model.ViolationPasteAttempt, model.ViolationCutAttempt:
		return "Clipboard use is not allowed during the exam."
	case model.ViolationContextMenu:
		return "The context menu is disabled during the exam."
	case model.ViolationPrintAttempt:
		return "Printing is not allowed during the exam."
	default:
		return "A proctoring violation was recorded."
	}
}
