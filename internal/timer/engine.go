package timer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Engine derives remaining exam time from a fixed absolute deadline and
// drives periodic ticks. Anchoring on a deadline rather than a decrementing
// counter makes throttled or delayed ticks harmless: the next tick simply
// recomputes from the wall clock.
//
// The engine has two states, running and expired, and expired is terminal.
// At expiry it invokes the expire callback until the callback reports it
// accepted the trigger; a session still initializing defers the trigger to
// the next tick instead of dropping it. Once accepted, the callback is
// never invoked again.
type Engine struct {
	mu       sync.Mutex
	deadline time.Time
	last     time.Duration // last published remaining, for monotonicity
	accepted bool
	stopped  bool

	interval time.Duration
	now      func() time.Time
	onTick   func(remaining time.Duration)
	onExpire func() bool

	stop     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

// Config carries the engine's construction parameters. Now defaults to
// time.Now and exists so tests can drive a simulated clock.
type Config struct {
	Deadline time.Time
	Interval time.Duration
	Now      func() time.Time
	// OnTick publishes the clamped remaining time once per tick.
	OnTick func(remaining time.Duration)
	// OnExpire fires at expiry. It returns false to defer the trigger
	// (session not ready yet); the engine retries on the next tick.
	OnExpire func() bool
}

// New creates an Engine. Start must be called to begin ticking.
func New(cfg Config, log zerolog.Logger) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		deadline: cfg.Deadline,
		last:     -1,
		interval: interval,
		now:      now,
		onTick:   cfg.OnTick,
		onExpire: cfg.OnExpire,
		stop:     make(chan struct{}),
		log:      log.With().Str("component", "timer").Logger(),
	}
}

// Start launches the tick loop in its own goroutine.
func (e *Engine) Start() {
	go e.loop()
}

func (e *Engine) loop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if e.Tick() {
				return
			}
		}
	}
}

// Tick performs one timer step: publish remaining time and, at expiry,
// attempt the expire trigger. Returns true once the trigger has been
// accepted, which ends the loop. Exported so tests can drive the engine
// with a simulated clock instead of real ticks.
func (e *Engine) Tick() bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return true
	}

	remaining := e.deadline.Sub(e.now())
	if remaining < 0 {
		remaining = 0
	}
	// Clamp against the last published value so remaining never increases
	// even if the wall clock steps backwards.
	if e.last >= 0 && remaining > e.last {
		remaining = e.last
	}
	e.last = remaining

	expired := remaining == 0
	alreadyAccepted := e.accepted
	onTick := e.onTick
	e.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}

	if !expired {
		return false
	}
	if alreadyAccepted {
		return true
	}

	ok := e.onExpire == nil || e.onExpire()
	if !ok {
		e.log.Warn().Msg("Expiry trigger deferred, session not ready")
		return false
	}

	e.mu.Lock()
	e.accepted = true
	e.mu.Unlock()
	return true
}

// Remaining returns the current clamped remaining time.
func (e *Engine) Remaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.deadline.Sub(e.now())
	if remaining < 0 {
		remaining = 0
	}
	if e.last >= 0 && remaining > e.last {
		remaining = e.last
	}
	return remaining
}

// Stop tears down tick scheduling. Idempotent; called when the session
// completes so the auto-submit path cannot fire afterwards.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		close(e.stop)
	})
}
