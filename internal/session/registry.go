package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/proctor"
	"github.com/prosetya/examgate/internal/storage"
)

// Registry owns the active session controllers. Creation is idempotent per
// (candidate, exam): re-joining an in-progress attempt returns the existing
// controller, so a second tab or a reload never spawns a parallel session.
type Registry struct {
	mu          sync.Mutex
	byAttempt   map[uuid.UUID]*Controller
	byCandidate map[candidateExam]uuid.UUID

	api      PlatformAPI
	vault    storage.Vault
	recorder proctor.Recorder
	opts     Options
	log      zerolog.Logger
}

type candidateExam struct {
	candidateID int
	examID      uuid.UUID
}

// NewRegistry creates an empty Registry.
func NewRegistry(api PlatformAPI, vault storage.Vault, recorder proctor.Recorder, opts Options, log zerolog.Logger) *Registry {
	return &Registry{
		byAttempt:   make(map[uuid.UUID]*Controller),
		byCandidate: make(map[candidateExam]uuid.UUID),
		api:         api,
		vault:       vault,
		recorder:    recorder,
		opts:        opts,
		log:         log.With().Str("component", "registry").Logger(),
	}
}

// Start starts or resumes the candidate's session for the exam.
func (r *Registry) Start(ctx context.Context, candidateID int, examID uuid.UUID) (*Controller, error) {
	key := candidateExam{candidateID: candidateID, examID: examID}

	r.mu.Lock()
	if attemptID, ok := r.byCandidate[key]; ok {
		if c, ok := r.byAttempt[attemptID]; ok {
			r.mu.Unlock()
			return c, nil
		}
	}
	r.mu.Unlock()

	// The platform handshake is idempotent, so a racing double-start
	// resolves to the same attempt. The loser below is stopped; its
	// release call carries the loser's identity, so it cannot evict the
	// winner's registration under the shared attempt id.
	c, err := Start(ctx, candidateID, examID, r.api, r.vault, r.recorder, r.opts, r.release, r.log)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existingID, ok := r.byCandidate[key]; ok {
		if existing, ok := r.byAttempt[existingID]; ok {
			r.mu.Unlock()
			c.Stop()
			return existing, nil
		}
	}
	r.byAttempt[c.Attempt.ID] = c
	r.byCandidate[key] = c.Attempt.ID
	r.mu.Unlock()

	return c, nil
}

// Get returns the controller for an attempt, if the session is active.
func (r *Registry) Get(attemptID uuid.UUID) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byAttempt[attemptID]
	if !ok {
		return nil, fmt.Errorf("no active session for attempt %s", attemptID)
	}
	return c, nil
}

// release drops a stopped controller from the maps. The registered
// controller for the attempt id may be a different instance (a stopped
// double-start loser shares the winner's attempt id); only the registered
// instance may remove itself.
func (r *Registry) release(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.byAttempt[c.Attempt.ID]; !ok || current != c {
		return
	}
	delete(r.byAttempt, c.Attempt.ID)
	delete(r.byCandidate, candidateExam{candidateID: c.Attempt.CandidateID, examID: c.Attempt.ExamID})
}

// Shutdown stops every active session. Vault state survives, so sessions
// resume after a restart.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	active := make([]*Controller, 0, len(r.byAttempt))
	for _, c := range r.byAttempt {
		active = append(active, c)
	}
	r.mu.Unlock()

	for _, c := range active {
		c.Stop()
	}
	r.log.Info().Int("count", len(active)).Msg("All sessions stopped")
}
