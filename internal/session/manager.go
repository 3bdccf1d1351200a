package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the call lifecycle. Transitions are monotonic: a call never moves
// back to an earlier state.
type State string

const (
	StateActive     State = "active"
	StateDraining   State = "draining"
	StateTerminated State = "terminated"
)

var (
	ErrNotFound          = errors.New("call not found")
	ErrInvalidTransition = errors.New("invalid call state transition")
)

func stateRank(s State) int {
	switch s {
	case StateActive:
		return 0
	case StateDraining:
		return 1
	case StateTerminated:
		return 2
	default:
		return -1
	}
}

// Turn is one transcript entry. Summary-flagged turns are excluded from
// end-of-call summarization input.
type Turn struct {
	Role    string    `json:"role"`
	Text    string    `json:"text"`
	Summary bool      `json:"summary,omitempty"`
	At      time.Time `json:"at"`
}

// Call is one connected caller session. Identity is set exactly once the
// caller identifies themselves; re-identification overwrites.
type Call struct {
	ID             string    `json:"call_id"`
	ContactNumber  string    `json:"contact_number,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	transcript []Turn
}

func (c *Call) Identified() bool {
	return c.ContactNumber != ""
}

type Manager struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Manager{
		calls:             make(map[string]*Call),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook registers a callback invoked when a call goes quiet past the
// inactivity timeout. The call is moved to draining before the hook fires.
func (m *Manager) SetExpireHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create() *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:             uuid.NewString(),
		State:          StateActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(callID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// Identify stores the caller's contact identity. Idempotent; a repeat call
// overwrites the previous identity.
func (m *Manager) Identify(callID, contactNumber, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.ContactNumber = contactNumber
	if displayName != "" {
		c.DisplayName = displayName
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) AppendTurn(callID string, turn Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.transcript = append(c.transcript, turn)
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Transcript(callID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Turn, len(c.transcript))
	copy(out, c.transcript)
	return out, nil
}

// Advance moves the call forward in its lifecycle. Moving to the current
// state is a no-op; moving backwards is rejected.
func (m *Manager) Advance(callID string, to State) error {
	if stateRank(to) < 0 {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	from := stateRank(c.State)
	if stateRank(to) < from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, to)
	}
	c.State = to
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.calls {
		if c.State == StateActive {
			count++
		}
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Call

	m.mu.Lock()
	for _, c := range m.calls {
		if c.State != StateActive {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.State = StateDraining
		c.LastActivityAt = now
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	out := *c
	out.transcript = nil
	return &out
}
