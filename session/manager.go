// Package session owns chat sessions: it hands them out, persists them and
// serializes turns so that one session is extended by one loop at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gurpartap/promptgraph/adapters/idgen"
	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/agentreact"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
)

var (
	ErrMissingStore = errors.New("missing session store")
	ErrMissingLoop  = errors.New("missing turn loop")
)

// TurnLoop extends a session by one user turn.
type TurnLoop interface {
	Turn(ctx context.Context, session agent.Session, userMessage string) (agent.Session, agentreact.TurnResult, error)
}

// Dependencies wires the manager's collaborators.
type Dependencies struct {
	Store       agent.SessionStore
	Loop        TurnLoop
	IDGenerator agent.IDGenerator
	// Defaults is the base config that Create applies overrides to.
	Defaults agent.SessionConfig
	Now      func() time.Time
}

// Manager is the only component that loads and persists sessions for turns.
type Manager struct {
	store    agent.SessionStore
	loop     TurnLoop
	ids      agent.IDGenerator
	defaults agent.SessionConfig
	now      func() time.Time

	mu    sync.Mutex
	locks map[agent.SessionID]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("new session manager: %w", ErrMissingStore)
	}
	if deps.Loop == nil {
		return nil, fmt.Errorf("new session manager: %w", ErrMissingLoop)
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = idgen.UUIDGenerator{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Defaults == (agent.SessionConfig{}) {
		deps.Defaults = agent.DefaultSessionConfig()
	}
	if err := deps.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("new session manager: %w", err)
	}
	return &Manager{
		store:    deps.Store,
		loop:     deps.Loop,
		ids:      deps.IDGenerator,
		defaults: deps.Defaults.WithDefaults(),
		now:      deps.Now,
		locks:    map[agent.SessionID]*sessionLock{},
	}, nil
}

// Create persists a new empty session. Overrides are applied over the
// manager defaults; nil takes the defaults unchanged.
func (m *Manager) Create(ctx context.Context, name string, overrides *agent.SessionConfigOverrides) (agent.Session, error) {
	if ctx == nil {
		return agent.Session{}, agent.ErrContextNil
	}
	cfg := m.defaults
	if overrides != nil {
		cfg = overrides.Apply(m.defaults)
	}
	if err := cfg.Validate(); err != nil {
		return agent.Session{}, err
	}
	id, err := m.ids.NewID(ctx)
	if err != nil {
		return agent.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		name = agent.DefaultSessionName
	}
	now := m.now().UTC()
	session := agent.Session{
		ID:        agent.SessionID(id),
		Name:      name,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, session); err != nil {
		return agent.Session{}, fmt.Errorf("save session: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Session created.", "session_id", id)
	return session, nil
}

// Load returns the session and whether it exists. A missing session is not an error.
func (m *Manager) Load(ctx context.Context, id agent.SessionID) (agent.Session, bool, error) {
	if ctx == nil {
		return agent.Session{}, false, agent.ErrContextNil
	}
	session, err := m.store.Load(ctx, id)
	if errors.Is(err, agent.ErrSessionNotFound) {
		return agent.Session{}, false, nil
	}
	if err != nil {
		return agent.Session{}, false, err
	}
	return session, true, nil
}

// Save upserts session, stamping UpdatedAt. A session without an id gets a
// new one.
func (m *Manager) Save(ctx context.Context, session agent.Session) (agent.Session, error) {
	if ctx == nil {
		return agent.Session{}, agent.ErrContextNil
	}
	if err := session.Config.Validate(); err != nil {
		return agent.Session{}, err
	}
	if session.ID == "" {
		id, err := m.ids.NewID(ctx)
		if err != nil {
			return agent.Session{}, fmt.Errorf("generate session id: %w", err)
		}
		session.ID = agent.SessionID(id)
	}
	if strings.TrimSpace(session.Name) == "" {
		session.Name = agent.DefaultSessionName
	}
	unlock, err := m.lock(ctx, session.ID)
	if err != nil {
		return agent.Session{}, err
	}
	defer unlock()

	session = agent.CloneSession(session)
	session.UpdatedAt = m.now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}
	if err := m.store.Save(ctx, session); err != nil {
		return agent.Session{}, err
	}
	return session, nil
}

// List returns session summaries, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]agent.SessionInfo, error) {
	if ctx == nil {
		return nil, agent.ErrContextNil
	}
	return m.store.List(ctx)
}

// Delete removes the session and reports whether it existed.
func (m *Manager) Delete(ctx context.Context, id agent.SessionID) (bool, error) {
	if ctx == nil {
		return false, agent.ErrContextNil
	}
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()
	return m.store.Delete(ctx, id)
}

// Reply is the outcome of Send.
type Reply struct {
	Session    agent.Session
	Answer     string
	Incomplete bool
	ToolCalls  int
}

// Send runs one user turn against the stored session and persists the result.
// Turns on one session run one at a time. A failed turn leaves the stored
// session untouched, so the user message is not kept.
func (m *Manager) Send(ctx context.Context, id agent.SessionID, message string) (Reply, error) {
	if ctx == nil {
		return Reply{}, agent.ErrContextNil
	}
	if strings.TrimSpace(message) == "" {
		return Reply{}, agentreact.ErrEmptyUserMessage
	}
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	ctx = ctxlog.With(ctx, "session_id", string(id))
	logger := ctxlog.FromContext(ctx)

	current, err := m.store.Load(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	firstExchange := len(current.Messages) == 0

	next, result, turnErr := m.loop.Turn(ctx, current, message)
	if turnErr != nil {
		if !result.Done {
			logger.Warn("Turn failed; session left unchanged.", "error", turnErr)
			return Reply{}, turnErr
		}
		logger.Warn("Turn events were not fully published.", "error", turnErr)
	}

	if firstExchange && next.Name == agent.DefaultSessionName {
		next.Name = agent.SessionNameFromMessage(message)
	}
	next.UpdatedAt = m.now().UTC()
	if err := m.store.Save(context.WithoutCancel(ctx), next); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}
	return Reply{
		Session:    next,
		Answer:     result.Answer,
		Incomplete: result.Incomplete,
		ToolCalls:  result.ToolCalls,
	}, nil
}

// lock acquires the per-session turn lock, giving up when ctx is done.
func (m *Manager) lock(ctx context.Context, id agent.SessionID) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[id]
	if !ok {
		entry = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[id] = entry
	}
	entry.refs++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}
