package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gurpartap/promptgraph/adapters/inmem"
	"github.com/Gurpartap/promptgraph/adapters/modeltest"
	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/agentreact"
	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/session"
	sessioninmem "github.com/Gurpartap/promptgraph/sessionstore/inmem"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newManager(t *testing.T, model agent.Model) (*session.Manager, *sessioninmem.Store) {
	t.Helper()
	loop, err := agentreact.New(model, executable.MustRegistry(), agentreact.Options{})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	store := sessioninmem.New()
	clock := &fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	manager, err := session.NewManager(session.Dependencies{
		Store:       store,
		Loop:        loop,
		IDGenerator: inmem.NewCounterIDGenerator("session"),
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store
}

func TestManager_CreateAppliesDefaults(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t, modeltest.NewScriptedModel())
	created, err := manager.Create(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "session-000001" || created.Name != agent.DefaultSessionName {
		t.Fatalf("unexpected session: %+v", created)
	}
	if created.Config != agent.DefaultSessionConfig() {
		t.Fatalf("unexpected config: %+v", created.Config)
	}

	temperature := 0.1
	custom, err := manager.Create(context.Background(), "custom", &agent.SessionConfigOverrides{ModelID: "other", Temperature: &temperature})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if custom.Config.ModelID != "other" || custom.Config.MaxTokens != agent.DefaultMaxTokens || custom.Config.Temperature != 0.1 {
		t.Fatalf("unexpected merged config: %+v", custom.Config)
	}

	tooHot := 3.0
	if _, err := manager.Create(context.Background(), "bad", &agent.SessionConfigOverrides{Temperature: &tooHot}); !errors.Is(err, agent.ErrSessionConfigInvalid) {
		t.Fatalf("expected ErrSessionConfigInvalid, got %v", err)
	}
}

func TestManager_CreatePartialConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t, modeltest.NewScriptedModel())
	created, err := manager.Create(context.Background(), "x", &agent.SessionConfigOverrides{ModelID: "gpt-4o"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.Config.EnableTools || created.Config.Temperature != agent.DefaultTemperature {
		t.Fatalf("partial config lost defaults: enable_tools=%v temperature=%v", created.Config.EnableTools, created.Config.Temperature)
	}

	disabled := false
	created, err = manager.Create(context.Background(), "y", &agent.SessionConfigOverrides{EnableTools: &disabled})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Config.EnableTools {
		t.Fatalf("explicit enable_tools=false was ignored")
	}
}

func TestManager_SaveWithoutIDAssignsOne(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t, modeltest.NewScriptedModel())
	saved, err := manager.Save(context.Background(), agent.Session{Name: "no id", Config: agent.DefaultSessionConfig()})
	if err != nil {
		t.Fatalf("save without id: %v", err)
	}
	if saved.ID != "session-000001" {
		t.Fatalf("unexpected id: %q", saved.ID)
	}
	loaded, found, err := manager.Load(context.Background(), saved.ID)
	if err != nil || !found {
		t.Fatalf("load saved session: found=%v err=%v", found, err)
	}
	if loaded.Name != "no id" {
		t.Fatalf("unexpected name: %q", loaded.Name)
	}
}

func TestManager_LoadMissingIsNotAnError(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t, modeltest.NewScriptedModel())
	_, found, err := manager.Load(context.Background(), "nope")
	if err != nil || found {
		t.Fatalf("expected not found without error, got found=%v err=%v", found, err)
	}
}

func TestManager_SendPersistsTurnAndNamesSession(t *testing.T) {
	t.Parallel()

	manager, store := newManager(t, modeltest.NewScriptedModel(modeltest.Text("Paris"), modeltest.Text("Berlin")))
	created, err := manager.Create(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reply, err := manager.Send(context.Background(), created.ID, "What is the capital of France today?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Answer != "Paris" || len(reply.Session.Messages) != 2 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.Session.Name != "What is the capital of" {
		t.Fatalf("unexpected session name: %q", reply.Session.Name)
	}
	if !reply.Session.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updated_at was not advanced")
	}

	reply, err = manager.Send(context.Background(), created.ID, "And Germany?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Session.Name != "What is the capital of" {
		t.Fatalf("session must only be named after the first exchange: %q", reply.Session.Name)
	}

	stored, err := store.Load(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stored.Messages) != 4 {
		t.Fatalf("unexpected stored transcript: %+v", stored.Messages)
	}
}

func TestManager_SendKeepsExplicitName(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t, modeltest.NewScriptedModel(modeltest.Text("ok")))
	created, err := manager.Create(context.Background(), "Research", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reply, err := manager.Send(context.Background(), created.ID, "hello there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Session.Name != "Research" {
		t.Fatalf("explicit name was replaced: %q", reply.Session.Name)
	}
}

func TestManager_SendFailureRollsBack(t *testing.T) {
	t.Parallel()

	manager, store := newManager(t, modeltest.NewScriptedModel(modeltest.Response{Err: errors.New("model down")}))
	created, err := manager.Create(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := manager.Send(context.Background(), created.ID, "hi"); err == nil {
		t.Fatal("expected send error")
	}
	stored, err := store.Load(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stored.Messages) != 0 || stored.Name != agent.DefaultSessionName {
		t.Fatalf("failed turn leaked into store: %+v", stored)
	}
}

func TestManager_SendUnknownSession(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t, modeltest.NewScriptedModel())
	if _, err := manager.Send(context.Background(), "ghost", "hi"); !errors.Is(err, agent.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := manager.Send(context.Background(), "ghost", "   "); !errors.Is(err, agentreact.ErrEmptyUserMessage) {
		t.Fatalf("expected ErrEmptyUserMessage, got %v", err)
	}
}

func TestManager_DeleteAndList(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t, modeltest.NewScriptedModel())
	first, _ := manager.Create(context.Background(), "first", nil)
	second, _ := manager.Create(context.Background(), "second", nil)

	infos, err := manager.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].ID != second.ID || infos[1].ID != first.ID {
		t.Fatalf("expected most recent first: %+v", infos)
	}

	deleted, err := manager.Delete(context.Background(), first.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete=true, got %v err=%v", deleted, err)
	}
	deleted, err = manager.Delete(context.Background(), first.ID)
	if err != nil || deleted {
		t.Fatalf("expected delete=false, got %v err=%v", deleted, err)
	}
}

func TestManager_SaveStampsUpdatedAt(t *testing.T) {
	t.Parallel()

	manager, store := newManager(t, modeltest.NewScriptedModel())
	created, _ := manager.Create(context.Background(), "", nil)
	created.Name = "edited"

	saved, err := manager.Save(context.Background(), created)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !saved.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updated_at not stamped")
	}
	stored, _ := store.Load(context.Background(), created.ID)
	if stored.Name != "edited" {
		t.Fatalf("unexpected stored name: %q", stored.Name)
	}
}

type blockingLoop struct {
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (l *blockingLoop) Turn(_ context.Context, s agent.Session, message string) (agent.Session, agentreact.TurnResult, error) {
	n := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if n <= peak || l.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-l.release
	l.active.Add(-1)
	s = agent.CloneSession(s)
	s.Messages = append(s.Messages,
		agent.Message{Role: agent.RoleUser, Content: message},
		agent.Message{Role: agent.RoleAssistant, Content: "ack"},
	)
	return s, agentreact.TurnResult{Done: true, Answer: "ack"}, nil
}

func TestManager_SendSerializesTurnsPerSession(t *testing.T) {
	t.Parallel()

	loop := &blockingLoop{release: make(chan struct{})}
	store := sessioninmem.New()
	manager, err := session.NewManager(session.Dependencies{Store: store, Loop: loop})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	a, _ := manager.Create(context.Background(), "a", nil)
	b, _ := manager.Create(context.Background(), "b", nil)

	const perSession = 3
	var wg sync.WaitGroup
	for _, id := range []agent.SessionID{a.ID, b.ID} {
		for range perSession {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := manager.Send(context.Background(), id, "hi"); err != nil {
					t.Errorf("send: %v", err)
				}
			}()
		}
	}
	for range 2 * perSession {
		loop.release <- struct{}{}
	}
	wg.Wait()

	if peak := loop.peak.Load(); peak > 2 {
		t.Fatalf("more than one turn ran per session: peak=%d", peak)
	}
	for _, id := range []agent.SessionID{a.ID, b.ID} {
		stored, err := store.Load(context.Background(), id)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(stored.Messages) != 2*perSession {
			t.Fatalf("lost turns for %s: %d messages", id, len(stored.Messages))
		}
	}
}

func TestManager_SendHonorsContextWhileWaiting(t *testing.T) {
	t.Parallel()

	loop := &blockingLoop{release: make(chan struct{})}
	manager, err := session.NewManager(session.Dependencies{Store: sessioninmem.New(), Loop: loop})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	created, _ := manager.Create(context.Background(), "", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = manager.Send(context.Background(), created.ID, "first")
	}()
	for loop.active.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := manager.Send(ctx, created.ID, "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while waiting, got %v", err)
	}
	loop.release <- struct{}{}
	<-done
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := session.NewManager(session.Dependencies{}); !errors.Is(err, session.ErrMissingStore) {
		t.Fatalf("expected ErrMissingStore, got %v", err)
	}
	if _, err := session.NewManager(session.Dependencies{Store: sessioninmem.New()}); !errors.Is(err, session.ErrMissingLoop) {
		t.Fatalf("expected ErrMissingLoop, got %v", err)
	}
}
