// Package storetest holds the behavior every agent.SessionStore must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Gurpartap/promptgraph/agent"
)

func session(id string, updated time.Time, messages ...string) agent.Session {
	out := agent.Session{
		ID:        agent.SessionID(id),
		Name:      agent.DefaultSessionName,
		Config:    agent.DefaultSessionConfig(),
		CreatedAt: updated.Add(-time.Minute).UTC(),
		UpdatedAt: updated.UTC(),
	}
	for _, content := range messages {
		out.Messages = append(out.Messages, agent.Message{Role: agent.RoleUser, Content: content})
	}
	return out
}

// Run exercises a fresh store from newStore for every case.
func Run(t *testing.T, newStore func(t *testing.T) agent.SessionStore) {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("load missing", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		_, err := store.Load(context.Background(), "missing")
		if !errors.Is(err, agent.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("save then load round trips", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		want := session("s1", base, "hello", "world")
		if err := store.Save(context.Background(), want); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.Load(context.Background(), "s1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("save is an upsert", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		first := session("s1", base, "one")
		if err := store.Save(context.Background(), first); err != nil {
			t.Fatalf("save: %v", err)
		}
		second := session("s1", base.Add(time.Minute), "one", "two")
		second.Name = "renamed"
		if err := store.Save(context.Background(), second); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.Load(context.Background(), "s1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.Name != "renamed" || len(got.Messages) != 2 {
			t.Fatalf("unexpected session after upsert: %+v", got)
		}
		infos, err := store.List(context.Background())
		if err != nil || len(infos) != 1 {
			t.Fatalf("expected one listed session, got %v err=%v", infos, err)
		}
	})

	t.Run("list is most recent first", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		for i, id := range []string{"old", "new", "mid"} {
			offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
			if err := store.Save(context.Background(), session(id, base.Add(offsets[i]), fmt.Sprintf("message %d", i))); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		infos, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		ids := make([]agent.SessionID, len(infos))
		for i := range infos {
			ids[i] = infos[i].ID
		}
		if diff := cmp.Diff([]agent.SessionID{"new", "mid", "old"}, ids); diff != "" {
			t.Fatalf("unexpected order (-want +got):\n%s", diff)
		}
		if infos[0].MessageCount != 1 || infos[0].LastMessagePreview != "message 1" {
			t.Fatalf("unexpected info: %+v", infos[0])
		}
	})

	t.Run("delete reports presence", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if err := store.Save(context.Background(), session("s1", base)); err != nil {
			t.Fatalf("save: %v", err)
		}
		deleted, err := store.Delete(context.Background(), "s1")
		if err != nil || !deleted {
			t.Fatalf("expected delete=true, got %v err=%v", deleted, err)
		}
		deleted, err = store.Delete(context.Background(), "s1")
		if err != nil || deleted {
			t.Fatalf("expected delete=false, got %v err=%v", deleted, err)
		}
		if _, err := store.Load(context.Background(), "s1"); !errors.Is(err, agent.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
		}
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		if err := store.Save(context.Background(), session("", base)); !errors.Is(err, agent.ErrInvalidSessionID) {
			t.Fatalf("expected ErrInvalidSessionID, got %v", err)
		}
	})

	t.Run("returned sessions are isolated", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		original := session("s1", base, "hello")
		if err := store.Save(context.Background(), original); err != nil {
			t.Fatalf("save: %v", err)
		}
		original.Messages[0].Content = "mutated"
		loaded, err := store.Load(context.Background(), "s1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		loaded.Messages[0].Content = "changed"
		again, err := store.Load(context.Background(), "s1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if again.Messages[0].Content != "hello" {
			t.Fatalf("store state leaked: %+v", again.Messages)
		}
	})

	t.Run("concurrent saves leave one written state", func(t *testing.T) {
		t.Parallel()
		store := newStore(t)
		const writers = 16
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s := session("shared", base.Add(time.Duration(i)*time.Second), fmt.Sprintf("writer %d", i))
				if err := store.Save(context.Background(), s); err != nil {
					t.Errorf("save: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := store.Load(context.Background(), "shared")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(got.Messages) != 1 {
			t.Fatalf("expected exactly one writer's state, got %+v", got.Messages)
		}
		var writer int
		if _, err := fmt.Sscanf(got.Messages[0].Content, "writer %d", &writer); err != nil {
			t.Fatalf("unexpected content: %q", got.Messages[0].Content)
		}
		if want := base.Add(time.Duration(writer) * time.Second); !got.UpdatedAt.Equal(want) {
			t.Fatalf("torn write: writer %d with updated_at %s", writer, got.UpdatedAt)
		}
	})
}
