package filestore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/sessionstore/filestore"
	"github.com/Gurpartap/promptgraph/sessionstore/internal/storetest"
)

func newStore(t *testing.T) *filestore.Store {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStore_Conformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) agent.SessionStore {
		return newStore(t)
	})
}

func TestStore_RejectsPathLikeIDs(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	for _, id := range []agent.SessionID{"../escape", "a/b", ".hidden"} {
		err := store.Save(context.Background(), agent.Session{ID: id})
		if !errors.Is(err, agent.ErrInvalidSessionID) {
			t.Fatalf("Save(%q) expected ErrInvalidSessionID, got %v", id, err)
		}
		if _, err := store.Load(context.Background(), id); !errors.Is(err, agent.ErrSessionNotFound) {
			t.Fatalf("Load(%q) expected ErrSessionNotFound, got %v", id, err)
		}
	}
}

func TestStore_SurvivesReopenAndSkipsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := filestore.New(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	session := agent.Session{ID: "kept", Name: "Kept", UpdatedAt: time.Now().UTC()}
	if err := first.Save(context.Background(), session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	reopened, err := filestore.New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	infos, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "kept" || infos[0].Name != "Kept" {
		t.Fatalf("unexpected listing: %+v", infos)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			t.Fatalf("temporary file left behind: %s", entry.Name())
		}
	}
}
