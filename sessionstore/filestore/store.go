// Package filestore persists sessions as one JSON document per session.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
	"github.com/Gurpartap/promptgraph/sessionstore"
)

const fileExt = ".json"

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store writes <dir>/<session-id>.json. Writes go through a temp file and an
// atomic rename, so readers see either the previous or the next document.
type Store struct {
	dir string
	// mu orders renames against directory scans and removals.
	mu sync.RWMutex
}

var _ agent.SessionStore = (*Store)(nil)

func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id agent.SessionID) (string, error) {
	if err := sessionstore.ValidateID(id); err != nil {
		return "", err
	}
	if !validID.MatchString(string(id)) {
		return "", fmt.Errorf("%w: %q", agent.ErrInvalidSessionID, id)
	}
	return filepath.Join(s.dir, string(id)+fileExt), nil
}

func (s *Store) Save(ctx context.Context, session agent.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(session.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write session %q: %w", session.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id agent.SessionID) (agent.Session, error) {
	if err := ctx.Err(); err != nil {
		return agent.Session{}, err
	}
	path, err := s.path(id)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidSessionID) {
			return agent.Session{}, agent.ErrSessionNotFound
		}
		return agent.Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return readSession(path)
}

func (s *Store) List(ctx context.Context) ([]agent.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read session directory: %w", err)
	}
	infos := make([]agent.SessionInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		session, err := readSession(filepath.Join(s.dir, name))
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Skipping unreadable session file.", "file", name, "error", err)
			continue
		}
		infos = append(infos, session.Info())
	}
	sessionstore.SortInfos(infos)
	return infos, nil
}

func (s *Store) Delete(ctx context.Context, id agent.SessionID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.path(id)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidSessionID) {
			return false, nil
		}
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete session %q: %w", id, err)
	}
	return true, nil
}

func readSession(path string) (agent.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return agent.Session{}, agent.ErrSessionNotFound
		}
		return agent.Session{}, err
	}
	var session agent.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return agent.Session{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return session, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
