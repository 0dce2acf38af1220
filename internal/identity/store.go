// Package identity persists the durable anonymous display identity.
// It is the desktop analog of the browser's local storage: one opaque
// user id generated on first use plus a mutable display name, scoped to
// one machine profile and never synced server-side.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/domain"
)

type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultStore places the identity file under the user config dir.
func DefaultStore() (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	return NewStore(filepath.Join(dir, "liveroom", "identity.json")), nil
}

// Identity returns the persisted identity, creating and saving a fresh
// one when none exists. The user id is stable across calls for the
// lifetime of the file.
func (s *Store) Identity() (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.load()
	if err == nil && id.UserID != "" {
		if id.Username == "" {
			id.Username = domain.DefaultUsername
		}
		return id, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "identity").Str("path", s.path).Msg("unreadable identity file, regenerating")
	}

	id = domain.Identity{
		UserID:   domain.UserID(uuid.NewString()),
		Username: domain.DefaultUsername,
	}
	if err := s.save(id); err != nil {
		return domain.Identity{}, err
	}
	log.Info().Str("module", "identity").Str("user_id", string(id.UserID)).Msg("created new identity")
	return id, nil
}

// SetUsername validates, persists and returns the updated identity.
// Callers that hold an open channel must reconnect afterwards; the name
// is bound into the connection handshake.
func (s *Store) SetUsername(name string) (domain.Identity, error) {
	name = strings.TrimSpace(name)
	if err := domain.ValidateUsername(name); err != nil {
		return domain.Identity{}, err
	}

	id, err := s.Identity()
	if err != nil {
		return domain.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id.Username = name
	if err := s.save(id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

func (s *Store) load() (domain.Identity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("parse identity file: %w", err)
	}
	return id, nil
}

func (s *Store) save(id domain.Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
