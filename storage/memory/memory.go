// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mpetrov/twofad/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// All data is lost on process exit.
type Store struct {
	mu       sync.RWMutex
	users    map[string]storage.User
	pairings map[string]storage.Pairing
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		users:    make(map[string]storage.User),
		pairings: make(map[string]storage.Pairing),
	}
}

func pairingKey(relyingUsername, appID string) string {
	return relyingUsername + "\x00" + appID
}

func (s *Store) CreateUser(_ context.Context, u storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return storage.ErrUserExists
	}
	s.users[u.Username] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) CreatePairing(_ context.Context, p storage.Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairingKey(p.RelyingUsername, p.AppID)
	if _, ok := s.pairings[k]; ok {
		return storage.ErrPairingExists
	}
	s.pairings[k] = p
	return nil
}

func (s *Store) GetPairing(_ context.Context, relyingUsername, appID string) (storage.Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pairings[pairingKey(relyingUsername, appID)]
	if !ok {
		return storage.Pairing{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) Pairings(_ context.Context, appUsername string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for _, p := range s.pairings {
		if p.AppUsername == appUsername {
			out[p.AppID] = p.Secret
		}
	}
	return out, nil
}
