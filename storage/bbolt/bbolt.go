// Package bbolt provides a BBolt-backed storage.Store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/mpetrov/twofad/storage"
)

var (
	usersBucket    = []byte("users")
	pairingsBucket = []byte("pairings")
)

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// New returns a Store backed by the given BBolt database, creating the
// required buckets if they do not exist.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, pairingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromFile opens a BBolt database at the given path and returns a new Store.
func NewFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func pairingKey(relyingUsername, appID string) []byte {
	return []byte(relyingUsername + "\x00" + appID)
}

func (s *Store) CreateUser(_ context.Context, u storage.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(u.Username)) != nil {
			return storage.ErrUserExists
		}
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return b.Put([]byte(u.Username), data)
	})
}

func (s *Store) GetUser(_ context.Context, username string) (storage.User, error) {
	var u storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(usersBucket).Get([]byte(username))
		if data == nil {
			return fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &u)
	})
	if err != nil {
		return storage.User{}, err
	}
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) CreatePairing(_ context.Context, p storage.Pairing) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(pairingsBucket)
		key := pairingKey(p.RelyingUsername, p.AppID)
		if b.Get(key) != nil {
			return storage.ErrPairingExists
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) GetPairing(_ context.Context, relyingUsername, appID string) (storage.Pairing, error) {
	var p storage.Pairing
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(pairingsBucket).Get(pairingKey(relyingUsername, appID))
		if data == nil {
			return fmt.Errorf("pairing %s/%s: %w", relyingUsername, appID, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return storage.Pairing{}, err
	}
	return p, nil
}

func (s *Store) Pairings(_ context.Context, appUsername string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(pairingsBucket).ForEach(func(_, v []byte) error {
			var p storage.Pairing
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.AppUsername == appUsername {
				out[p.AppID] = p.Secret
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
