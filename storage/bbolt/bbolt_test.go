package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mpetrov/twofad/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twofad-test.db")
	s, err := NewFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBBoltStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		u := storage.User{Username: "alice", PassHash: "hash", Salt: "salt"}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		if err := s.CreateUser(ctx, u); !errors.Is(err, storage.ErrUserExists) {
			t.Errorf("expected ErrUserExists, got %v", err)
		}

		got, err := s.GetUser(ctx, "alice")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got != u {
			t.Errorf("got %+v, want %+v", got, u)
		}

		if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("pairings", func(t *testing.T) {
		p := storage.Pairing{RelyingUsername: "bob", AppID: "shop", AppUsername: "bob_app", Secret: "SECRET"}
		if err := s.CreatePairing(ctx, p); err != nil {
			t.Fatalf("CreatePairing failed: %v", err)
		}
		if err := s.CreatePairing(ctx, p); !errors.Is(err, storage.ErrPairingExists) {
			t.Errorf("expected ErrPairingExists, got %v", err)
		}

		got, err := s.GetPairing(ctx, "bob", "shop")
		if err != nil {
			t.Fatalf("GetPairing failed: %v", err)
		}
		if got != p {
			t.Errorf("got %+v, want %+v", got, p)
		}

		m, err := s.Pairings(ctx, "bob_app")
		if err != nil {
			t.Fatalf("Pairings failed: %v", err)
		}
		if m["shop"] != "SECRET" {
			t.Errorf("expected shop secret, got %v", m)
		}
	})

	t.Run("list users", func(t *testing.T) {
		s.CreateUser(ctx, storage.User{Username: "zed"})
		names, err := s.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(names) != 2 || names[0] != "alice" || names[1] != "zed" {
			t.Errorf("unexpected names: %v", names)
		}
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twofad-test.db")
	ctx := context.Background()

	s, err := NewFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	if err := s.CreateUser(ctx, storage.User{Username: "alice", PassHash: "h", Salt: "s"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	s.Close()

	s, err = NewFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not reopen db: %v", err)
	}
	defer s.Close()
	if _, err := s.GetUser(ctx, "alice"); err != nil {
		t.Fatalf("GetUser after reopen failed: %v", err)
	}
}
