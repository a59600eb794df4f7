// Package session implements the concurrent registry of live connections
// and their authentication state. Structural map operations are guarded by
// one lock; per-session status flags are atomics so the code-push scheduler
// can read them without taking the registry lock.
package session

import (
	"sync"
	"sync/atomic"
)

// Role identifies what a connection declared itself to be during the
// handshake. The numeric values are wire-stable.
type Role uint8

const (
	RoleAuthServer Role = iota
	RoleAuthClient
	RoleRelyingServer
	RoleRelyingClient
	RoleUnassigned
)

func (r Role) String() string {
	switch r {
	case RoleAuthServer:
		return "AUTH_SERVER"
	case RoleAuthClient:
		return "AUTH_CLIENT"
	case RoleRelyingServer:
		return "RELYING_SERVER"
	case RoleRelyingClient:
		return "RELYING_CLIENT"
	default:
		return "NOT_ASSIGNED"
	}
}

// RoleFromInt maps a wire integer to a Role; out-of-range values map to
// RoleUnassigned.
func RoleFromInt(v int) Role {
	if v < 0 || v >= int(RoleUnassigned) {
		return RoleUnassigned
	}
	return Role(v)
}

// Session is the per-connection state record. Sessions are shared by
// pointer between the connection handler and the scheduler; Valid flips
// false before the registry entry is removed, and holders must check it
// before acting on a snapshot.
type Session struct {
	id int64

	role    atomic.Uint32
	logged  atomic.Bool
	viewing atomic.Bool
	valid   atomic.Bool

	mu       sync.RWMutex
	identity string
	secrets  map[string]string
}

func newSession(id int64) *Session {
	s := &Session{id: id}
	s.role.Store(uint32(RoleUnassigned))
	s.valid.Store(true)
	return s
}

// ID returns the connection id the session was registered under.
func (s *Session) ID() int64 { return s.id }

// Role returns the role bound at handshake, or RoleUnassigned.
func (s *Session) Role() Role { return Role(s.role.Load()) }

// LoggedIn reports whether a credential login succeeded on this connection.
func (s *Session) LoggedIn() bool { return s.logged.Load() }

// Viewing reports whether the client is in the rotating-code view.
func (s *Session) Viewing() bool { return s.viewing.Load() }

// Valid reports whether the underlying connection is still registered.
func (s *Session) Valid() bool { return s.valid.Load() }

// Identity returns the bound username (client roles) or relying-party app
// id (relying-server role); empty until bound.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// PairedSecrets returns a copy of the app-id -> secret cache.
func (s *Session) PairedSecrets() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		out[k] = v
	}
	return out
}

// SetPairedSecret adds one pairing to the session cache, so a freshly
// redeemed pairing produces codes without a storage round-trip.
func (s *Session) SetPairedSecret(appID, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets == nil {
		s.secrets = make(map[string]string)
	}
	s.secrets[appID] = secret
}

func (s *Session) setIdentity(identity string) {
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
}

func (s *Session) setSecrets(secrets map[string]string) {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	s.mu.Lock()
	s.secrets = copied
	s.mu.Unlock()
}

func (s *Session) clearAuth() {
	s.logged.Store(false)
	s.mu.Lock()
	s.secrets = nil
	s.mu.Unlock()
}

// hasSecrets avoids the map copy on the scheduler's filter path.
func (s *Session) hasSecrets() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets) > 0
}
