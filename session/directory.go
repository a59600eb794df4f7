package session

import (
	"log/slog"
	"sort"
	"sync"
)

// Directory is the registry of live sessions keyed by connection id.
// All methods are safe for concurrent use; mutators are no-ops on ids
// that are not registered.
type Directory struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	log      *slog.Logger
}

// NewDirectory creates an empty Directory. A nil logger defaults to
// slog.Default().
func NewDirectory(logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		sessions: make(map[int64]*Session),
		log:      logger.With("component", "sessions"),
	}
}

// Add registers a fresh unassigned session for the connection id.
// Registering an id twice is a caller error; the newer session wins.
func (d *Directory) Add(id int64) *Session {
	s := newSession(id)
	d.mu.Lock()
	d.sessions[id] = s
	d.mu.Unlock()
	d.log.Debug("session added", "conn", id)
	return s
}

// Remove invalidates and unregisters the session. Holders of outstanding
// references observe Valid() == false.
func (d *Directory) Remove(id int64) {
	d.mu.Lock()
	s, ok := d.sessions[id]
	if ok {
		s.valid.Store(false)
		delete(d.sessions, id)
	}
	d.mu.Unlock()
	if ok {
		d.log.Debug("session removed", "conn", id)
	}
}

// Handshake binds the role (and, for relying servers, the app id as the
// identity). The role is write-once: a second handshake is a no-op.
func (d *Directory) Handshake(id int64, role Role, appID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok || s.Role() != RoleUnassigned {
		return
	}
	if role == RoleRelyingServer {
		s.setIdentity(appID)
	}
	s.role.Store(uint32(role))
	d.log.Info("handshake", "conn", id, "role", role.String())
}

// Get returns the session for the connection id.
func (d *Directory) Get(id int64) (*Session, bool) {
	d.mu.RLock()
	s, ok := d.sessions[id]
	d.mu.RUnlock()
	return s, ok
}

// SetLoggedIn flips the logged-in flag.
func (d *Directory) SetLoggedIn(id int64, v bool) {
	if s, ok := d.Get(id); ok {
		s.logged.Store(v)
	}
}

// SetViewing flips the code-view flag.
func (d *Directory) SetViewing(id int64, v bool) {
	if s, ok := d.Get(id); ok {
		s.viewing.Store(v)
	}
}

// SetIdentity binds the username for client roles.
func (d *Directory) SetIdentity(id int64, identity string) {
	if s, ok := d.Get(id); ok {
		s.setIdentity(identity)
	}
}

// SetPairedSecrets replaces the session's app-id -> secret cache,
// typically primed from storage at login.
func (d *Directory) SetPairedSecrets(id int64, secrets map[string]string) {
	if s, ok := d.Get(id); ok {
		s.setSecrets(secrets)
	}
}

// Logout clears the logged-in flag and the paired-secret cache.
func (d *Directory) Logout(id int64) {
	if s, ok := d.Get(id); ok {
		s.clearAuth()
	}
}

// FindByIdentity returns the connection id bound to the given identity.
// Linear scan; the live-session population is small.
func (d *Directory) FindByIdentity(identity string) (int64, bool) {
	if identity == "" {
		return 0, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for id, s := range d.sessions {
		if s.Identity() == identity {
			return id, true
		}
	}
	return 0, false
}

// SnapshotViewing returns strong references to every session that should
// receive a code push, taken under one lock acquisition so the scheduler
// iterates a consistent point-in-time set without holding the lock
// during I/O.
func (d *Directory) SnapshotViewing() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Session
	for _, s := range d.sessions {
		if s.LoggedIn() && s.Viewing() && s.hasSecrets() {
			out = append(out, s)
		}
	}
	return out
}

// Info is a point-in-time view of one session, for diagnostics.
type Info struct {
	Conn     int64  `json:"conn"`
	Role     string `json:"role"`
	Identity string `json:"identity,omitempty"`
	LoggedIn bool   `json:"logged_in"`
	Viewing  bool   `json:"viewing"`
}

// Snapshot returns diagnostic views of all live sessions, ordered by
// connection id.
func (d *Directory) Snapshot() []Info {
	d.mu.RLock()
	out := make([]Info, 0, len(d.sessions))
	for id, s := range d.sessions {
		out = append(out, Info{
			Conn:     id,
			Role:     s.Role().String(),
			Identity: s.Identity(),
			LoggedIn: s.LoggedIn(),
			Viewing:  s.Viewing(),
		})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Conn < out[j].Conn })
	return out
}

// Count returns the number of live sessions.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
