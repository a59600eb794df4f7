package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeIsWriteOnce(t *testing.T) {
	d := NewDirectory(nil)
	d.Add(1)

	d.Handshake(1, RoleAuthClient, "")
	d.Handshake(1, RoleRelyingServer, "shop")

	s, ok := d.Get(1)
	require.True(t, ok)
	assert.Equal(t, RoleAuthClient, s.Role())
	assert.Empty(t, s.Identity())
}

func TestHandshakeBindsRelyingServerIdentity(t *testing.T) {
	d := NewDirectory(nil)
	d.Add(2)
	d.Handshake(2, RoleRelyingServer, "shop")

	s, _ := d.Get(2)
	assert.Equal(t, RoleRelyingServer, s.Role())
	assert.Equal(t, "shop", s.Identity())
}

func TestMutatorsIgnoreUnknownIDs(t *testing.T) {
	d := NewDirectory(nil)
	// None of these may panic or create entries.
	d.Handshake(99, RoleAuthClient, "")
	d.SetLoggedIn(99, true)
	d.SetViewing(99, true)
	d.SetIdentity(99, "ghost")
	d.SetPairedSecrets(99, map[string]string{"a": "b"})
	d.Logout(99)
	d.Remove(99)
	assert.Equal(t, 0, d.Count())
}

func TestRemoveInvalidatesOutstandingReference(t *testing.T) {
	d := NewDirectory(nil)
	s := d.Add(3)
	require.True(t, s.Valid())

	d.Remove(3)
	assert.False(t, s.Valid())
	_, ok := d.Get(3)
	assert.False(t, ok)
}

func TestLogoutClearsSecrets(t *testing.T) {
	d := NewDirectory(nil)
	d.Add(4)
	d.SetLoggedIn(4, true)
	d.SetPairedSecrets(4, map[string]string{"shop": "S"})

	d.Logout(4)
	s, _ := d.Get(4)
	assert.False(t, s.LoggedIn())
	assert.Empty(t, s.PairedSecrets())
}

func TestFindByIdentity(t *testing.T) {
	d := NewDirectory(nil)
	d.Add(5)
	d.SetIdentity(5, "alice")

	id, ok := d.FindByIdentity("alice")
	require.True(t, ok)
	assert.Equal(t, int64(5), id)

	_, ok = d.FindByIdentity("bob")
	assert.False(t, ok)

	// Sessions with no identity never match an empty lookup.
	d.Add(6)
	_, ok = d.FindByIdentity("")
	assert.False(t, ok)
}

func TestSnapshotViewingFilters(t *testing.T) {
	d := NewDirectory(nil)

	// Viewing with secrets: included.
	d.Add(1)
	d.SetLoggedIn(1, true)
	d.SetViewing(1, true)
	d.SetPairedSecrets(1, map[string]string{"shop": "S"})

	// Viewing without secrets: excluded.
	d.Add(2)
	d.SetLoggedIn(2, true)
	d.SetViewing(2, true)

	// Secrets but not viewing: excluded.
	d.Add(3)
	d.SetLoggedIn(3, true)
	d.SetPairedSecrets(3, map[string]string{"shop": "S"})

	// Viewing with secrets but logged out: excluded.
	d.Add(4)
	d.SetViewing(4, true)
	d.SetPairedSecrets(4, map[string]string{"shop": "S"})
	d.Logout(4)

	snap := d.SnapshotViewing()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].ID())
}

func TestPairedSecretsReturnsCopy(t *testing.T) {
	d := NewDirectory(nil)
	d.Add(7)
	d.SetPairedSecrets(7, map[string]string{"shop": "S"})

	s, _ := d.Get(7)
	m := s.PairedSecrets()
	m["shop"] = "tampered"
	assert.Equal(t, "S", s.PairedSecrets()["shop"])
}

func TestSnapshotOrdering(t *testing.T) {
	d := NewDirectory(nil)
	for _, id := range []int64{5, 1, 3} {
		d.Add(id)
	}
	infos := d.Snapshot()
	require.Len(t, infos, 3)
	assert.Equal(t, int64(1), infos[0].Conn)
	assert.Equal(t, int64(3), infos[1].Conn)
	assert.Equal(t, int64(5), infos[2].Conn)
}

func TestConcurrentAccess(t *testing.T) {
	d := NewDirectory(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			d.Add(id)
			d.Handshake(id, RoleAuthClient, "")
			d.SetLoggedIn(id, true)
			d.SetIdentity(id, fmt.Sprintf("user%d", id))
			d.SetPairedSecrets(id, map[string]string{"shop": "S"})
			d.SetViewing(id, true)
			d.SnapshotViewing()
			if id%2 == 0 {
				d.Remove(id)
			}
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 16, d.Count())
}

func TestRoleFromInt(t *testing.T) {
	assert.Equal(t, RoleAuthServer, RoleFromInt(0))
	assert.Equal(t, RoleAuthClient, RoleFromInt(1))
	assert.Equal(t, RoleRelyingServer, RoleFromInt(2))
	assert.Equal(t, RoleRelyingClient, RoleFromInt(3))
	assert.Equal(t, RoleUnassigned, RoleFromInt(4))
	assert.Equal(t, RoleUnassigned, RoleFromInt(-1))
	assert.Equal(t, RoleUnassigned, RoleFromInt(42))
}
