package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrov/twofad/auth"
	"github.com/mpetrov/twofad/client"
	"github.com/mpetrov/twofad/protocol"
	"github.com/mpetrov/twofad/session"
	"github.com/mpetrov/twofad/storage/memory"
	"github.com/mpetrov/twofad/totp"
)

const waitFor = 3 * time.Second

// startTestServer runs a full server over a loopback listener, with the
// code push scheduler wired in.
func startTestServer(t *testing.T) string {
	t.Helper()

	sessions := session.NewDirectory(nil)
	authority := auth.NewAuthority(memory.New(), auth.SHA256Hasher{}, nil)
	srv := New("127.0.0.1:0", sessions, authority, nil, nil, nil)
	require.NoError(t, srv.Listen())

	sched := totp.NewScheduler(sessions, func(conn int64, remaining uint32, payload string) {
		srv.Send(conn, protocol.CodeResponse{Remaining: remaining, Payload: payload})
	}, nil)
	srv.SetCodePusher(sched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	go sched.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv.Addr().String()
}

func dialRole(t *testing.T, addr string, role session.Role, appID string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Handshake(role, appID))
	return c
}

func TestPingOverTCP(t *testing.T) {
	addr := startTestServer(t)
	c := dialRole(t, addr, session.RoleAuthClient, "")
	assert.NoError(t, c.Ping(waitFor))
}

func TestCredentialLoginOverTCP(t *testing.T) {
	addr := startTestServer(t)
	c := dialRole(t, addr, session.RoleAuthClient, "")

	ok, err := c.Register("alice", "hunter2", waitFor)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Login("alice", "hunter2", waitFor)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second login on the same connection is rejected with an error
	// record.
	_, err = c.Login("alice", "hunter2", waitFor)
	assert.Error(t, err)
}

func TestWrongPasswordOverTCP(t *testing.T) {
	addr := startTestServer(t)
	c := dialRole(t, addr, session.RoleAuthClient, "")

	_, err := c.Register("alice", "hunter2", waitFor)
	require.NoError(t, err)
	_, err = c.Login("alice", "wrong", waitFor)
	assert.Error(t, err)
}

// pairOverTCP drives the full pairing exchange across two live
// connections and returns the paired app id.
func pairOverTCP(t *testing.T, relying, app *client.Client, relyingUsername string) string {
	t.Helper()
	token, err := relying.RequestPairing(relyingUsername, waitFor)
	require.NoError(t, err)
	require.Len(t, token, 8)

	appID, err := app.RedeemToken(token, waitFor)
	require.NoError(t, err)
	return appID
}

func TestPairingAndNotificationOverTCP(t *testing.T) {
	addr := startTestServer(t)
	relying := dialRole(t, addr, session.RoleRelyingServer, "shop")
	app := dialRole(t, addr, session.RoleAuthClient, "")

	ok, err := app.Register("bob_app", "pw", waitFor)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = app.Login("bob_app", "pw", waitFor)
	require.NoError(t, err)
	require.True(t, ok)

	appID := pairOverTCP(t, relying, app, "bob")
	assert.Equal(t, "shop", appID)

	// A duplicate request for the established pair is refused.
	token, err := relying.RequestPairing("bob", waitFor)
	require.NoError(t, err)
	assert.Empty(t, token)

	// Notification round trip: prompt reaches the authenticator, the
	// approval comes back to the relying server.
	answered := make(chan error, 1)
	go func() {
		prompt, err := app.NextNotification(waitFor)
		if err != nil {
			answered <- err
			return
		}
		answered <- app.Answer(prompt.RequestID, true)
	}()

	approved, err := relying.RequestNotification("bob", waitFor)
	require.NoError(t, err)
	assert.True(t, approved)
	require.NoError(t, <-answered)
}

func TestCodePushAndValidationOverTCP(t *testing.T) {
	addr := startTestServer(t)
	relying := dialRole(t, addr, session.RoleRelyingServer, "shop")
	app := dialRole(t, addr, session.RoleAuthClient, "")

	_, err := app.Register("bob_app", "pw", waitFor)
	require.NoError(t, err)
	_, err = app.Login("bob_app", "pw", waitFor)
	require.NoError(t, err)
	pairOverTCP(t, relying, app, "bob")

	// Entering the code view triggers an immediate push.
	require.NoError(t, app.StartCodeView())
	codes, err := app.NextCodes(waitFor)
	require.NoError(t, err)
	assert.LessOrEqual(t, codes.Remaining, uint32(30))

	parts := strings.SplitN(codes.Payload, ":", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "shop", parts[0])
	require.Len(t, parts[1], 6)

	// The pushed code validates for the relying pair.
	ok, err := relying.ValidateCode(parts[1], "bob", "shop", waitFor)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = relying.ValidateCode("000000", "bob", "shop", waitFor)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, app.StopCodeView())
}

func TestDisconnectRemovesSession(t *testing.T) {
	sessions := session.NewDirectory(nil)
	authority := auth.NewAuthority(memory.New(), auth.SHA256Hasher{}, nil)
	srv := New("127.0.0.1:0", sessions, authority, nil, nil, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := client.Dial(srv.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.Ping(waitFor))
	require.Eventually(t, func() bool { return sessions.Count() == 1 }, waitFor, 10*time.Millisecond)

	c.Close()
	assert.Eventually(t, func() bool { return sessions.Count() == 0 }, waitFor, 10*time.Millisecond)
}

func TestMalformedLinesAreDropped(t *testing.T) {
	addr := startTestServer(t)
	c := dialRole(t, addr, session.RoleAuthClient, "")

	// Garbage must not kill the connection or produce a reply.
	require.NoError(t, c.Send(rawMessage("totally;bogus;line")))
	require.NoError(t, c.Send(rawMessage("99;unknown")))
	assert.NoError(t, c.Ping(waitFor))
}

// rawMessage lets tests put arbitrary bytes on the wire.
type rawMessage string

func (r rawMessage) Encode() string { return string(r) }

func TestValidateCodeForUnknownPairFails(t *testing.T) {
	addr := startTestServer(t)
	relying := dialRole(t, addr, session.RoleRelyingServer, "shop")

	ok, err := relying.ValidateCode("123456", "nobody", "shop", waitFor)
	require.NoError(t, err)
	assert.False(t, ok)
}
