package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownRecords(t *testing.T) {
	cases := []struct {
		line string
		want Message
	}{
		{"1;1", Handshake{Role: 1}},
		{"1;2;shop", Handshake{Role: 2, AppID: "shop"}},
		{"2", Ping{}},
		{"3;301;Invalid username or password!", Error{Code: 301, Text: "Invalid username or password!"}},
		{"4;43;1;TOKEN123;bob", Response{Subtype: 43, OK: true, Text: "TOKEN123", Extra: "bob"}},
		{"4;45;0;R4ND0", Response{Subtype: 45, Text: "R4ND0"}},
		{"5;bob", PairingRequest{RelyingUsername: "bob"}},
		{"11;12;alice;hunter2", CredentialRequest{Action: ActionLogin, Username: "alice", Password: "hunter2"}},
		{"11;14;alice;hunter2", CredentialRequest{Action: ActionRegister, Username: "alice", Password: "hunter2"}},
		{"13", Logout{}},
		{"21;bob", NotificationLogin{Username: "bob"}},
		{"21;bob;shop", NotificationLogin{Username: "bob", AppID: "shop"}},
		{"22;R4ND0;shop", PushNotification{RequestID: "R4ND0", AppID: "shop"}},
		{"31", CodeViewStart{}},
		{"32;17;shop:123456", CodeResponse{Remaining: 17, Payload: "shop:123456"}},
		{"33;ABCDWXYZ", CodeSubmit{Value: "ABCDWXYZ"}},
		{"34;123456;bob;shop", CodeValidate{Code: "123456", RelyingUsername: "bob", AppID: "shop"}},
		{"51", CodeViewExit{}},
	}
	for _, c := range cases {
		got, err := Decode(c.line)
		require.NoError(t, err, c.line)
		assert.Equal(t, c.want, got, c.line)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	lines := []string{
		"",
		"bogus",
		"x;1",
		"99;whatever",
		"1",               // handshake without role
		"1;notanumber",    // non-numeric role
		"2;extra",         // ping takes no fields
		"3;300",           // error without text
		"4;39;1;msg",      // subtype outside response range
		"11;13;user;pass", // logout is not a credential action
		"11;12;user",      // missing password
		"32;soon;payload", // non-numeric remaining
		"34;123456;bob",   // missing app id
	}
	for _, line := range lines {
		_, err := Decode(line)
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}
}

func TestDecodeTrimsLineEndings(t *testing.T) {
	got, err := Decode("13\r\n")
	require.NoError(t, err)
	assert.Equal(t, Logout{}, got)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := []Message{
		Handshake{Role: 2, AppID: "shop"},
		Response{Subtype: SubtypePairing, OK: true, Text: "TOKEN123", Extra: "bob"},
		CredentialRequest{Action: ActionLogin, Username: "alice", Password: "hunter2"},
		NotificationLogin{Username: "bob", AppID: "shop"},
		CodeValidate{Code: "123456", RelyingUsername: "bob", AppID: "shop"},
	}
	for _, m := range msgs {
		got, err := Decode(m.Encode())
		require.NoError(t, err, m.Encode())
		assert.Equal(t, m, got)
	}
}

func TestResponseEncodesAllFields(t *testing.T) {
	assert.Equal(t, "4;41;1;;alice", Response{Subtype: SubtypeLogin, OK: true, Extra: "alice"}.Encode())
	assert.Equal(t, "4;43;0;;bob", Response{Subtype: SubtypePairing, Extra: "bob"}.Encode())
}
