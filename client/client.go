// Package client implements a protocol client for the authentication
// server: it frames and sends records and surfaces inbound records as a
// stream, since the server pushes messages outside any request/response
// rhythm.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mpetrov/twofad/protocol"
	"github.com/mpetrov/twofad/session"
)

// ErrTimeout reports that no matching message arrived in time.
var ErrTimeout = errors.New("timed out waiting for server message")

// Client is one connection to the authentication server. Methods are not
// safe for concurrent use; the inbound stream is read by one goroutine.
type Client struct {
	conn net.Conn
	in   chan protocol.Message
	done chan struct{}
}

// Dial connects and starts the inbound reader. Undecodable lines from the
// server are discarded.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	c := &Client{
		conn: conn,
		in:   make(chan protocol.Message, 32),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection and the reader.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Text())
		if err != nil {
			continue
		}
		select {
		case c.in <- msg:
		default:
			// Drop when the consumer lags; pushes are periodic anyway.
		}
	}
	close(c.in)
}

// Send writes one record.
func (c *Client) Send(msg protocol.Message) error {
	if _, err := c.conn.Write([]byte(msg.Encode() + "\n")); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Next returns the next inbound message, whatever it is.
func (c *Client) Next(timeout time.Duration) (protocol.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-c.in:
		if !ok {
			return nil, errors.New("connection closed")
		}
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// wait discards inbound messages until match accepts one.
func (c *Client) wait(timeout time.Duration, match func(protocol.Message) bool) (protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		msg, err := c.Next(remaining)
		if err != nil {
			return nil, err
		}
		if match(msg) {
			return msg, nil
		}
	}
}

// waitResponse blocks until a response with the given subtype or an Error
// arrives.
func (c *Client) waitResponse(subtype int, timeout time.Duration) (protocol.Response, error) {
	msg, err := c.wait(timeout, func(m protocol.Message) bool {
		if r, ok := m.(protocol.Response); ok {
			return r.Subtype == subtype
		}
		_, isErr := m.(protocol.Error)
		return isErr
	})
	if err != nil {
		return protocol.Response{}, err
	}
	if e, ok := msg.(protocol.Error); ok {
		return protocol.Response{}, fmt.Errorf("server rejected request: %d %s", e.Code, e.Text)
	}
	return msg.(protocol.Response), nil
}

// Handshake declares the connection's role; relying servers pass their
// application id. The server does not acknowledge handshakes.
func (c *Client) Handshake(role session.Role, appID string) error {
	return c.Send(protocol.Handshake{Role: int(role), AppID: appID})
}

// Login authenticates and reports whether the server accepted.
func (c *Client) Login(username, password string, timeout time.Duration) (bool, error) {
	if err := c.Send(protocol.CredentialRequest{Action: protocol.ActionLogin, Username: username, Password: password}); err != nil {
		return false, err
	}
	resp, err := c.waitResponse(protocol.SubtypeLogin, timeout)
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

// Register creates an account.
func (c *Client) Register(username, password string, timeout time.Duration) (bool, error) {
	if err := c.Send(protocol.CredentialRequest{Action: protocol.ActionRegister, Username: username, Password: password}); err != nil {
		return false, err
	}
	resp, err := c.waitResponse(protocol.SubtypeRegister, timeout)
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

// Logout ends the authenticated state.
func (c *Client) Logout() error {
	return c.Send(protocol.Logout{})
}

// RequestPairing asks for a pairing token for a relying user (relying
// server role). The token is empty when the request was rejected.
func (c *Client) RequestPairing(relyingUsername string, timeout time.Duration) (string, error) {
	if err := c.Send(protocol.PairingRequest{RelyingUsername: relyingUsername}); err != nil {
		return "", err
	}
	resp, err := c.waitResponse(protocol.SubtypePairing, timeout)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", nil
	}
	return resp.Text, nil
}

// RedeemToken submits a pairing token (authenticator role) and returns the
// application id it was bound to.
func (c *Client) RedeemToken(token string, timeout time.Duration) (string, error) {
	if err := c.Send(protocol.CodeSubmit{Value: token}); err != nil {
		return "", err
	}
	resp, err := c.waitResponse(protocol.SubtypePairing, timeout)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", errors.New("token rejected")
	}
	return resp.Extra, nil
}

// RequestNotification asks the server to prompt the authenticator paired
// with the relying user and waits for the relayed decision.
func (c *Client) RequestNotification(relyingUsername string, timeout time.Duration) (approved bool, err error) {
	if err := c.Send(protocol.NotificationLogin{Username: relyingUsername}); err != nil {
		return false, err
	}
	resp, err := c.waitResponse(protocol.SubtypeNotificationLogin, timeout)
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

// NextNotification waits for an approval prompt (authenticator role).
func (c *Client) NextNotification(timeout time.Duration) (protocol.PushNotification, error) {
	msg, err := c.wait(timeout, func(m protocol.Message) bool {
		_, ok := m.(protocol.PushNotification)
		return ok
	})
	if err != nil {
		return protocol.PushNotification{}, err
	}
	return msg.(protocol.PushNotification), nil
}

// Answer resolves an approval prompt.
func (c *Client) Answer(requestID string, approve bool) error {
	return c.Send(protocol.Response{Subtype: protocol.SubtypeNotificationAnswer, OK: approve, Text: requestID})
}

// StartCodeView asks the server to begin pushing rotating codes.
func (c *Client) StartCodeView() error {
	return c.Send(protocol.CodeViewStart{})
}

// StopCodeView ends the rotating code pushes.
func (c *Client) StopCodeView() error {
	return c.Send(protocol.CodeViewExit{})
}

// NextCodes waits for the next wave of rotating codes.
func (c *Client) NextCodes(timeout time.Duration) (protocol.CodeResponse, error) {
	msg, err := c.wait(timeout, func(m protocol.Message) bool {
		_, ok := m.(protocol.CodeResponse)
		return ok
	})
	if err != nil {
		return protocol.CodeResponse{}, err
	}
	return msg.(protocol.CodeResponse), nil
}

// ValidateCode asks the server to check a code for a relying user (relying
// server role).
func (c *Client) ValidateCode(code, relyingUsername, appID string, timeout time.Duration) (bool, error) {
	if err := c.Send(protocol.CodeValidate{Code: code, RelyingUsername: relyingUsername, AppID: appID}); err != nil {
		return false, err
	}
	resp, err := c.waitResponse(protocol.SubtypeCodeCheck, timeout)
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

// Ping round-trips a liveness probe.
func (c *Client) Ping(timeout time.Duration) error {
	if err := c.Send(protocol.Ping{}); err != nil {
		return err
	}
	_, err := c.wait(timeout, func(m protocol.Message) bool {
		_, ok := m.(protocol.Ping)
		return ok
	})
	return err
}
