// Package server implements the line-framed TCP front end: it accepts
// connections, tracks them in the session directory, decodes inbound
// records and hands them to the protocol layer. Outbound delivery to a
// connection that has already gone away is a logged no-op.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mpetrov/twofad/audit"
	"github.com/mpetrov/twofad/auth"
	"github.com/mpetrov/twofad/protocol"
	"github.com/mpetrov/twofad/session"
)

// maxLineBytes bounds one inbound record; longer lines drop the
// connection.
const maxLineBytes = 4096

// Server is the TCP listener plus connection registry. It implements
// protocol.Sender so transitions can emit messages to any live connection.
type Server struct {
	addr     string
	log      *slog.Logger
	auditor  *audit.Logger
	sessions *session.Directory
	env      *protocol.Env

	nextID atomic.Int64

	mu    sync.RWMutex
	conns map[int64]net.Conn

	ln     net.Listener
	connWG sync.WaitGroup
}

// New wires a Server over the given collaborators. A nil logger defaults
// to slog.Default().
func New(addr string, sessions *session.Directory, authority *auth.Authority, codes protocol.CodePusher, logger *slog.Logger, auditor *audit.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if auditor == nil {
		auditor = audit.NewLogger(logger)
	}
	s := &Server{
		addr:     addr,
		log:      logger.With("component", "server"),
		auditor:  auditor,
		sessions: sessions,
		conns:    make(map[int64]net.Conn),
	}
	s.env = protocol.NewEnv(sessions, authority, s, codes, logger, auditor)
	return s
}

// SetCodePusher late-binds the code push scheduler, which needs the
// server's send path to exist first. Call before Serve.
func (s *Server) SetCodePusher(codes protocol.CodePusher) {
	s.env.Codes = codes
}

// Listen binds the TCP address. Call before Serve; Addr is valid after
// Listen returns.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.log.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and every live connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.ln.Close()
		s.closeAll()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.connWG.Wait()
			if ctx.Err() != nil {
				s.log.Info("server stopped")
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		id := s.nextID.Add(1)
		s.register(id, conn)
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.handleConn(ctx, id, conn)
		}()
	}
}

// Run is Listen followed by Serve.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) register(id int64, conn net.Conn) {
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	s.sessions.Add(id)
	s.auditor.Log(audit.SessionOpened, id, slog.String("remote_addr", conn.RemoteAddr().String()))
}

func (s *Server) unregister(id int64, conn net.Conn) {
	s.sessions.Remove(id)
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	conn.Close()
	s.auditor.Log(audit.SessionClosed, id)
}

func (s *Server) handleConn(ctx context.Context, id int64, conn net.Conn) {
	defer s.unregister(id, conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		msg, err := protocol.Decode(line)
		if err != nil {
			// Malformed records are dropped without a reply.
			s.log.Debug("dropping undecodable line", "conn", id, "err", err)
			continue
		}
		s.env.Handle(ctx, id, msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("connection read ended", "conn", id, "err", err)
	}
}

// Send delivers one message to a connection. A missing or dead connection
// is a no-op so the code push scheduler can race with disconnects.
func (s *Server) Send(id int64, msg protocol.Message) {
	s.mu.RLock()
	conn, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		s.log.Debug("send to unknown connection", "conn", id)
		return
	}
	if _, err := conn.Write([]byte(msg.Encode() + "\n")); err != nil {
		s.log.Warn("send failed", "conn", id, "err", err)
	}
}

// Broadcast sends one message to every live connection, best effort.
func (s *Server) Broadcast(msg protocol.Message) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		s.Send(id, msg)
	}
}

func (s *Server) closeAll() {
	s.mu.RLock()
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
