package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/handlers"
	"voxelprism.ai/internal/protocol"
)

type Options struct {
	WorldID string
	Token   string
	Actions []string
	Logger  *log.Logger
}

// Server accepts host connections on the ingest endpoint. Each connection's
// events are handled in arrival order on its reader goroutine.
type Server struct {
	handlers *handlers.Handlers
	cats     *catalogs.Catalogs
	opts     Options
	log      *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing bool
	active  sync.WaitGroup

	sessions atomic.Int64
	events   atomic.Uint64
	errors   atomic.Uint64
}

type Stats struct {
	Sessions int64  `json:"sessions"`
	Events   uint64 `json:"events"`
	Errors   uint64 `json:"errors"`
}

func NewServer(h *handlers.Handlers, cats *catalogs.Catalogs, opts Options) *Server {
	return &Server{
		handlers: h,
		cats:     cats,
		opts:     opts,
		log:      opts.Logger,
		conns:    map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // hosts are not browsers
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{Sessions: s.sessions.Load(), Events: s.events.Load(), Errors: s.errors.Load()}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *Server) tokenOK(tok string) bool {
	if s.opts.Token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(s.opts.Token)) == 1
}

func (s *Server) welcome(sessionID string) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		WorldID:         s.opts.WorldID,
		Actions:         s.opts.Actions,
		Catalogs: protocol.CatalogDigests{
			Blocks:   protocol.DigestRef{Digest: s.cats.Blocks.Digest, Count: len(s.cats.Blocks.Palette)},
			Entities: protocol.DigestRef{Digest: s.cats.Entities.Digest, Count: len(s.cats.Entities.Defs)},
		},
	}
}

// InfoHandler describes the server without a session, so hosts can check
// catalog digests before connecting.
func (s *Server) InfoHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.welcome(""))
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		headerTok := bearer(r)
		if headerTok != "" && !s.tokenOK(headerTok) {
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			closeWith(conn, websocket.CloseGoingAway, "shutting down")
			return
		}
		defer s.untrack(conn)

		sessionID, ok := s.handshake(conn, headerTok != "")
		if !ok {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.logf("session open id=%s remote=%s", sessionID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		out := make(chan []byte, 64)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(msg)
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.logf("session closed id=%s", sessionID)
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.active.Done()
}

// Shutdown closes every host connection, refuses new ones and waits until no
// connection is still dispatching events. http.Server.Shutdown does not reach
// hijacked connections, so callers run this after it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		closeWith(conn, websocket.CloseGoingAway, "shutting down")
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle processes one frame and returns the ACK or ERROR reply.
func (s *Server) handle(msg []byte) any {
	s.events.Add(1)
	ev, err := protocol.DecodeEvent(msg)
	if err != nil {
		s.errors.Add(1)
		base, _ := protocol.DecodeBase(msg)
		return protocol.NewError(base.EventID, err)
	}
	if s.opts.WorldID != "" && ev.WorldID != s.opts.WorldID {
		s.errors.Add(1)
		return protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			AckFor:          ev.EventID,
			Code:            protocol.ErrWorldMismatch,
			Message:         "world_id " + ev.WorldID + " is not served here",
		}
	}
	out, err := protocol.Dispatch(s.handlers, s.cats, ev)
	if err != nil {
		s.errors.Add(1)
		return protocol.NewError(ev.EventID, err)
	}
	if out.Rejected > 0 {
		s.logf("event partially rejected type=%s event=%s rejected=%d", ev.Type, ev.EventID, out.Rejected)
	}
	return protocol.NewAck(ev.EventID, out)
}

func (s *Server) handshake(conn *websocket.Conn, authed bool) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	hello, err := protocol.DecodeHello(msg)
	if err != nil {
		_ = writeJSON(conn, protocol.NewError("", err))
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", false
	}
	if !authed {
		tok := ""
		if hello.Auth != nil {
			tok = strings.TrimSpace(hello.Auth.Token)
		}
		if !s.tokenOK(tok) {
			_ = writeJSON(conn, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrUnauthorized, Message: "bad token"})
			closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
			return "", false
		}
	}
	if s.opts.WorldID != "" && hello.WorldID != s.opts.WorldID {
		_ = writeJSON(conn, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrWorldMismatch, Message: "world_id " + hello.WorldID + " is not served here"})
		closeWith(conn, websocket.ClosePolicyViolation, "world mismatch")
		return "", false
	}

	sessionID := uuid.NewString()
	if err := writeJSON(conn, s.welcome(sessionID)); err != nil {
		return "", false
	}
	return sessionID, true
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
