// Package signaling - client.go
//
// Session is the connection driver: one per live WebSocket, running a
// readPump and writePump goroutine pair exactly as the teacher's Client does,
// generalized from the teacher's binary-protobuf-only wire format to this
// protocol's dual text/binary frames (JSON envelope on text, opaque bytes on
// binary), and from the teacher's connection-level ping/pong to this
// protocol's application-level Ping/Pong envelopes (spec §4.4).
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/meshplay/signalserver/internal/v1/idmint"
	"github.com/meshplay/signalserver/internal/v1/logging"
	"github.com/meshplay/signalserver/internal/v1/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait         = 10 * time.Second
	maxTextMessageSize = 64 * 1024
	maxBinaryMessageSize = 256 * 1024
	sendQueueCapacity = 64
	pingTimeout       = 45 * time.Second
)

// wsConnection is the subset of *websocket.Conn a Session depends on,
// abstracted for testing with an in-memory fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// connState is the per-connection state machine from spec §4.4: Open ->
// Unauth -> Authed -> InRoom, with Closing reachable from any state.
type connState int

const (
	stateOpen connState = iota
	stateUnauth
	stateAuthed
	stateInRoom
	stateClosing
)

// Session binds one live WebSocket to at most one player or spectator
// identity. It never touches Room or Hub internals directly outside of the
// Hub's own coordinator methods — message handling lives in handlers.go.
type Session struct {
	conn wsConnection
	hub  *Hub
	send chan []byte

	mu          sync.Mutex
	state       connState
	appID       string
	playerID    idmint.ID
	spectatorID idmint.ID
	roomID      idmint.ID
	lastSeen    time.Time

	closeOnce sync.Once
}

func newSession(h *Hub, conn wsConnection) *Session {
	return &Session{
		conn:        conn,
		hub:         h,
		send:        make(chan []byte, sendQueueCapacity),
		state:       stateOpen,
		playerID:    idmint.Nil,
		spectatorID: idmint.Nil,
		roomID:      idmint.Nil,
		lastSeen:    time.Now(),
	}
}

// readPump decodes incoming frames and routes them to the session's
// handler table. Text frames are JSON envelopes; binary frames are opaque
// game-data payloads relayed without inspection.
func (s *Session) readPump() {
	defer func() {
		s.handleDisconnect()
		s.conn.Close()
		metrics.DecConnection()
	}()

	s.conn.SetReadLimit(maxBinaryMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pingTimeout))

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touch()
		s.conn.SetReadDeadline(time.Now().Add(pingTimeout))

		switch messageType {
		case websocket.TextMessage:
			if len(data) > maxTextMessageSize {
				s.sendError(ErrMessageTooLarge, "text frame exceeds size limit")
				continue
			}
			s.handleEnvelope(data)
		case websocket.BinaryMessage:
			if len(data) > maxBinaryMessageSize {
				s.sendError(ErrMessageTooLarge, "binary frame exceeds size limit")
				continue
			}
			s.handleBinaryFrame(data)
		default:
			// Control frames are handled by gorilla/websocket internally.
		}
	}
}

// writePump drains the outbound queue to the socket. A closed send channel
// (set by close) ends the loop and sends the final close frame, matching the
// teacher's writePump shutdown sequence.
func (s *Session) writePump() {
	defer s.conn.Close()

	for message := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// enqueue marshals an envelope and queues it non-blocking. A full queue is a
// slow-consumer condition: the session is closed rather than left to block
// the Hub's dispatch loop, per spec §4.4.
func (s *Session) enqueue(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound envelope", zap.String("type", env.Type), zap.Error(err))
		return
	}
	select {
	case s.send <- b:
	default:
		logging.Warn(context.Background(), "session send queue full, closing slow consumer", zap.String("room_id", s.roomID.String()))
		s.close(websocket.CloseMessageTooBig, "outbound queue overflow")
	}
}

func (s *Session) sendError(code ErrorCode, format string, args ...any) {
	ce := NewCodedError(code, format, args...)
	s.enqueue(Envelope{Type: string(EventError), Data: mustMarshal(ErrorPayload{
		Message:   ce.Reason,
		ErrorCode: string(ce.Code),
	})})
}

// close transitions to Closing and tears down the outbound queue exactly
// once; writePump observes the close and sends the WS close frame.
func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosing
		s.mu.Unlock()
		close(s.send)
	})
}

// handleDisconnect runs once per session teardown, unregistering it from
// the Hub and, if it was seated as a player, opening a reconnection window
// instead of an immediate hard departure (spec §4.3).
func (s *Session) handleDisconnect() {
	s.mu.Lock()
	playerID, spectatorID, roomID := s.playerID, s.spectatorID, s.roomID
	s.mu.Unlock()

	if playerID != idmint.Nil {
		s.hub.unregisterPlayerSession(playerID)
		if room, err := s.hub.lookupRoomByID(roomID); err == nil {
			window := s.hub.cfg.ReconnectionWindow
			if effects, err := s.hub.BeginDisconnect(room, playerID, window); err == nil {
				s.hub.dispatch(effects)
			}
		}
	}
	if spectatorID != idmint.Nil {
		s.hub.unregisterSpectatorSession(spectatorID)
		if room, err := s.hub.lookupRoomByID(roomID); err == nil {
			if effects, err := s.hub.LeaveSpectator(room, spectatorID); err == nil {
				s.hub.dispatch(effects)
			}
		}
	}
}
