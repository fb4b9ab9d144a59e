// Package signaling - handlers.go
//
// handleEnvelope is the router: one case per client message type, each
// asserting its payload, checking the connection state machine, calling the
// matching Hub coordinator method, and translating the result into the
// correct response envelope. Grounded on the teacher's router/assertPayload
// pattern in session/handlers.go and session/room.go, generalized from a
// permission-role check (HasHostPermission) to this protocol's linear
// Open/Unauth/Authed/InRoom state machine.
package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meshplay/signalserver/internal/v1/appregistry"
	"github.com/meshplay/signalserver/internal/v1/idmint"
	"github.com/meshplay/signalserver/internal/v1/logging"
	"github.com/meshplay/signalserver/internal/v1/metrics"
)

func assertPayload[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, true
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

// handleEnvelope decodes and routes one client-origin text frame.
func (s *Session) handleEnvelope(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(ErrInvalidInput, "malformed envelope")
		return
	}

	start := time.Now()
	eventType := EventType(env.Type)
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if eventType != EventAuthenticate && state == stateOpen {
		s.sendError(ErrAuthenticationRequired, "authenticate before sending %s", env.Type)
		metrics.WebsocketEvents.WithLabelValues(env.Type, "rejected").Inc()
		return
	}

	switch eventType {
	case EventAuthenticate:
		s.handleAuthenticate(env.Data)
	case EventJoinRoom:
		s.handleJoinRoom(env.Data)
	case EventJoinAsSpectator:
		s.handleJoinAsSpectator(env.Data)
	case EventReconnect:
		s.handleReconnect(env.Data)
	case EventGameData:
		s.handleGameData(env.Data)
	case EventPlayerReady:
		s.handlePlayerReady()
	case EventAuthorityRequest:
		s.handleAuthorityRequest(env.Data)
	case EventLeaveRoom:
		s.handleLeaveRoom()
	case EventLeaveSpectator:
		s.handleLeaveSpectator()
	case EventPing:
		s.enqueue(Envelope{Type: string(EventPong)})
	default:
		s.sendError(ErrInvalidInput, "unknown event type %q", env.Type)
		metrics.WebsocketEvents.WithLabelValues(env.Type, "unknown").Inc()
		return
	}

	metrics.WebsocketEvents.WithLabelValues(env.Type, "success").Inc()
}

// handleBinaryFrame relays an opaque binary payload to the rest of the room
// as GameDataBinary. The server never inspects its contents (spec §6).
func (s *Session) handleBinaryFrame(data []byte) {
	s.mu.Lock()
	state, roomID, playerID := s.state, s.roomID, s.playerID
	s.mu.Unlock()

	if state != stateInRoom || playerID == idmint.Nil {
		s.sendError(ErrNotInRoom, "binary frames require an active room membership")
		return
	}
	room, err := s.hub.lookupRoomByID(roomID)
	if err != nil {
		s.sendError(ErrRoomNotFound, "room no longer exists")
		return
	}
	effects, err := s.hub.RelayGameData(room, playerID, EventGameDataBinary, rawBinaryPayload(data))
	if err != nil {
		s.emitCodedError(err)
		return
	}
	metrics.GameDataRelayed.WithLabelValues("binary").Inc()
	s.hub.dispatch(effects)
}

// rawBinaryPayload marshals raw bytes as a base64 JSON string via the
// standard []byte MarshalJSON, matching how GameDataBinary is carried inside
// an otherwise-JSON envelope for a recipient whose own frame is text.
type rawBinaryPayload []byte

func (s *Session) handleAuthenticate(raw json.RawMessage) {
	p, ok := assertPayload[AuthenticatePayload](raw)
	if !ok {
		s.sendError(ErrInvalidInput, "malformed authenticate payload")
		return
	}
	if p.AppID == "" {
		s.sendError(ErrMissingAppID, "app_id is required")
		return
	}

	ctx := logging.WithAppID(context.Background(), p.AppID)
	if s.hub.registry != nil {
		cred, err := s.hub.registry.Validate(ctx, p.AppToken)
		if err != nil {
			s.sendError(ErrInvalidAppID, "app credential validation failed: %s", err)
			return
		}
		if cred.AppID != p.AppID {
			s.sendError(ErrInvalidAppID, "app_token does not match app_id")
			return
		}
		if !cred.Active() {
			switch cred.Status {
			case appregistry.StatusRevoked:
				s.sendError(ErrAppIDRevoked, "app credential has been revoked")
			case appregistry.StatusSuspended:
				s.sendError(ErrAppIDSuspended, "app credential is suspended")
			default:
				s.sendError(ErrAppIDExpired, "app credential has expired")
			}
			return
		}
	}
	if s.hub.rateLimiter != nil {
		if err := s.hub.rateLimiter.CheckWebSocketApp(ctx, p.AppID); err != nil {
			s.sendError(ErrRateLimitExceeded, "per-app connection rate exceeded")
			return
		}
	}

	s.mu.Lock()
	s.appID = p.AppID
	s.state = stateAuthed
	s.mu.Unlock()

	s.enqueue(Envelope{Type: string(EventAuthenticated)})
}

func (s *Session) handleJoinRoom(raw json.RawMessage) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == stateInRoom {
		s.sendError(ErrAlreadyInRoom, "session is already seated in a room")
		return
	}

	p, ok := assertPayload[JoinRoomPayload](raw)
	if !ok {
		s.sendError(ErrInvalidInput, "malformed join_room payload")
		return
	}

	var room *roomJoinResult
	var err error
	if p.RoomCode == "" {
		room, err = s.joinOrCreate(p)
	} else {
		r, playerID, effects, jerr := s.hub.JoinRoom(p.Game, p.RoomCode, p.PlayerName)
		if jerr == nil {
			room = &roomJoinResult{room: r, playerID: playerID, effects: effects}
		}
		err = jerr
	}
	if err != nil {
		s.sendRoomJoinFailed(err)
		return
	}

	if regErr := s.hub.registerPlayerSession(room.playerID, s); regErr != nil {
		s.sendRoomJoinFailed(regErr)
		return
	}

	s.mu.Lock()
	s.state = stateInRoom
	s.playerID = room.playerID
	s.roomID = room.room.RoomID
	s.mu.Unlock()

	metrics.RoomMembers.WithLabelValues(room.room.RoomID.String(), "player").Inc()

	s.enqueue(Envelope{Type: string(EventRoomJoined), Data: mustMarshal(RoomJoinedPayload{
		RoomID:     room.room.RoomID.String(),
		RoomCode:   room.room.RoomCode,
		PlayerID:   room.playerID.String(),
		MaxPlayers: room.room.MaxPlayers,
		LobbyState: room.room.LobbyState,
	})})
	s.hub.dispatch(room.effects)
}

type roomJoinResult struct {
	room     *Room
	playerID idmint.ID
	effects  []Effect
}

func (s *Session) joinOrCreate(p JoinRoomPayload) (*roomJoinResult, error) {
	maxPlayers := p.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = s.hub.cfg.DefaultMaxPlayers
	}
	spectatingAllowed := s.hub.cfg.SpectatingAllowedDefault
	if p.AllowSpectators != nil {
		spectatingAllowed = *p.AllowSpectators
	}
	maxSpectators := p.MaxSpectators
	if maxSpectators <= 0 {
		maxSpectators = s.hub.cfg.DefaultMaxSpectators
	}
	room, playerID, effects, err := s.hub.CreateRoom(p.Game, "", p.RoomCodePrefix, p.PlayerName, maxPlayers, p.SupportsAuthority, p.RelayType, p.RegionID, s.appID, spectatingAllowed, maxSpectators)
	if err != nil {
		return nil, err
	}
	return &roomJoinResult{room: room, playerID: playerID, effects: effects}, nil
}

func (s *Session) sendRoomJoinFailed(err error) {
	ce, _ := AsCodedError(err)
	s.enqueue(Envelope{Type: string(EventRoomJoinFailed), Data: mustMarshal(RoomJoinFailedPayload{
		Reason:    errReason(err),
		ErrorCode: errCode(ce),
	})})
}

func (s *Session) handleJoinAsSpectator(raw json.RawMessage) {
	p, ok := assertPayload[JoinAsSpectatorPayload](raw)
	if !ok {
		s.sendError(ErrInvalidInput, "malformed join_as_spectator payload")
		return
	}

	room, specID, effects, err := s.hub.JoinSpectator(p.Game, p.RoomCode, p.Name)
	if err != nil {
		ce, _ := AsCodedError(err)
		s.enqueue(Envelope{Type: string(EventSpectatorJoinFailed), Data: mustMarshal(SpectatorJoinFailedPayload{
			Reason:    errReason(err),
			ErrorCode: errCode(ce),
		})})
		return
	}

	s.hub.registerSpectatorSession(specID, s)

	s.mu.Lock()
	s.state = stateInRoom
	s.spectatorID = specID
	s.roomID = room.RoomID
	s.mu.Unlock()

	metrics.RoomMembers.WithLabelValues(room.RoomID.String(), "spectator").Inc()

	s.enqueue(Envelope{Type: string(EventSpectatorJoined), Data: mustMarshal(SpectatorJoinedPayload{
		RoomID:      room.RoomID.String(),
		SpectatorID: specID.String(),
	})})
	s.hub.dispatch(effects)
}

func (s *Session) handleReconnect(raw json.RawMessage) {
	p, ok := assertPayload[ReconnectPayload](raw)
	if !ok {
		s.sendError(ErrInvalidInput, "malformed reconnect payload")
		return
	}

	h := s.hub
	room, playerID, effects, missed, err := h.Reconnect(p.PlayerID, p.RoomID, p.AuthToken)
	if err != nil {
		ce, _ := AsCodedError(err)
		s.enqueue(Envelope{Type: string(EventReconnectionFailed), Data: mustMarshal(ReconnectionFailedPayload{
			Reason:    errReason(err),
			ErrorCode: errCode(ce),
		})})
		return
	}
	if regErr := h.registerPlayerSession(playerID, s); regErr != nil {
		s.enqueue(Envelope{Type: string(EventReconnectionFailed), Data: mustMarshal(ReconnectionFailedPayload{
			Reason:    regErr.Error(),
			ErrorCode: string(ErrPlayerAlreadyConnected),
		})})
		return
	}

	s.mu.Lock()
	s.state = stateInRoom
	s.playerID = playerID
	s.roomID = room.RoomID
	s.mu.Unlock()

	s.enqueue(Envelope{Type: string(EventReconnected), Data: mustMarshal(ReconnectedPayload{
		PlayerID:     playerID.String(),
		RoomID:       room.RoomID.String(),
		LobbyState:   room.LobbyState,
		MissedEvents: missed,
	})})
	h.dispatch(effects)
}

func (s *Session) handleGameData(raw json.RawMessage) {
	s.mu.Lock()
	state, roomID, playerID, spectatorID := s.state, s.roomID, s.playerID, s.spectatorID
	s.mu.Unlock()

	if state != stateInRoom || (playerID == idmint.Nil && spectatorID == idmint.Nil) {
		s.sendError(ErrNotInRoom, "game_data requires an active room membership")
		return
	}
	if playerID == idmint.Nil {
		s.sendError(ErrNotASpectator, "spectators cannot send game_data")
		return
	}
	p, ok := assertPayload[GameDataPayload](raw)
	if !ok {
		s.sendError(ErrInvalidInput, "malformed game_data payload")
		return
	}
	room, err := s.hub.lookupRoomByID(roomID)
	if err != nil {
		s.sendError(ErrRoomNotFound, "room no longer exists")
		return
	}
	effects, err := s.hub.RelayGameData(room, playerID, EventGameData, p)
	if err != nil {
		s.emitCodedError(err)
		return
	}
	metrics.GameDataRelayed.WithLabelValues("json").Inc()
	s.hub.dispatch(effects)
}

func (s *Session) handlePlayerReady() {
	s.mu.Lock()
	state, roomID, playerID, spectatorID := s.state, s.roomID, s.playerID, s.spectatorID
	s.mu.Unlock()
	if state != stateInRoom || (playerID == idmint.Nil && spectatorID == idmint.Nil) {
		s.sendError(ErrNotInRoom, "player_ready requires an active room membership")
		return
	}
	if playerID == idmint.Nil {
		s.sendError(ErrNotASpectator, "spectators cannot send player_ready")
		return
	}
	room, err := s.hub.lookupRoomByID(roomID)
	if err != nil {
		s.sendError(ErrRoomNotFound, "room no longer exists")
		return
	}
	effects, err := s.hub.MarkReady(room, playerID)
	if err != nil {
		s.emitCodedError(err)
		return
	}
	s.hub.dispatch(effects)
}

func (s *Session) handleAuthorityRequest(raw json.RawMessage) {
	s.mu.Lock()
	state, roomID, playerID, spectatorID := s.state, s.roomID, s.playerID, s.spectatorID
	s.mu.Unlock()
	if state != stateInRoom || (playerID == idmint.Nil && spectatorID == idmint.Nil) {
		s.sendError(ErrNotInRoom, "authority_request requires an active room membership")
		return
	}
	if playerID == idmint.Nil {
		s.sendError(ErrNotASpectator, "spectators cannot send authority_request")
		return
	}
	p, ok := assertPayload[AuthorityRequestPayload](raw)
	if !ok {
		s.sendError(ErrInvalidInput, "malformed authority_request payload")
		return
	}
	room, err := s.hub.lookupRoomByID(roomID)
	if err != nil {
		s.sendError(ErrRoomNotFound, "room no longer exists")
		return
	}
	granted, effects, err := s.hub.RequestAuthority(room, playerID, p.Become)
	if err != nil {
		ce, _ := AsCodedError(err)
		s.enqueue(Envelope{Type: string(EventAuthorityResponse), Data: mustMarshal(AuthorityResponsePayload{
			Granted:   false,
			Reason:    errReason(err),
			ErrorCode: errCode(ce),
		})})
		return
	}
	s.enqueue(Envelope{Type: string(EventAuthorityResponse), Data: mustMarshal(AuthorityResponsePayload{Granted: granted})})
	s.hub.dispatch(effects)
}

func (s *Session) handleLeaveRoom() {
	s.mu.Lock()
	state, roomID, playerID := s.state, s.roomID, s.playerID
	s.mu.Unlock()
	if state != stateInRoom || playerID == idmint.Nil {
		s.sendError(ErrNotInRoom, "not currently in a room")
		return
	}
	room, err := s.hub.lookupRoomByID(roomID)
	if err != nil {
		s.sendError(ErrRoomNotFound, "room no longer exists")
		return
	}
	effects, err := s.hub.LeaveRoom(room, playerID)
	if err != nil {
		s.emitCodedError(err)
		return
	}
	s.hub.unregisterPlayerSession(playerID)
	metrics.RoomMembers.WithLabelValues(roomID.String(), "player").Dec()

	s.mu.Lock()
	s.state = stateAuthed
	s.playerID = idmint.Nil
	s.roomID = idmint.Nil
	s.mu.Unlock()

	s.enqueue(Envelope{Type: string(EventRoomLeft)})
	s.hub.dispatch(effects)
}

func (s *Session) handleLeaveSpectator() {
	s.mu.Lock()
	state, roomID, specID := s.state, s.roomID, s.spectatorID
	s.mu.Unlock()
	if state != stateInRoom || specID == idmint.Nil {
		s.sendError(ErrNotASpectator, "not currently spectating a room")
		return
	}
	room, err := s.hub.lookupRoomByID(roomID)
	if err != nil {
		s.sendError(ErrRoomNotFound, "room no longer exists")
		return
	}
	effects, err := s.hub.LeaveSpectator(room, specID)
	if err != nil {
		s.emitCodedError(err)
		return
	}
	s.hub.unregisterSpectatorSession(specID)
	metrics.RoomMembers.WithLabelValues(roomID.String(), "spectator").Dec()

	s.mu.Lock()
	s.state = stateAuthed
	s.spectatorID = idmint.Nil
	s.roomID = idmint.Nil
	s.mu.Unlock()

	s.enqueue(Envelope{Type: string(EventSpectatorLeft)})
	s.hub.dispatch(effects)
}

func (s *Session) emitCodedError(err error) {
	ce, ok := AsCodedError(err)
	if !ok {
		s.sendError(ErrInternalError, "%s", err)
		return
	}
	s.enqueue(Envelope{Type: string(EventError), Data: mustMarshal(ErrorPayload{
		Message:   ce.Reason,
		ErrorCode: string(ce.Code),
	})})
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errCode(ce *CodedError) string {
	if ce == nil {
		return string(ErrInternalError)
	}
	return string(ce.Code)
}
