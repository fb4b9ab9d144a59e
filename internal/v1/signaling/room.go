package signaling

import (
	"time"

	"github.com/meshplay/signalserver/internal/v1/idmint"
	"github.com/meshplay/signalserver/internal/v1/metrics"
)

// roomKey identifies a room by its human-facing coordinates: a room code is
// only unique within its game namespace (spec §3: "(game_name, room_code) is
// unique across live rooms").
type roomKey struct {
	game string
	code string
}

// CreateRoom mints a room, inserts the creator as its first player, and (if
// the room supports authority) grants the creator authority immediately.
// A max_players of 1 bypasses Lobby and finalizes on creation (spec §4.2
// special case).
func (h *Hub) CreateRoom(game, code, roomCodePrefix, creatorName string, maxPlayers int, supportsAuthority bool, relay RelayType, region, appID string, spectatingAllowed bool, maxSpectators int) (*Room, idmint.ID, []Effect, error) {
	if game == "" {
		return nil, idmint.Nil, nil, NewCodedError(ErrInvalidGameName, "game name must not be empty")
	}
	if creatorName == "" {
		return nil, idmint.Nil, nil, NewCodedError(ErrInvalidPlayerName, "player name must not be empty")
	}
	if maxPlayers < 1 {
		return nil, idmint.Nil, nil, NewCodedError(ErrInvalidMaxPlayers, "max_players must be at least 1")
	}

	h.storeMu.Lock()
	if h.cfg.MaxRoomsPerGame > 0 && h.roomCountByGame[game] >= h.cfg.MaxRoomsPerGame {
		h.storeMu.Unlock()
		return nil, idmint.Nil, nil, NewCodedError(ErrMaxRoomsPerGameExceeded, "game %q already has %d live rooms", game, h.cfg.MaxRoomsPerGame)
	}

	var finalCode string
	if code != "" {
		if _, taken := h.roomsByCode[roomKey{game, code}]; taken {
			h.storeMu.Unlock()
			return nil, idmint.Nil, nil, NewCodedError(ErrRoomCreationFailed, "room code %q already in use for game %q", code, game)
		}
		finalCode = code
	} else {
		taken := func(candidate string) bool {
			_, ok := h.roomsByCode[roomKey{game, candidate}]
			return ok
		}
		c, err := idmint.FreshRoomCode(h.cfg.RoomCodeLength, roomCodePrefix, 0, taken)
		if err != nil {
			h.storeMu.Unlock()
			return nil, idmint.Nil, nil, NewCodedError(ErrRoomCreationFailed, "%s", err)
		}
		finalCode = c
	}

	roomID := idmint.FreshID()
	room := newRoom(roomID, finalCode, game, maxPlayers, supportsAuthority, relay, region, appID, spectatingAllowed, maxSpectators)
	h.roomsByID[roomID] = room
	h.roomsByCode[roomKey{game, finalCode}] = room
	h.roomCountByGame[game]++
	h.storeMu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()

	playerID := idmint.FreshID()
	player := &Player{ID: playerID, Name: creatorName, ConnectedAt: time.Now()}
	if supportsAuthority {
		player.IsAuthority = true
		room.AuthorityPlayer = playerID
	}
	room.Players[playerID] = player
	room.PlayerOrder = append(room.PlayerOrder, playerID)

	var effects []Effect
	effects = append(effects, room.advanceLobbyStateLocked()...)

	metrics.ActiveRooms.Inc()
	return room, playerID, effects, nil
}

// JoinRoom appends a new player to an existing room, triggering a Lobby
// transition if the room becomes full.
func (h *Hub) JoinRoom(game, code, playerName string) (*Room, idmint.ID, []Effect, error) {
	room, err := h.lookupRoomByCode(game, code)
	if err != nil {
		return nil, idmint.Nil, nil, err
	}
	if playerName == "" {
		return nil, idmint.Nil, nil, NewCodedError(ErrInvalidPlayerName, "player name must not be empty")
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if len(room.Players) >= room.MaxPlayers {
		return nil, idmint.Nil, nil, NewCodedError(ErrRoomFull, "room %s is at capacity (%d)", room.RoomCode, room.MaxPlayers)
	}

	playerID := idmint.FreshID()
	player := &Player{ID: playerID, Name: playerName, ConnectedAt: time.Now()}
	room.Players[playerID] = player
	room.PlayerOrder = append(room.PlayerOrder, playerID)
	room.LastActivityAt = time.Now()

	effects := broadcastToPlayers(room, EventPlayerJoined, PlayerJoinedPayload{
		PlayerID: playerID.String(),
		Name:     playerName,
	}, playerID)

	effects = append(effects, room.advanceLobbyStateLocked()...)
	return room, playerID, effects, nil
}

// LeaveRoom removes a player voluntarily. If the player held authority, it
// is cleared and AuthorityChanged is broadcast before PlayerLeft, per spec
// §4.5's definite ordering. Lobby regression applies if membership drops
// below max_players while in Lobby or Finalized.
func (h *Hub) LeaveRoom(room *Room, playerID idmint.ID) ([]Effect, error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.Players[playerID]; !ok {
		return nil, NewCodedError(ErrNotInRoom, "player %s is not in room %s", playerID, room.RoomCode)
	}

	var effects []Effect
	effects = append(effects, room.clearAuthorityIfHeldLocked(playerID)...)

	delete(room.Players, playerID)
	room.ReadySet.Delete(playerID)
	room.PlayerOrder = removeID(room.PlayerOrder, playerID)
	room.LastActivityAt = time.Now()

	effects = append(effects, broadcastToPlayers(room, EventPlayerLeft, PlayerLeftPayload{
		PlayerID: playerID.String(),
	}, idmint.Nil)...)

	effects = append(effects, room.regressLobbyStateLocked()...)
	return effects, nil
}

// MarkReady adds the player to the ready set (marking an already-ready
// player again leaves it there). Valid only in Lobby state;
// in Waiting, the spec's open question is resolved as rejection rather than
// silent ignore (see DESIGN.md). Reaching full readiness transitions to
// Finalized and emits GameStarting.
func (h *Hub) MarkReady(room *Room, playerID idmint.ID) ([]Effect, error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.Players[playerID]; !ok {
		return nil, NewCodedError(ErrNotInRoom, "player %s is not in room %s", playerID, room.RoomCode)
	}
	if room.LobbyState != LobbyStateLobby {
		return nil, NewCodedError(ErrInvalidRoomState, "mark_ready is only valid in lobby state, room is %s", room.LobbyState)
	}

	room.ReadySet.Insert(playerID)

	effects := room.broadcastLobbyStateLocked()
	if room.ReadySet.Len() == len(room.Players) {
		effects = append(effects, room.finalizeLocked()...)
	}
	return effects, nil
}

// advanceLobbyStateLocked transitions Waiting -> Lobby when the room fills,
// or directly Waiting -> Finalized for max_players == 1 rooms. Caller must
// hold room.mu.
func (r *Room) advanceLobbyStateLocked() []Effect {
	if r.LobbyState != LobbyStateWaiting {
		return nil
	}
	if len(r.Players) < r.MaxPlayers {
		return nil
	}
	if r.MaxPlayers == 1 {
		return r.finalizeLocked()
	}
	metrics.LobbyStateTransitions.WithLabelValues(string(LobbyStateWaiting), string(LobbyStateLobby)).Inc()
	r.LobbyState = LobbyStateLobby
	return r.broadcastLobbyStateLocked()
}

// regressLobbyStateLocked drops Lobby/Finalized back to Waiting when
// membership falls below max_players, clearing ready_set. Caller must hold
// room.mu.
func (r *Room) regressLobbyStateLocked() []Effect {
	if r.LobbyState == LobbyStateWaiting {
		return nil
	}
	if len(r.Players) >= r.MaxPlayers {
		return nil
	}
	metrics.LobbyStateTransitions.WithLabelValues(string(r.LobbyState), string(LobbyStateWaiting)).Inc()
	r.LobbyState = LobbyStateWaiting
	r.ReadySet.Clear()
	return r.broadcastLobbyStateLocked()
}

// finalizeLocked transitions to Finalized and emits GameStarting exactly
// once, carrying peer connection records so new peers know the authority
// from the outset (spec §4.5).
func (r *Room) finalizeLocked() []Effect {
	metrics.LobbyStateTransitions.WithLabelValues(string(r.LobbyState), string(LobbyStateFinalized)).Inc()
	r.LobbyState = LobbyStateFinalized
	r.FinalizedAt = time.Now()

	effects := r.broadcastLobbyStateLocked()

	peers := make([]PeerConnectionRecord, 0, len(r.PlayerOrder))
	for _, id := range r.PlayerOrder {
		p := r.Players[id]
		if p == nil {
			continue
		}
		peers = append(peers, PeerConnectionRecord{
			PlayerID:    id.String(),
			Name:        p.Name,
			IsAuthority: p.IsAuthority,
		})
	}
	payload := GameStartingPayload{PeerConnections: peers}
	return append(effects, broadcastToRoom(r, EventGameStarting, payload, idmint.Nil)...)
}

// broadcastLobbyStateLocked emits LobbyStateChanged to the whole room. Per
// the open-question decision, this fires even for max_players == 1 rooms for
// event-stream consistency. Caller must hold room.mu.
func (r *Room) broadcastLobbyStateLocked() []Effect {
	readyIDs := r.ReadySet.UnsortedList()
	ready := make([]string, 0, len(readyIDs))
	for _, id := range readyIDs {
		ready = append(ready, id.String())
	}
	payload := LobbyStateChangedPayload{
		LobbyState:   r.LobbyState,
		ReadyPlayers: ready,
		AllReady:     r.ReadySet.Len() == len(r.Players) && len(r.Players) > 0,
	}
	return broadcastToRoom(r, EventLobbyStateChanged, payload, idmint.Nil)
}

// RelayGameData forwards an opaque payload to every other player and every
// spectator (the open-question decision: spectator relay is unconditional).
// The sender never receives its own echo.
func (h *Hub) RelayGameData(room *Room, senderID idmint.ID, eventType EventType, data any) ([]Effect, error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.Players[senderID]; !ok {
		return nil, NewCodedError(ErrNotInRoom, "player %s is not in room %s", senderID, room.RoomCode)
	}

	return broadcastToRoom(room, eventType, data, senderID), nil
}

// JoinSpectator admits a spectator if the room exists, allows spectating,
// and has spectator capacity remaining (spec §4.2's join_spectator contract).
func (h *Hub) JoinSpectator(game, code, name string) (*Room, idmint.ID, []Effect, error) {
	room, err := h.lookupRoomByCode(game, code)
	if err != nil {
		return nil, idmint.Nil, nil, err
	}
	if name == "" {
		return nil, idmint.Nil, nil, NewCodedError(ErrInvalidPlayerName, "spectator name must not be empty")
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.SpectatingAllowed {
		return nil, idmint.Nil, nil, NewCodedError(ErrSpectatorNotAllowed, "room %s does not allow spectators", room.RoomCode)
	}
	if room.MaxSpectators > 0 && len(room.Spectators) >= room.MaxSpectators {
		return nil, idmint.Nil, nil, NewCodedError(ErrTooManySpectators, "room %s already has %d spectators", room.RoomCode, room.MaxSpectators)
	}

	specID := idmint.FreshID()
	room.Spectators[specID] = &Spectator{ID: specID, Name: name, ConnectedAt: time.Now()}

	effects := broadcastToPlayers(room, EventNewSpectatorJoined, NewSpectatorJoinedPayload{
		SpectatorID: specID.String(),
		Name:        name,
	}, idmint.Nil)
	return room, specID, effects, nil
}

// LeaveSpectator removes a spectator and broadcasts SpectatorDisconnected.
func (h *Hub) LeaveSpectator(room *Room, spectatorID idmint.ID) ([]Effect, error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.Spectators[spectatorID]; !ok {
		return nil, NewCodedError(ErrNotASpectator, "spectator %s is not in room %s", spectatorID, room.RoomCode)
	}
	delete(room.Spectators, spectatorID)

	return broadcastToRoom(room, EventSpectatorDisconnected, SpectatorDisconnectedPayload{
		SpectatorID: spectatorID.String(),
	}, idmint.Nil), nil
}

// lookupRoomByCode resolves a (game, code) pair under the store's brief
// shared lock. The returned *Room's own lease (room.mu) is not held; callers
// acquire it themselves for the mutation that follows.
func (h *Hub) lookupRoomByCode(game, code string) (*Room, error) {
	h.storeMu.RLock()
	room, ok := h.roomsByCode[roomKey{game, code}]
	h.storeMu.RUnlock()
	if !ok {
		return nil, NewCodedError(ErrRoomNotFound, "no live room %q for game %q", code, game)
	}
	return room, nil
}

// lookupRoomByID resolves a room_id under the store's brief shared lock.
func (h *Hub) lookupRoomByID(id idmint.ID) (*Room, error) {
	h.storeMu.RLock()
	room, ok := h.roomsByID[id]
	h.storeMu.RUnlock()
	if !ok {
		return nil, NewCodedError(ErrRoomNotFound, "no live room with id %s", id)
	}
	return room, nil
}

func removeID(ids []idmint.ID, target idmint.ID) []idmint.ID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
