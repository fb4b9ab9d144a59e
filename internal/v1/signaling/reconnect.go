package signaling

import (
	"time"

	"github.com/meshplay/signalserver/internal/v1/idmint"
	"github.com/meshplay/signalserver/internal/v1/metrics"
)

// BeginDisconnect opens a reconnection window for playerID: the player's seat
// is held (marked Disconnected, not removed) and a single-use token is
// minted. Subsequent events addressed to the player are buffered instead of
// dropped until the window expires or Reconnect consumes the token. An
// interim PlayerDisconnected is broadcast immediately, deferring the harder
// PlayerLeft departure to window expiry (see DESIGN.md for the open-question
// rationale).
func (h *Hub) BeginDisconnect(room *Room, playerID idmint.ID, window time.Duration) ([]Effect, error) {
	room.mu.Lock()
	player, ok := room.Players[playerID]
	if !ok {
		room.mu.Unlock()
		return nil, NewCodedError(ErrNotInRoom, "player %s is not in room %s", playerID, room.RoomCode)
	}
	player.Disconnected = true
	wasAuthority := room.AuthorityPlayer == playerID
	// Lobby state is not regressed here: spec.md §4.2 only regresses a
	// held seat's departure at hard departure (window expiry), not at the
	// start of the reconnection window, so Lobby/Finalized stays intact
	// while the seat is merely pending.
	effects := broadcastToPlayers(room, EventPlayerDisconnected, PlayerDisconnectedPayload{
		PlayerID: playerID.String(),
	}, playerID)
	roomID := room.RoomID
	room.mu.Unlock()

	h.unregisterPlayerSession(playerID)

	token := idmint.FreshID()
	entry := &ReconnectionEntry{
		Token:        token,
		PlayerID:     playerID,
		RoomID:       roomID,
		WasAuthority: wasAuthority,
		Deadline:     time.Now().Add(window),
		Buffer:       NewEventBuffer(h.cfg.DefaultEventBufferCapacity),
	}
	entry.timer = time.AfterFunc(window, func() { h.expireReconnection(token) })

	h.reconnectMu.Lock()
	h.reconnectByToken[token] = entry
	h.reconnectByPlayer[playerID] = entry
	h.reconnectMu.Unlock()

	metrics.PendingReconnections.Inc()
	return effects, nil
}

// Reconnect validates a (player_id, room_id, auth_token) triple and, on
// success, restores the player's seat: authority if still vacant, missed
// events drained in emission order, and a PlayerReconnected broadcast to the
// rest of the room. The token is single-use regardless of outcome beyond
// this call succeeding.
func (h *Hub) Reconnect(playerIDStr, roomIDStr, tokenStr string) (*Room, idmint.ID, []Effect, []MissedEvent, error) {
	playerID, err := idmint.ParseID(playerIDStr)
	if err != nil {
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrReconnectionTokenInvalid, "malformed player_id")
	}
	roomID, err := idmint.ParseID(roomIDStr)
	if err != nil {
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrReconnectionTokenInvalid, "malformed room_id")
	}
	token, err := idmint.ParseID(tokenStr)
	if err != nil {
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrReconnectionTokenInvalid, "malformed auth_token")
	}

	h.reconnectMu.Lock()
	entry, ok := h.reconnectByToken[token]
	if !ok || entry.PlayerID != playerID || entry.RoomID != roomID {
		h.reconnectMu.Unlock()
		metrics.ReconnectionsAttempted.WithLabelValues("invalid_token").Inc()
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrReconnectionTokenInvalid, "token does not match player/room")
	}
	if time.Now().After(entry.Deadline) {
		h.reconnectMu.Unlock()
		metrics.ReconnectionsAttempted.WithLabelValues("expired").Inc()
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrReconnectionExpired, "reconnection window has closed")
	}
	delete(h.reconnectByToken, token)
	delete(h.reconnectByPlayer, playerID)
	h.reconnectMu.Unlock()
	entry.timer.Stop()
	metrics.PendingReconnections.Dec()

	h.sessionsMu.RLock()
	_, alreadyLive := h.sessionsByPlayer[playerID]
	h.sessionsMu.RUnlock()
	if alreadyLive {
		metrics.ReconnectionsAttempted.WithLabelValues("already_connected").Inc()
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrPlayerAlreadyConnected, "player %s already has a live session", playerID)
	}

	room, err := h.lookupRoomByID(roomID)
	if err != nil {
		metrics.ReconnectionsAttempted.WithLabelValues("room_gone").Inc()
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrRoomNotFound, "room %s no longer exists", roomID)
	}

	room.mu.Lock()
	player, ok := room.Players[playerID]
	if !ok {
		room.mu.Unlock()
		metrics.ReconnectionsAttempted.WithLabelValues("player_gone").Inc()
		return nil, idmint.Nil, nil, nil, NewCodedError(ErrReconnectionFailed, "player %s is no longer seated in room %s", playerID, room.RoomCode)
	}
	player.Disconnected = false

	var effects []Effect
	if entry.WasAuthority && room.AuthorityPlayer == idmint.Nil {
		player.IsAuthority = true
		room.AuthorityPlayer = playerID
		effects = append(effects, room.broadcastAuthorityChangedLocked()...)
	}
	effects = append(effects, broadcastToPlayers(room, EventPlayerReconnected, PlayerReconnectedPayload{
		PlayerID: playerID.String(),
	}, playerID)...)
	room.LastActivityAt = time.Now()
	room.mu.Unlock()

	missed := entry.Buffer.Drain()

	metrics.ReconnectionsAttempted.WithLabelValues("success").Inc()
	return room, playerID, effects, missed, nil
}

// expireReconnection is the timer callback for a reconnection window that
// was never consumed. The player's seat departs for good, applying the same
// ordering and regression rules as a voluntary LeaveRoom.
func (h *Hub) expireReconnection(token idmint.ID) {
	h.reconnectMu.Lock()
	entry, ok := h.reconnectByToken[token]
	if !ok {
		h.reconnectMu.Unlock()
		return
	}
	delete(h.reconnectByToken, token)
	delete(h.reconnectByPlayer, entry.PlayerID)
	h.reconnectMu.Unlock()
	metrics.PendingReconnections.Dec()
	metrics.ReconnectionsAttempted.WithLabelValues("window_expired").Inc()

	room, err := h.lookupRoomByID(entry.RoomID)
	if err != nil {
		return
	}

	room.mu.Lock()
	if _, ok := room.Players[entry.PlayerID]; !ok {
		room.mu.Unlock()
		return
	}
	var effects []Effect
	effects = append(effects, room.clearAuthorityIfHeldLocked(entry.PlayerID)...)
	delete(room.Players, entry.PlayerID)
	room.ReadySet.Delete(entry.PlayerID)
	room.PlayerOrder = removeID(room.PlayerOrder, entry.PlayerID)
	room.LastActivityAt = time.Now()
	effects = append(effects, broadcastToPlayers(room, EventPlayerLeft, PlayerLeftPayload{
		PlayerID: entry.PlayerID.String(),
	}, idmint.Nil)...)
	effects = append(effects, room.regressLobbyStateLocked()...)
	room.mu.Unlock()

	h.dispatch(effects)
}
