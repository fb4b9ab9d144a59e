package signaling

import (
	"github.com/meshplay/signalserver/internal/v1/idmint"
	"github.com/meshplay/signalserver/internal/v1/metrics"
)

// RequestAuthority grants or clears single-room authority. Granting requires
// supports_authority and that no other player currently holds it; clearing
// requires the caller to be the current holder. AuthorityChanged is
// broadcast personalized per recipient (you_are_authority is true only for
// the new holder), matching spec §4.5.
func (h *Hub) RequestAuthority(room *Room, playerID idmint.ID, become bool) (bool, []Effect, error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.SupportsAuthority {
		return false, nil, NewCodedError(ErrAuthorityNotSupported, "room %s does not support authority", room.RoomCode)
	}
	if _, ok := room.Players[playerID]; !ok {
		return false, nil, NewCodedError(ErrNotInRoom, "player %s is not in room %s", playerID, room.RoomCode)
	}

	if become {
		if room.AuthorityPlayer != idmint.Nil && room.AuthorityPlayer != playerID {
			return false, nil, NewCodedError(ErrAuthorityConflict, "player %s already holds authority", room.AuthorityPlayer)
		}
		if room.AuthorityPlayer == playerID {
			// A no-op grant by the current holder, per spec §8 idempotence.
			return true, nil, nil
		}
		if p := room.Players[playerID]; p != nil {
			p.IsAuthority = true
		}
		room.AuthorityPlayer = playerID
		metrics.AuthorityChanges.WithLabelValues("granted").Inc()
		return true, room.broadcastAuthorityChangedLocked(), nil
	}

	if room.AuthorityPlayer != playerID {
		return false, nil, NewCodedError(ErrAuthorityDenied, "player %s does not hold authority", playerID)
	}
	room.clearAuthorityLocked()
	metrics.AuthorityChanges.WithLabelValues("released").Inc()
	return true, room.broadcastAuthorityChangedLocked(), nil
}

// clearAuthorityIfHeldLocked clears authority if playerID currently holds
// it, returning the AuthorityChanged broadcast effects (empty if the player
// did not hold authority). Used by LeaveRoom to guarantee the "clear first,
// then depart" ordering from spec §4.5: callers append the returned effects
// before appending PlayerLeft. Caller must hold room.mu.
func (r *Room) clearAuthorityIfHeldLocked(playerID idmint.ID) []Effect {
	if r.AuthorityPlayer != playerID {
		return nil
	}
	r.clearAuthorityLocked()
	metrics.AuthorityChanges.WithLabelValues("disconnect").Inc()
	return r.broadcastAuthorityChangedLocked()
}

// clearAuthorityLocked clears the authority field with no auto-election, per
// spec §4.2's tie-break rule. Caller must hold room.mu.
func (r *Room) clearAuthorityLocked() {
	if p := r.Players[r.AuthorityPlayer]; p != nil {
		p.IsAuthority = false
	}
	r.AuthorityPlayer = idmint.Nil
}

// broadcastAuthorityChangedLocked emits AuthorityChanged to every room
// member, personalizing you_are_authority per recipient. Caller must hold
// room.mu.
func (r *Room) broadcastAuthorityChangedLocked() []Effect {
	var authorityPlayer *string
	if r.AuthorityPlayer != idmint.Nil {
		s := r.AuthorityPlayer.String()
		authorityPlayer = &s
	}

	effects := make([]Effect, 0, len(r.Players)+len(r.Spectators))
	for _, id := range r.PlayerOrder {
		p := r.Players[id]
		if p == nil || p.Disconnected {
			continue
		}
		effects = append(effects, effect(id, EventAuthorityChanged, AuthorityChangedPayload{
			AuthorityPlayer: authorityPlayer,
			YouAreAuthority: id == r.AuthorityPlayer,
		}))
	}
	for id := range r.Spectators {
		effects = append(effects, effect(id, EventAuthorityChanged, AuthorityChangedPayload{
			AuthorityPlayer: authorityPlayer,
			YouAreAuthority: false,
		}))
	}
	return effects
}
