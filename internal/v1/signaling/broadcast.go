package signaling

import "github.com/meshplay/signalserver/internal/v1/idmint"

// Effect is one (recipient, message) pair a coordinator operation emits.
// Coordinator methods run under the room's exclusive lease and return a
// slice of these; the caller (Hub.dispatch) performs the actual delivery
// outside the lease, since per spec §5 "serialization of outbound messages
// happens outside the lease" and no blocking I/O may occur between acquiring
// and releasing a room's lock.
//
// Data is shared by reference across every Effect built from the same
// source value (e.g. one relay_game_data call builds N effects that all
// point at the same GameDataPayload) — the coordinator makes no
// per-recipient copy. Each recipient's bytes are produced when Hub.dispatch
// marshals that recipient's Effect into its session's send queue, after the
// room's lease has been released; writePump then writes those bytes as-is.
type Effect struct {
	Recipient idmint.ID
	Type      EventType
	Data      any
}

func effect(recipient idmint.ID, t EventType, data any) Effect {
	return Effect{Recipient: recipient, Type: t, Data: data}
}

// broadcastToPlayers appends one Effect per connected player in the room,
// optionally excluding one id (the sender, to prevent echo).
func broadcastToPlayers(r *Room, t EventType, data any, exclude idmint.ID) []Effect {
	effects := make([]Effect, 0, len(r.Players))
	for _, id := range r.PlayerOrder {
		p, ok := r.Players[id]
		if !ok || p.Disconnected || id == exclude {
			continue
		}
		effects = append(effects, effect(id, t, data))
	}
	return effects
}

// broadcastToSpectators appends one Effect per spectator in the room.
func broadcastToSpectators(r *Room, t EventType, data any) []Effect {
	effects := make([]Effect, 0, len(r.Spectators))
	for id := range r.Spectators {
		effects = append(effects, effect(id, t, data))
	}
	return effects
}

// broadcastToRoom is broadcastToPlayers plus broadcastToSpectators, the
// common case for lobby and authority events that every room member should
// observe regardless of role.
func broadcastToRoom(r *Room, t EventType, data any, exclude idmint.ID) []Effect {
	effects := broadcastToPlayers(r, t, data, exclude)
	return append(effects, broadcastToSpectators(r, t, data)...)
}
