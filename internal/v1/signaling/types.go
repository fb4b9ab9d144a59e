// Package signaling implements the room coordination engine, the
// per-connection protocol driver, the reconnection and event-replay
// subsystem, authority arbitration, and broadcast fan-out for peer-to-peer
// multiplayer game rooms. It is the core of the signaling server: every
// other package in this module (appregistry, ratelimit, cache, health) is an
// external collaborator whose contract is consumed here, never the reverse.
package signaling

import (
	"sync"
	"time"

	"github.com/meshplay/signalserver/internal/v1/idmint"

	"k8s.io/utils/set"
)

// LobbyState is the per-room state machine position.
type LobbyState string

const (
	LobbyStateWaiting   LobbyState = "waiting"
	LobbyStateLobby     LobbyState = "lobby"
	LobbyStateFinalized LobbyState = "finalized"
)

// RelayType is an opaque transport negotiation hint (e.g. "webrtc") carried
// in room metadata. The coordinator never interprets it.
type RelayType string

// Player is a room member who counts toward max_players and can mutate room
// state. Readiness is tracked in Room.ReadySet, which is cleared on any
// lobby-state regression; the coordinator does not update IsReady.
type Player struct {
	ID             idmint.ID
	Name           string
	IsAuthority    bool
	IsReady        bool
	ConnectedAt    time.Time
	Disconnected   bool // true while a ReconnectionEntry is holding this player's seat
}

// Spectator is a read-only room observer, outside max_players, unable to
// mutate room state.
type Spectator struct {
	ID          idmint.ID
	Name        string
	ConnectedAt time.Time
}

// Room is the in-memory record of one live lobby and its own exclusive
// lease: mu serializes every mutation to this room (and only this room —
// cross-room operations are independent, per spec §5). Operations acquire
// mu, mutate state, compute Effects, and release before any I/O runs; the
// caller delivers Effects outside the lease.
type Room struct {
	mu sync.Mutex

	RoomID            idmint.ID
	RoomCode          string
	GameName          string
	MaxPlayers        int
	SupportsAuthority bool
	RelayType         RelayType
	RegionID          string
	ApplicationID     string

	// SpectatingAllowed and MaxSpectators are fixed at room creation (spec
	// §4.2's join_spectator contract: "requires ... spectating to be
	// allowed; enforces per-room spectator cap"). MaxSpectators <= 0 means
	// unbounded.
	SpectatingAllowed bool
	MaxSpectators     int

	// PlayerOrder preserves join order; draw order in the broader example pack
	// is a container/list, but room membership here has no UI draw-order
	// concern, so an ordered slice of ids alongside the map is simpler and
	// sufficient for deterministic peer_connections ordering in GameStarting.
	PlayerOrder []idmint.ID
	Players     map[idmint.ID]*Player
	Spectators  map[idmint.ID]*Spectator
	ReadySet    set.Set[idmint.ID]

	AuthorityPlayer idmint.ID // idmint.Nil when unset

	LobbyState LobbyState

	CreatedAt      time.Time
	LastActivityAt time.Time
	FinalizedAt    time.Time
}

func newRoom(id idmint.ID, code, game string, maxPlayers int, supportsAuthority bool, relay RelayType, region, appID string, spectatingAllowed bool, maxSpectators int) *Room {
	now := time.Now()
	return &Room{
		RoomID:            id,
		RoomCode:          code,
		GameName:          game,
		MaxPlayers:        maxPlayers,
		SupportsAuthority: supportsAuthority,
		RelayType:         relay,
		RegionID:          region,
		ApplicationID:     appID,
		SpectatingAllowed: spectatingAllowed,
		MaxSpectators:     maxSpectators,
		PlayerOrder:       make([]idmint.ID, 0, maxPlayers),
		Players:           make(map[idmint.ID]*Player, maxPlayers),
		Spectators:        make(map[idmint.ID]*Spectator),
		ReadySet:          set.New[idmint.ID](),
		AuthorityPlayer:   idmint.Nil,
		LobbyState:        LobbyStateWaiting,
		CreatedAt:         now,
		LastActivityAt:    now,
	}
}

// ReconnectionEntry maps a single-use auth token to the player, room,
// authority flag, and buffered events that let a disconnected player resume
// their seat within the reconnection window.
type ReconnectionEntry struct {
	Token        idmint.ID
	PlayerID     idmint.ID
	RoomID       idmint.ID
	WasAuthority bool
	Deadline     time.Time
	Buffer       *EventBuffer
	timer        *time.Timer
}
