package signaling

import (
	"context"
	"encoding/json"

	"github.com/meshplay/signalserver/internal/v1/logging"
	"go.uber.org/zap"
)

// Envelope is the wire shape of every message in both directions: a type
// discriminator plus an opaque data object. Text frames carry this as JSON;
// binary frames carry an opaque payload whose encoding (e.g. MessagePack) is
// negotiated out of band and never inspected here.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventType is the tagged-union discriminator carried in Envelope.Type.
type EventType string

// Client -> Server message types.
const (
	EventAuthenticate        EventType = "Authenticate"
	EventJoinRoom            EventType = "JoinRoom"
	EventGameData            EventType = "GameData"
	EventPlayerReady         EventType = "PlayerReady"
	EventAuthorityRequest    EventType = "AuthorityRequest"
	EventLeaveRoom           EventType = "LeaveRoom"
	EventPing                EventType = "Ping"
	EventReconnect           EventType = "Reconnect"
	EventProvideConnInfo     EventType = "ProvideConnectionInfo"
	EventJoinAsSpectator     EventType = "JoinAsSpectator"
	EventLeaveSpectator      EventType = "LeaveSpectator"
)

// Server -> Client message types.
const (
	EventAuthenticated         EventType = "Authenticated"
	EventProtocolInfo          EventType = "ProtocolInfo"
	EventAuthenticationError   EventType = "AuthenticationError"
	EventRoomJoined            EventType = "RoomJoined"
	EventPlayerJoined          EventType = "PlayerJoined"
	EventPlayerLeft            EventType = "PlayerLeft"
	EventPlayerDisconnected    EventType = "PlayerDisconnected"
	EventRoomJoinFailed        EventType = "RoomJoinFailed"
	EventRoomLeft              EventType = "RoomLeft"
	EventGameDataBinary        EventType = "GameDataBinary"
	EventLobbyStateChanged     EventType = "LobbyStateChanged"
	EventAuthorityChanged      EventType = "AuthorityChanged"
	EventAuthorityResponse     EventType = "AuthorityResponse"
	EventGameStarting          EventType = "GameStarting"
	EventError                 EventType = "Error"
	EventPong                  EventType = "Pong"
	EventReconnected           EventType = "Reconnected"
	EventReconnectionFailed    EventType = "ReconnectionFailed"
	EventPlayerReconnected     EventType = "PlayerReconnected"
	EventSpectatorJoined       EventType = "SpectatorJoined"
	EventSpectatorJoinFailed   EventType = "SpectatorJoinFailed"
	EventSpectatorLeft         EventType = "SpectatorLeft"
	EventNewSpectatorJoined    EventType = "NewSpectatorJoined"
	EventSpectatorDisconnected EventType = "SpectatorDisconnected"
)

// --- Client -> Server payloads ---

type AuthenticatePayload struct {
	AppID           string `json:"app_id,omitempty"`
	AppToken        string `json:"app_token,omitempty"`
	GameDataFormat  string `json:"game_data_format,omitempty"`
	SDKVersion      string `json:"sdk_version,omitempty"`
}

type JoinRoomPayload struct {
	Game              string    `json:"game"`
	RoomCode          string    `json:"room_code,omitempty"`
	RoomCodePrefix    string    `json:"room_code_prefix,omitempty"`
	PlayerName        string    `json:"player_name"`
	MaxPlayers        int       `json:"max_players,omitempty"`
	SupportsAuthority bool      `json:"supports_authority,omitempty"`
	RelayType         RelayType `json:"relay_type,omitempty"`
	RegionID          string    `json:"region_id,omitempty"`

	// Spectator settings, applied only when this call creates the room.
	AllowSpectators *bool `json:"allow_spectators,omitempty"`
	MaxSpectators   int   `json:"max_spectators,omitempty"`
}

type GameDataPayload struct {
	Data json.RawMessage `json:"data"`
}

type AuthorityRequestPayload struct {
	Become bool `json:"become"`
}

type ReconnectPayload struct {
	PlayerID  string `json:"player_id"`
	RoomID    string `json:"room_id"`
	AuthToken string `json:"auth_token"`
}

type ProvideConnectionInfoPayload struct {
	PlayerID string          `json:"player_id"`
	Info     json.RawMessage `json:"info"`
}

type JoinAsSpectatorPayload struct {
	Game     string `json:"game"`
	RoomCode string `json:"room_code"`
	Name     string `json:"name"`
}

// --- Server -> Client payloads ---

type RoomJoinedPayload struct {
	RoomID     string     `json:"room_id"`
	RoomCode   string     `json:"room_code"`
	PlayerID   string     `json:"player_id"`
	MaxPlayers int        `json:"max_players"`
	LobbyState LobbyState `json:"lobby_state"`
}

type PlayerJoinedPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
}

type PlayerDisconnectedPayload struct {
	PlayerID string `json:"player_id"`
}

type RoomJoinFailedPayload struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"error_code,omitempty"`
}

type LobbyStateChangedPayload struct {
	LobbyState   LobbyState `json:"lobby_state"`
	ReadyPlayers []string   `json:"ready_players"`
	AllReady     bool       `json:"all_ready"`
}

type AuthorityChangedPayload struct {
	AuthorityPlayer *string `json:"authority_player"`
	YouAreAuthority bool    `json:"you_are_authority"`
}

type AuthorityResponsePayload struct {
	Granted   bool   `json:"granted"`
	Reason    string `json:"reason,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

type PeerConnectionRecord struct {
	PlayerID    string `json:"player_id"`
	Name        string `json:"name"`
	IsAuthority bool   `json:"is_authority"`
}

type GameStartingPayload struct {
	PeerConnections []PeerConnectionRecord `json:"peer_connections"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

type MissedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ReconnectedPayload struct {
	PlayerID     string        `json:"player_id"`
	RoomID       string        `json:"room_id"`
	LobbyState   LobbyState    `json:"lobby_state"`
	MissedEvents []MissedEvent `json:"missed_events"`
}

type ReconnectionFailedPayload struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"error_code,omitempty"`
}

type PlayerReconnectedPayload struct {
	PlayerID string `json:"player_id"`
}

type SpectatorJoinedPayload struct {
	RoomID      string `json:"room_id"`
	SpectatorID string `json:"spectator_id"`
}

type SpectatorJoinFailedPayload struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"error_code,omitempty"`
}

type NewSpectatorJoinedPayload struct {
	SpectatorID string `json:"spectator_id"`
	Name        string `json:"name"`
}

type SpectatorDisconnectedPayload struct {
	SpectatorID string `json:"spectator_id"`
}

// mustMarshal is used at call sites that construct payloads from values we
// just built ourselves; a marshal failure there means a programming error,
// not a caller input problem, so it logs and degrades to an empty object
// rather than panicking the coordinator.
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal payload", zap.Error(err))
		return json.RawMessage("{}")
	}
	return b
}
