package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainEnvelope(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case b := <-s.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound envelope")
		return Envelope{}
	}
}

func envelopeJSON(t *testing.T, typ EventType, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	b, err := json.Marshal(Envelope{Type: string(typ), Data: raw})
	require.NoError(t, err)
	return b
}

func newTestSession(h *Hub) *Session {
	return newSession(h, newFakeConn())
}

func TestHandleEnvelope_RejectsBeforeAuthenticate(t *testing.T) {
	h := testHub(t)
	s := newTestSession(h)

	s.handleEnvelope(envelopeJSON(t, EventJoinRoom, JoinRoomPayload{Game: "g", PlayerName: "a"}))

	env := drainEnvelope(t, s)
	assert.Equal(t, string(EventError), env.Type)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, string(ErrAuthenticationRequired), payload.ErrorCode)
}

func TestHandleEnvelope_AuthenticateWithoutRegistrySucceeds(t *testing.T) {
	h := testHub(t)
	s := newTestSession(h)

	s.handleEnvelope(envelopeJSON(t, EventAuthenticate, AuthenticatePayload{AppID: "app1"}))

	env := drainEnvelope(t, s)
	assert.Equal(t, string(EventAuthenticated), env.Type)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, stateAuthed, s.state)
}

func TestHandleEnvelope_AuthenticateMissingAppID(t *testing.T) {
	h := testHub(t)
	s := newTestSession(h)

	s.handleEnvelope(envelopeJSON(t, EventAuthenticate, AuthenticatePayload{}))

	env := drainEnvelope(t, s)
	assert.Equal(t, string(EventError), env.Type)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, string(ErrMissingAppID), payload.ErrorCode)
}

func authenticatedSession(t *testing.T, h *Hub) *Session {
	t.Helper()
	s := newTestSession(h)
	s.handleEnvelope(envelopeJSON(t, EventAuthenticate, AuthenticatePayload{AppID: "app1"}))
	drainEnvelope(t, s)
	return s
}

func TestHandleEnvelope_JoinRoomCreatesAndJoins(t *testing.T) {
	h := testHub(t)
	s1 := authenticatedSession(t, h)

	s1.handleEnvelope(envelopeJSON(t, EventJoinRoom, JoinRoomPayload{
		Game: "tictactoe", PlayerName: "alice", MaxPlayers: 2,
	}))
	env := drainEnvelope(t, s1)
	require.Equal(t, string(EventRoomJoined), env.Type)

	var joined RoomJoinedPayload
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.NotEmpty(t, joined.RoomCode)

	s1.mu.Lock()
	state := s1.state
	s1.mu.Unlock()
	assert.Equal(t, stateInRoom, state)

	s2 := authenticatedSession(t, h)
	s2.handleEnvelope(envelopeJSON(t, EventJoinRoom, JoinRoomPayload{
		Game: "tictactoe", RoomCode: joined.RoomCode, PlayerName: "bob",
	}))
	env2 := drainEnvelope(t, s2)
	assert.Equal(t, string(EventRoomJoined), env2.Type)

	// alice should have received PlayerJoined + LobbyStateChanged for bob.
	aliceEvt := drainEnvelope(t, s1)
	assert.Contains(t, []string{string(EventPlayerJoined), string(EventLobbyStateChanged)}, aliceEvt.Type)
}

func TestHandleEnvelope_JoinRoomUnknownCode(t *testing.T) {
	h := testHub(t)
	s := authenticatedSession(t, h)

	s.handleEnvelope(envelopeJSON(t, EventJoinRoom, JoinRoomPayload{
		Game: "tictactoe", RoomCode: "NOPE", PlayerName: "alice",
	}))
	env := drainEnvelope(t, s)
	assert.Equal(t, string(EventRoomJoinFailed), env.Type)
	var payload RoomJoinFailedPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, string(ErrRoomNotFound), payload.ErrorCode)
}

func TestHandleEnvelope_LeaveRoomThenRejectsGameData(t *testing.T) {
	h := testHub(t)
	s := authenticatedSession(t, h)
	s.handleEnvelope(envelopeJSON(t, EventJoinRoom, JoinRoomPayload{Game: "g", PlayerName: "alice", MaxPlayers: 2}))
	drainEnvelope(t, s)

	s.handleEnvelope(envelopeJSON(t, EventLeaveRoom, nil))
	env := drainEnvelope(t, s)
	assert.Equal(t, string(EventRoomLeft), env.Type)

	s.handleEnvelope(envelopeJSON(t, EventGameData, GameDataPayload{}))
	env2 := drainEnvelope(t, s)
	assert.Equal(t, string(EventError), env2.Type)
}

func TestHandleEnvelope_PingPong(t *testing.T) {
	h := testHub(t)
	s := authenticatedSession(t, h)

	s.handleEnvelope(envelopeJSON(t, EventPing, nil))
	env := drainEnvelope(t, s)
	assert.Equal(t, string(EventPong), env.Type)
}

func TestHandleEnvelope_UnknownType(t *testing.T) {
	h := testHub(t)
	s := authenticatedSession(t, h)

	s.handleEnvelope(envelopeJSON(t, EventType("NotARealEvent"), nil))
	env := drainEnvelope(t, s)
	assert.Equal(t, string(EventError), env.Type)
}
