package signaling

import (
	"testing"

	"github.com/meshplay/signalserver/internal/v1/idmint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAuthority_GrantAndConflict(t *testing.T) {
	h := testHub(t)
	room, aliceID, _, err := h.CreateRoom("game", "", "", "alice", 2, true, "", "", "app1", false, 0)
	require.NoError(t, err)
	_, bobID, _, err := h.JoinRoom("game", room.RoomCode, "bob")
	require.NoError(t, err)

	// alice already holds authority as creator; a no-op grant is idempotent.
	granted, effects, err := h.RequestAuthority(room, aliceID, true)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Empty(t, effects)

	_, _, err = h.RequestAuthority(room, bobID, true)
	requireCoded(t, err, ErrAuthorityConflict)
}

func TestRequestAuthority_NotSupported(t *testing.T) {
	h := testHub(t)
	room, aliceID, _, err := h.CreateRoom("game", "", "", "alice", 2, false, "", "", "app1", false, 0)
	require.NoError(t, err)

	_, _, err = h.RequestAuthority(room, aliceID, true)
	requireCoded(t, err, ErrAuthorityNotSupported)
}

func TestRequestAuthority_ReleaseRequiresHolder(t *testing.T) {
	h := testHub(t)
	room, aliceID, _, err := h.CreateRoom("game", "", "", "alice", 2, true, "", "", "app1", false, 0)
	require.NoError(t, err)
	_, bobID, _, err := h.JoinRoom("game", room.RoomCode, "bob")
	require.NoError(t, err)

	_, _, err = h.RequestAuthority(room, bobID, false)
	requireCoded(t, err, ErrAuthorityDenied)

	granted, effects, err := h.RequestAuthority(room, aliceID, false)
	require.NoError(t, err)
	assert.True(t, granted)
	require.NotEmpty(t, effects)
	assert.Equal(t, idmint.Nil, room.AuthorityPlayer)
}

func TestRequestAuthority_PersonalizesYouAreAuthority(t *testing.T) {
	h := testHub(t)
	room, aliceID, _, err := h.CreateRoom("game", "", "", "alice", 2, true, "", "", "app1", false, 0)
	require.NoError(t, err)
	_, bobID, _, err := h.JoinRoom("game", room.RoomCode, "bob")
	require.NoError(t, err)

	_, _, err = h.RequestAuthority(room, aliceID, false)
	require.NoError(t, err)
	_, effects, err := h.RequestAuthority(room, bobID, true)
	require.NoError(t, err)

	for _, e := range effects {
		payload, ok := e.Data.(AuthorityChangedPayload)
		require.True(t, ok)
		if e.Recipient == bobID {
			assert.True(t, payload.YouAreAuthority)
		} else {
			assert.False(t, payload.YouAreAuthority)
		}
	}
}

func TestLeaveRoom_ClearsAuthorityBeforeDeparture(t *testing.T) {
	h := testHub(t)
	room, aliceID, _, err := h.CreateRoom("game", "", "", "alice", 2, true, "", "", "app1", false, 0)
	require.NoError(t, err)
	_, _, _, err = h.JoinRoom("game", room.RoomCode, "bob")
	require.NoError(t, err)

	effects, err := h.LeaveRoom(room, aliceID)
	require.NoError(t, err)
	assert.Equal(t, idmint.Nil, room.AuthorityPlayer)

	var authorityIdx, leftIdx = -1, -1
	for i, e := range effects {
		if e.Type == EventAuthorityChanged && authorityIdx == -1 {
			authorityIdx = i
		}
		if e.Type == EventPlayerLeft && leftIdx == -1 {
			leftIdx = i
		}
	}
	require.NotEqual(t, -1, authorityIdx)
	require.NotEqual(t, -1, leftIdx)
	assert.Less(t, authorityIdx, leftIdx, "AuthorityChanged must precede PlayerLeft")
}
