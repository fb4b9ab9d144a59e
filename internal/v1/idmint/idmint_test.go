package idmint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshID_Unique(t *testing.T) {
	a := FreshID()
	b := FreshID()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsNil())
}

func TestID_StringRoundTrip(t *testing.T) {
	id := FreshID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestFreshRoomCode_UsesUnambiguousAlphabet(t *testing.T) {
	code, err := FreshRoomCode(6, "", 8, nil)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.NotContains(t, "0O1I", string(r))
	}
}

func TestFreshRoomCode_Prefix(t *testing.T) {
	code, err := FreshRoomCode(4, "GAME-", 8, nil)
	require.NoError(t, err)
	assert.True(t, len(code) == len("GAME-")+4)
	assert.Equal(t, "GAME-", code[:5])
}

func TestFreshRoomCode_RetriesOnCollision(t *testing.T) {
	calls := 0
	taken := func(code string) bool {
		calls++
		return calls < 3 // first two candidates are "taken"
	}
	code, err := FreshRoomCode(6, "", 8, taken)
	require.NoError(t, err)
	assert.NotEmpty(t, code)
	assert.Equal(t, 3, calls)
}

func TestFreshRoomCode_ExhaustsRetries(t *testing.T) {
	taken := func(code string) bool { return true }
	_, err := FreshRoomCode(6, "", 4, taken)
	require.Error(t, err)
	var creationErr *ErrRoomCreationFailed
	assert.ErrorAs(t, err, &creationErr)
	assert.Equal(t, 4, creationErr.Attempts)
}

func TestFreshRoomCode_DefaultsLength(t *testing.T) {
	code, err := FreshRoomCode(0, "", 0, nil)
	require.NoError(t, err)
	assert.Len(t, code, DefaultRoomCodeLength)
}
