package signaling

import (
	"testing"

	"github.com/meshplay/signalserver/internal/v1/idmint"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastToPlayers_SkipsDisconnectedAndExcluded(t *testing.T) {
	live := idmint.FreshID()
	excluded := idmint.FreshID()
	disconnected := idmint.FreshID()

	r := newRoom(idmint.FreshID(), "CODE01", "game", 3, false, "", "", "app1", false, 0)
	r.Players[live] = &Player{ID: live}
	r.Players[excluded] = &Player{ID: excluded}
	r.Players[disconnected] = &Player{ID: disconnected, Disconnected: true}
	r.PlayerOrder = []idmint.ID{live, excluded, disconnected}

	effects := broadcastToPlayers(r, EventPing, nil, excluded)
	assert.Len(t, effects, 1)
	assert.Equal(t, live, effects[0].Recipient)
}

func TestBroadcastToRoom_CoversPlayersAndSpectators(t *testing.T) {
	player := idmint.FreshID()
	spectator := idmint.FreshID()

	r := newRoom(idmint.FreshID(), "CODE01", "game", 2, false, "", "", "app1", false, 0)
	r.Players[player] = &Player{ID: player}
	r.PlayerOrder = []idmint.ID{player}
	r.Spectators[spectator] = &Spectator{ID: spectator}

	effects := broadcastToRoom(r, EventPing, nil, idmint.Nil)
	recipients := map[idmint.ID]bool{}
	for _, e := range effects {
		recipients[e.Recipient] = true
	}
	assert.True(t, recipients[player])
	assert.True(t, recipients[spectator])
}
