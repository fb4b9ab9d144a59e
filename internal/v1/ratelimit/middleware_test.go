package ratelimit

import (
	"testing"

	"github.com/meshplay/signalserver/internal/v1/config"
	"github.com/stretchr/testify/assert"
)

func TestStandardMiddleware(t *testing.T) {
	cfg := &config.Config{
		RateLimitWsIP:      "50-M",
		RateLimitWsApp:     "100-M",
		RateLimitAPIPublic: "100-M",
	}

	rl, err := NewRateLimiter(cfg, nil)
	assert.NoError(t, err)

	middleware := rl.StandardMiddleware()
	assert.NotNil(t, middleware)
}
