package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

type testCredential struct {
	AppID       string `json:"app_id"`
	Org         string `json:"org"`
	RateLimited bool   `json:"rate_limited"`
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestSetAndGetAppCredential(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	cred := testCredential{AppID: "app-1", Org: "acme", RateLimited: false}

	require.NoError(t, svc.SetAppCredential(ctx, "app-1", cred, time.Minute))

	var out testCredential
	ok, err := svc.GetAppCredential(ctx, "app-1", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cred, out)
}

func TestGetAppCredential_Miss(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	var out testCredential
	ok, err := svc.GetAppCredential(context.Background(), "never-cached", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetAppCredential_Expired(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	require.NoError(t, svc.SetAppCredential(ctx, "app-expiring", testCredential{AppID: "app-expiring"}, time.Second))

	mr.FastForward(2 * time.Second)

	var out testCredential
	ok, err := svc.GetAppCredential(ctx, "app-expiring", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilService_GracefulDegradation(t *testing.T) {
	var svc *Service

	assert.Nil(t, svc.Client())
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())

	var out testCredential
	ok, err := svc.GetAppCredential(context.Background(), "x", &out)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, svc.SetAppCredential(context.Background(), "x", testCredential{}, time.Minute))
}
