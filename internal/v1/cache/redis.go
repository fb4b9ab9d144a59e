// Package cache wraps Redis access for data that may legitimately live
// outside the signaling process: application-registry validation results
// and the rate limiter's distributed counters. Room, player, and session
// state never touch this package — that state lives only in the Room
// Store's memory, per this server's single-process model.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshplay/signalserver/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Service handles all interaction with the Redis-backed cache.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, for packages (the rate
// limiter) that need to hand it to a third-party store adapter directly.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis-backed cache with circuit-breaker protection.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "app_registry_cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("connected to redis cache", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// GetAppCredential looks up a cached application-registry validation result.
// A cache miss (ok==false, err==nil) means the caller should query the
// registry directly; an open circuit breaker degrades to a miss as well, so
// a Redis outage turns into extra registry load rather than a service
// outage.
func (s *Service) GetAppCredential(ctx context.Context, appID string, out any) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}

	key := appCredentialKey(appID)
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, key).Result()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.AppRegistryLookups.WithLabelValues("cache", "breaker_open").Inc()
			return false, nil
		}
		if err == redis.Nil {
			metrics.AppRegistryLookups.WithLabelValues("cache", "miss").Inc()
			return false, nil
		}
		slog.Error("redis get app credential failed", "app_id", appID, "error", err)
		return false, fmt.Errorf("cache get: %w", err)
	}

	if err := json.Unmarshal([]byte(res.(string)), out); err != nil {
		return false, fmt.Errorf("cache unmarshal: %w", err)
	}
	metrics.AppRegistryLookups.WithLabelValues("cache", "hit").Inc()
	return true, nil
}

// SetAppCredential caches an application-registry validation result for ttl.
func (s *Service) SetAppCredential(ctx context.Context, appID string, value any, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, appCredentialKey(appID), data, ttl).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("redis circuit breaker open: skipping credential cache write", "app_id", appID)
			return nil
		}
		slog.Error("redis set app credential failed", "app_id", appID, "error", err)
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func appCredentialKey(appID string) string {
	return fmt.Sprintf("signalserver:appcred:%s", appID)
}

// Ping checks Redis connectivity using the PING command. Used by readiness.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
