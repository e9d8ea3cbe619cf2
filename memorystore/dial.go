package memorystore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gomodule/redigo/redis"
	log "github.com/sirupsen/logrus"

	"github.com/greenlens/greenlens/static"
)

// DialConfig contains the settings used to connect to Redis.
type DialConfig struct {
	// Address is the host:port of the Redis server.
	Address string
	// Retries is the number of connection attempts after the first one.
	Retries int
	// InitialInterval is the first interval at which the backoff starts
	// running.
	InitialInterval time.Duration
	// MaxInterval is an interval such that, once reached, the backoff will
	// retry with a constant delay of MaxInterval.
	MaxInterval time.Duration
}

// NewDialConfig returns a DialConfig with default retry settings.
func NewDialConfig(address string) DialConfig {
	return DialConfig{
		Address:         address,
		Retries:         static.RedisConnectRetries,
		InitialInterval: static.BackoffInitialInterval,
		MaxInterval:     static.BackoffMaxInterval,
	}
}

// Dial creates a Redis pool and checks that the server answers a PING. In
// case of failure, it uses an exponential backoff to increase the duration of
// retry attempts, and gives up after cfg.Retries retries.
func Dial(ctx context.Context, cfg DialConfig) (*redis.Pool, error) {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Address)
		},
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	ping := func() error {
		conn, err := pool.GetContext(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		_, err = conn.Do("PING")
		return err
	}
	notify := func(err error, d time.Duration) {
		log.WithFields(log.Fields{
			"address": cfg.Address,
			"retry":   d,
		}).WithError(err).Warn("Could not connect to Redis (will retry)")
	}

	err := backoff.RetryNotify(ping, policy, notify)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	log.WithField("address", cfg.Address).Info("Connected to Redis")
	return pool, nil
}
