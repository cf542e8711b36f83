package killswitch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
)

// stop is the flag value, mirroring the operator convention of writing
// "STOP" into the switch.
const stop = "STOP"

// RedisStore keeps the kill switch in Redis so it survives process restarts
// and can be flipped by an operator out-of-band. Every Engaged call hits
// Redis; the flag is never cached in-process.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{
		client: client,
		key:    prefix + ":kill_switch",
	}, nil
}

func (s *RedisStore) Engaged(ctx context.Context) (bool, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kill switch get: %w", err)
	}
	return v == stop, nil
}

func (s *RedisStore) Engage(ctx context.Context, reason string) error {
	// last writer wins between the risk gate and the operator surface
	if err := s.client.Set(ctx, s.key, stop, 0).Err(); err != nil {
		return fmt.Errorf("kill switch set: %w", err)
	}
	if reason != "" {
		_ = s.client.Set(ctx, s.key+":reason", reason, 0).Err()
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key, s.key+":reason").Err(); err != nil {
		return fmt.Errorf("kill switch clear: %w", err)
	}
	return nil
}

// Reason returns the recorded engage reason, empty when none.
func (s *RedisStore) Reason(ctx context.Context) string {
	v, err := s.client.Get(ctx, s.key+":reason").Result()
	if err != nil {
		return ""
	}
	return v
}

func (s *RedisStore) Close() error { return s.client.Close() }

var _ domrepo.KillSwitchStore = (*RedisStore)(nil)
