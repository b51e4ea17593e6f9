// Package redisstore is a dashauth.ScriptStore on Redis, for CLI profiles
// shared by several processes or hosts.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/chimerakang/dashauth"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces the per-profile hashes.
const DefaultPrefix = "dashauth:script:"

// Script keeps one profile's keys in a Redis hash.
type Script struct {
	rdb  redis.UniversalClient
	hash string
	own  bool
}

var _ dashauth.ScriptStore = (*Script)(nil)

// New uses an existing client. profile selects the hash; Close does not
// close rdb.
func New(rdb redis.UniversalClient, profile string) *Script {
	return &Script{rdb: rdb, hash: DefaultPrefix + profile}
}

// Open connects to redisURL (e.g. redis://:pass@host:6379/0) and pings it.
func Open(ctx context.Context, redisURL, profile string) (*Script, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("dashauth/redisstore: parse url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("dashauth/redisstore: ping: %w", err)
	}
	s := New(rdb, profile)
	s.own = true
	return s, nil
}

func (s *Script) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dashauth/redisstore: get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Script) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("dashauth/redisstore: set %s: %w", key, err)
	}
	return nil
}

func (s *Script) Delete(ctx context.Context, key string) error {
	if err := s.rdb.HDel(ctx, s.hash, key).Err(); err != nil {
		return fmt.Errorf("dashauth/redisstore: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the connection if Open created it.
func (s *Script) Close() error {
	if !s.own {
		return nil
	}
	return s.rdb.Close()
}
