// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/relabs-tech/sensor_collector/internal/reading"
)

// ErrNotFound is returned by Load for an unknown or expired session.
var ErrNotFound = errors.New("archive: session not found")

// RedisOptions configures the archive connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // 0 keeps sessions forever
}

// Redis keeps a copy of every finished session in Redis. Archived sessions
// are listed and read back through the control API.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	log.Printf("archive: connected to Redis at %s", opts.Addr)
	return NewRedisWithClient(client, opts.Prefix, opts.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "sensor_collector"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// SessionKey is the key holding a session's bulk payload.
func (r *Redis) SessionKey(sessionID string) string {
	return r.prefix + ":session:" + sessionID
}

// IndexKey is the list of archived session ids, oldest first.
func (r *Redis) IndexKey() string {
	return r.prefix + ":sessions"
}

// Archive stores the session as the bulk upload body and appends its id to
// the index.
func (r *Redis) Archive(ctx context.Context, sessionID string, records []reading.Record) error {
	payload, err := json.Marshal(reading.NewBulk(records))
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.SessionKey(sessionID), payload, r.ttl)
	pipe.RPush(ctx, r.IndexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive session %s: %w", sessionID, err)
	}
	log.Printf("archive: stored session %s (%d records)", sessionID, len(records))
	return nil
}

// Load returns an archived session.
func (r *Redis) Load(ctx context.Context, sessionID string) (reading.Bulk, error) {
	var b reading.Bulk
	raw, err := r.client.Get(ctx, r.SessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return b, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return b, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return b, nil
}

// Sessions lists archived session ids, oldest first. Ids whose payload
// expired are still listed; Load reports them as ErrNotFound.
func (r *Redis) Sessions(ctx context.Context) ([]string, error) {
	return r.client.LRange(ctx, r.IndexKey(), 0, -1).Result()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
