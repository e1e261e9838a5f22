/*
Package redisstore implements the identity and vote repositories on Redis.

Identities are one hash per token plus a set of known tokens. Votes are an append-only
stream beside two hashes holding candidate totals and voter tallies; the three are written
by a single Lua script so a vote is never half applied.
*/
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

// Config captures the settings for establishing a Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration

	// Prefix namespaces every key. Defaults to "voteboard".
	Prefix string
}

// Connect initialises a Redis client and validates connectivity with a ping.
// A default timeout is applied when none is provided.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// Store implements identity.Repository and ledger.Repository on a Redis client.
type Store struct {
	client *redis.Client
	keys   keyspace
}

// New wraps a connected client. An empty prefix selects "voteboard".
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "voteboard"
	}
	return &Store{client: client, keys: keyspace{prefix: prefix}}
}

// Ping reports whether Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() {
	_ = s.client.Close()
}

type keyspace struct {
	prefix string
}

func (k keyspace) identity(token string) string {
	return fmt.Sprintf("%s:identity:%s", k.prefix, token)
}

func (k keyspace) identities() string   { return k.prefix + ":identities" }
func (k keyspace) votes() string        { return k.prefix + ":votes" }
func (k keyspace) voteTotals() string   { return k.prefix + ":vote_totals" }
func (k keyspace) voterTallies() string { return k.prefix + ":voter_tallies" }
