package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"voteboard/internal/app/identity"
)

const (
	fieldName      = "display_name"
	fieldColor     = "display_color"
	fieldPayout    = "payout_address"
	fieldCreatedAt = "created_at"
)

// KEYS[1] identity hash, KEYS[2] token set; ARGV token, name, color, payout, created_at.
var saveIdentityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'display_name', ARGV[2], 'display_color', ARGV[3], 'payout_address', ARGV[4], 'created_at', ARGV[5])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] identity hash; ARGV payout.
var updatePayoutScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'payout_address', ARGV[1])
return 1
`)

// SaveIdentity stores id unless its token already exists.
func (s *Store) SaveIdentity(ctx context.Context, id identity.Identity) error {
	err := saveIdentityScript.Run(ctx, s.client,
		[]string{s.keys.identity(id.Token), s.keys.identities()},
		id.Token,
		id.DisplayName,
		id.DisplayColor,
		id.PayoutAddress,
		id.CreatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// UpdatePayoutAddress overwrites the payout address of token, or returns identity.ErrNotFound.
func (s *Store) UpdatePayoutAddress(ctx context.Context, token, address string) error {
	updated, err := updatePayoutScript.Run(ctx, s.client, []string{s.keys.identity(token)}, address).Int()
	if err != nil {
		return fmt.Errorf("update payout address: %w", err)
	}
	if updated == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// LoadIdentities returns every stored identity.
func (s *Store) LoadIdentities(ctx context.Context) ([]identity.Identity, error) {
	tokens, err := s.client.SMembers(ctx, s.keys.identities()).Result()
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, token := range tokens {
			cmds[i] = pipe.HGetAll(ctx, s.keys.identity(token))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}

	ids := make([]identity.Identity, 0, len(tokens))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// token listed but hash gone; skip it
			continue
		}
		ids = append(ids, identity.Identity{
			Token:         tokens[i],
			DisplayName:   fields[fieldName],
			DisplayColor:  fields[fieldColor],
			PayoutAddress: fields[fieldPayout],
			CreatedAt:     parseMillis(fields[fieldCreatedAt]),
		})
	}
	return ids, nil
}

// DeleteIdentities removes every identity hash and the token set.
func (s *Store) DeleteIdentities(ctx context.Context) error {
	tokens, err := s.client.SMembers(ctx, s.keys.identities()).Result()
	if err != nil {
		return fmt.Errorf("list identities: %w", err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, s.keys.identity(token))
	}
	keys = append(keys, s.keys.identities())

	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	}); err != nil {
		return fmt.Errorf("delete identities: %w", err)
	}
	return nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
