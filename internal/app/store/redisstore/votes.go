package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"voteboard/internal/app/ledger"
)

// KEYS[1] voter tallies, KEYS[2] vote stream, KEYS[3] vote totals;
// ARGV voter, candidate, cast_at millis, limit (0 disables the cap).
var appendVoteScript = redis.NewScript(`
local limit = tonumber(ARGV[4])
if limit > 0 then
  local cast = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
  if cast >= limit then
    return -1
  end
end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('XADD', KEYS[2], '*', 'candidate_id', ARGV[2], 'voter', ARGV[1], 'cast_at', ARGV[3])
return redis.call('HINCRBY', KEYS[3], ARGV[2], 1)
`)

// AppendVote runs the vote script; Redis executes it without interleaving other commands.
func (s *Store) AppendVote(ctx context.Context, v ledger.Vote, limit int) (int64, error) {
	total, err := appendVoteScript.Run(ctx, s.client,
		[]string{s.keys.voterTallies(), s.keys.votes(), s.keys.voteTotals()},
		v.Voter,
		v.CandidateID,
		v.CastAt.UnixMilli(),
		limit,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("append vote: %w", err)
	}
	if total < 0 {
		return 0, ledger.ErrVoteLimitReached
	}
	return total, nil
}

// CountVotes returns the total of one candidate.
func (s *Store) CountVotes(ctx context.Context, candidateID string) (int64, error) {
	return s.hashInt(ctx, s.keys.voteTotals(), candidateID)
}

// VoteTotals returns every non-zero candidate total.
func (s *Store) VoteTotals(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.keys.voteTotals()).Result()
	if err != nil {
		return nil, fmt.Errorf("vote totals: %w", err)
	}

	totals := make(map[string]int64, len(raw))
	for candidateID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("vote total for %q: %w", candidateID, err)
		}
		totals[candidateID] = n
	}
	return totals, nil
}

// VotesByVoter returns the tally of one voter.
func (s *Store) VotesByVoter(ctx context.Context, voter string) (int64, error) {
	return s.hashInt(ctx, s.keys.voterTallies(), voter)
}

// DeleteVotes drops the stream, the totals and the tallies in one transaction.
func (s *Store) DeleteVotes(ctx context.Context) error {
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys.votes(), s.keys.voteTotals(), s.keys.voterTallies())
		return nil
	}); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	return nil
}

// VoteLogLength returns the number of entries in the vote stream.
func (s *Store) VoteLogLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.keys.votes()).Result()
}

func (s *Store) hashInt(ctx context.Context, key, field string) (int64, error) {
	n, err := s.client.HGet(ctx, key, field).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hget %s: %w", key, err)
	}
	return n, nil
}
