package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"voteboard/internal/app/ledger"
)

const maxVoteAttempts = 3

const bumpVoterTally = `
INSERT INTO voter_tallies (voter, cast_count) VALUES ($1, 1)
ON CONFLICT (voter) DO UPDATE SET cast_count = voter_tallies.cast_count + 1
RETURNING cast_count`

const bumpVoterTallyLimited = `
INSERT INTO voter_tallies (voter, cast_count) VALUES ($1, 1)
ON CONFLICT (voter) DO UPDATE SET cast_count = voter_tallies.cast_count + 1
WHERE voter_tallies.cast_count < $2
RETURNING cast_count`

const insertVote = `
INSERT INTO votes (candidate_id, voter, cast_at) VALUES ($1, $2, $3)`

const bumpVoteTotal = `
INSERT INTO vote_totals (candidate_id, total) VALUES ($1, 1)
ON CONFLICT (candidate_id) DO UPDATE SET total = vote_totals.total + 1
RETURNING total`

const selectVoteTotal = `SELECT total FROM vote_totals WHERE candidate_id = $1`

const selectVoteTotals = `SELECT candidate_id, total FROM vote_totals`

const selectVoterTally = `SELECT cast_count FROM voter_tallies WHERE voter = $1`

const countVoteLog = `SELECT count(*) FROM votes`

// AppendVote writes the vote, its candidate total and the voter tally in one transaction.
// The row-level upserts serialize concurrent votes on the same candidate or voter.
func (s *Store) AppendVote(ctx context.Context, v ledger.Vote, limit int) (int64, error) {
	var (
		total int64
		err   error
	)
	for attempt := 1; attempt <= maxVoteAttempts; attempt++ {
		total, err = s.appendVoteOnce(ctx, v, limit)
		if err == nil || !IsSerializationFailure(err) {
			return total, err
		}
	}
	return 0, err
}

func (s *Store) appendVoteOnce(ctx context.Context, v ledger.Vote, limit int) (int64, error) {
	var total int64

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			tally int64
			row   pgx.Row
		)
		if limit > 0 {
			row = tx.QueryRow(ctx, bumpVoterTallyLimited, v.Voter, limit)
		} else {
			row = tx.QueryRow(ctx, bumpVoterTally, v.Voter)
		}
		if err := row.Scan(&tally); err != nil {
			if isNoRows(err) {
				return ledger.ErrVoteLimitReached
			}
			return fmt.Errorf("bump voter tally: %w", err)
		}

		if _, err := tx.Exec(ctx, insertVote, v.CandidateID, v.Voter, v.CastAt); err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}

		if err := tx.QueryRow(ctx, bumpVoteTotal, v.CandidateID).Scan(&total); err != nil {
			return fmt.Errorf("bump vote total: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountVotes returns the total of one candidate.
func (s *Store) CountVotes(ctx context.Context, candidateID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, selectVoteTotal, candidateID).Scan(&total)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select vote total: %w", err)
	}
	return total, nil
}

// VoteTotals returns every non-zero candidate total.
func (s *Store) VoteTotals(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, selectVoteTotals)
	if err != nil {
		return nil, fmt.Errorf("select vote totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var (
			candidateID string
			total       int64
		)
		if err := rows.Scan(&candidateID, &total); err != nil {
			return nil, fmt.Errorf("scan vote total: %w", err)
		}
		totals[candidateID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote totals: %w", err)
	}
	return totals, nil
}

// VotesByVoter returns the tally of one voter.
func (s *Store) VotesByVoter(ctx context.Context, voter string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, selectVoterTally, voter).Scan(&n)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select voter tally: %w", err)
	}
	return n, nil
}

// DeleteVotes truncates the vote log, the totals and the tallies together.
func (s *Store) DeleteVotes(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE votes, vote_totals, voter_tallies`); err != nil {
		return fmt.Errorf("truncate votes: %w", err)
	}
	return nil
}

// VoteLogLength returns the number of rows in the vote log.
func (s *Store) VoteLogLength(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, countVoteLog).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vote log: %w", err)
	}
	return n, nil
}
