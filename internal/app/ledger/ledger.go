/*
Package ledger records votes and answers vote totals.

Every vote is an append-only (candidate, voter, cast_at) record. Totals and the per-voter
cap are maintained by the Repository inside a single atomic operation, so concurrent votes
are never lost and the returned totals follow one consistent serialization.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voteboard/internal/pkg/metrics"
)

// MaxCandidateIDLength bounds the length of a candidate id in bytes.
const MaxCandidateIDLength = 255

const storeTimeout = 5 * time.Second

var (
	// ErrInvalidCandidate is returned for an empty or oversized candidate id.
	ErrInvalidCandidate = errors.New("invalid candidate id")

	// ErrUnknownCandidate is returned when a candidate allow-list is configured and the id is not on it.
	ErrUnknownCandidate = errors.New("unknown candidate")

	// ErrVoteLimitReached is returned by the Repository when the voter has used all votes.
	ErrVoteLimitReached = errors.New("vote limit reached")
)

// Vote is one append-only vote record.
type Vote struct {
	CandidateID string
	Voter       string
	CastAt      time.Time
}

// Repository is the durable collaborator behind the Ledger.
type Repository interface {
	// AppendVote atomically appends v, increments the candidate total and the voter tally,
	// and returns the new candidate total. With limit > 0 the append is refused with
	// ErrVoteLimitReached once the voter tally has reached limit. On error nothing is written.
	AppendVote(ctx context.Context, v Vote, limit int) (int64, error)

	// CountVotes returns the total for one candidate (0 when it has none).
	CountVotes(ctx context.Context, candidateID string) (int64, error)

	// VoteTotals returns the totals of every candidate that has votes.
	VoteTotals(ctx context.Context) (map[string]int64, error)

	// VotesByVoter returns how many votes the voter has cast.
	VotesByVoter(ctx context.Context, voter string) (int64, error)

	// DeleteVotes removes every vote, total and tally.
	DeleteVotes(ctx context.Context) error
}

// Options configures the voting rules of a Ledger.
type Options struct {
	// Candidates is the optional allow-list of candidate ids. Empty accepts any valid id.
	Candidates []string

	// VotesPerUser is the number of votes each identity may cast.
	VotesPerUser int

	// EnforceLimit makes the ledger refuse votes beyond VotesPerUser. When false the cap is
	// only advertised to clients.
	EnforceLimit bool
}

// Ledger is the vote ledger of the board.
type Ledger struct {
	repo       Repository
	candidates map[string]struct{}
	order      []string
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs a Ledger over repo.
func New(repo Repository, opts Options, logger zerolog.Logger) *Ledger {
	l := &Ledger{
		repo:   repo,
		opts:   opts,
		logger: logger.With().Str("component", "VoteLedger").Logger(),
		now:    time.Now,
	}

	if len(opts.Candidates) > 0 {
		l.candidates = make(map[string]struct{}, len(opts.Candidates))
		for _, c := range opts.Candidates {
			if _, dup := l.candidates[c]; dup {
				continue
			}
			l.candidates[c] = struct{}{}
			l.order = append(l.order, c)
		}
	}

	return l
}

// VotesPerUser returns the configured per-identity vote allowance.
func (l *Ledger) VotesPerUser() int {
	return l.opts.VotesPerUser
}

// Candidates returns the configured allow-list in configuration order, or nil.
func (l *Ledger) Candidates() []string {
	return append([]string(nil), l.order...)
}

// ValidateCandidate checks candidateID against length rules and the allow-list.
func (l *Ledger) ValidateCandidate(candidateID string) error {
	if candidateID == "" || len(candidateID) > MaxCandidateIDLength {
		return ErrInvalidCandidate
	}
	if l.candidates != nil {
		if _, ok := l.candidates[candidateID]; !ok {
			return ErrUnknownCandidate
		}
	}
	return nil
}

// RecordVote appends one vote for candidateID attributed to voter and returns the new total.
// On any error no vote is recorded and the total is unchanged.
func (l *Ledger) RecordVote(ctx context.Context, candidateID, voter string) (int64, error) {
	if err := l.ValidateCandidate(candidateID); err != nil {
		metrics.VotesTotal.WithLabelValues("unknown_candidate").Inc()
		return 0, err
	}
	if voter == "" {
		return 0, errors.New("vote without voter attribution")
	}

	limit := 0
	if l.opts.EnforceLimit {
		limit = l.opts.VotesPerUser
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	start := time.Now()
	total, err := l.repo.AppendVote(ctx, Vote{
		CandidateID: candidateID,
		Voter:       voter,
		CastAt:      l.now().UTC(),
	}, limit)
	metrics.VoteDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrVoteLimitReached):
		metrics.VotesTotal.WithLabelValues("limit_reached").Inc()
		return 0, err
	case err != nil:
		metrics.VotesTotal.WithLabelValues("store_error").Inc()
		metrics.StoreErrorsTotal.WithLabelValues("append_vote").Inc()
		l.logger.Error().Err(err).Str("candidate_id", candidateID).Msg("Failed to append vote.")
		return 0, fmt.Errorf("append vote: %w", err)
	}

	metrics.VotesTotal.WithLabelValues("recorded").Inc()
	l.logger.Debug().Str("candidate_id", candidateID).Int64("total", total).Msg("Vote recorded.")
	return total, nil
}

// Count returns the current total for candidateID.
func (l *Ledger) Count(ctx context.Context, candidateID string) (int64, error) {
	if err := l.ValidateCandidate(candidateID); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	n, err := l.repo.CountVotes(ctx, candidateID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("count_votes").Inc()
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

// Totals returns all candidate totals. Configured candidates without votes are reported as 0.
func (l *Ledger) Totals(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	totals, err := l.repo.VoteTotals(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("vote_totals").Inc()
		return nil, fmt.Errorf("vote totals: %w", err)
	}

	if totals == nil {
		totals = make(map[string]int64, len(l.order))
	}
	for _, c := range l.order {
		if _, ok := totals[c]; !ok {
			totals[c] = 0
		}
	}
	return totals, nil
}

// VotesCast returns how many votes voter has cast.
func (l *Ledger) VotesCast(ctx context.Context, voter string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	n, err := l.repo.VotesByVoter(ctx, voter)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("votes_by_voter").Inc()
		return 0, fmt.Errorf("votes by voter: %w", err)
	}
	return n, nil
}

// Reset deletes every vote.
func (l *Ledger) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := l.repo.DeleteVotes(ctx); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("delete_votes").Inc()
		return fmt.Errorf("delete votes: %w", err)
	}

	l.logger.Warn().Msg("Vote ledger reset.")
	return nil
}
