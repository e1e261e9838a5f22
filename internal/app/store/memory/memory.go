/*
Package memory provides an in-process implementation of the identity and vote repositories.

It backs the development store driver and the test suites. A single mutex serializes every
operation, which gives AppendVote the same atomicity the durable drivers get from a
transaction or a script.
*/
package memory

import (
	"context"
	"sync"

	"voteboard/internal/app/identity"
	"voteboard/internal/app/ledger"
)

// Store keeps identities and votes in maps.
type Store struct {
	mu         sync.Mutex
	identities map[string]identity.Identity
	votes      []ledger.Vote
	totals     map[string]int64
	tallies    map[string]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		identities: make(map[string]identity.Identity),
		totals:     make(map[string]int64),
		tallies:    make(map[string]int64),
	}
}

// SaveIdentity implements identity.Repository.
func (s *Store) SaveIdentity(_ context.Context, id identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[id.Token]; !ok {
		s.identities[id.Token] = id
	}
	return nil
}

// UpdatePayoutAddress implements identity.Repository.
func (s *Store) UpdatePayoutAddress(_ context.Context, token, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.identities[token]
	if !ok {
		return identity.ErrNotFound
	}
	id.PayoutAddress = address
	s.identities[token] = id
	return nil
}

// LoadIdentities implements identity.Repository.
func (s *Store) LoadIdentities(_ context.Context) ([]identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]identity.Identity, 0, len(s.identities))
	for _, id := range s.identities {
		out = append(out, id)
	}
	return out, nil
}

// DeleteIdentities implements identity.Repository.
func (s *Store) DeleteIdentities(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities = make(map[string]identity.Identity)
	return nil
}

// AppendVote implements ledger.Repository.
func (s *Store) AppendVote(ctx context.Context, v ledger.Vote, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if limit > 0 && s.tallies[v.Voter] >= int64(limit) {
		return 0, ledger.ErrVoteLimitReached
	}

	s.votes = append(s.votes, v)
	s.tallies[v.Voter]++
	s.totals[v.CandidateID]++
	return s.totals[v.CandidateID], nil
}

// CountVotes implements ledger.Repository.
func (s *Store) CountVotes(_ context.Context, candidateID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totals[candidateID], nil
}

// VoteTotals implements ledger.Repository.
func (s *Store) VoteTotals(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out, nil
}

// VotesByVoter implements ledger.Repository.
func (s *Store) VotesByVoter(_ context.Context, voter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tallies[voter], nil
}

// DeleteVotes implements ledger.Repository.
func (s *Store) DeleteVotes(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.votes = nil
	s.totals = make(map[string]int64)
	s.tallies = make(map[string]int64)
	return nil
}

// VoteLogLength returns the number of entries in the append-only vote log.
func (s *Store) VoteLogLength(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.votes)), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}
