package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voteboard/internal/pkg/metrics"
	"voteboard/internal/pkg/randx"
)

const (
	// storeTimeout bounds every durable round trip made by the Store.
	storeTimeout = 5 * time.Second

	fallbackDisplayName  = "Mystery Guest"
	fallbackDisplayColor = "#808080"
)

// Store resolves user tokens to identities.
// The in-memory cache is authoritative for the running process; the Repository is written through.
type Store struct {
	mu    sync.RWMutex
	cache map[string]Identity

	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore constructs a Store backed by repo.
func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		cache:  make(map[string]Identity),
		repo:   repo,
		logger: logger.With().Str("component", "IdentityStore").Logger(),
		now:    time.Now,
	}
}

// LoadAll bulk-loads durable identities into the cache and returns how many were loaded.
// A failed load leaves the cache as it was; the store keeps minting new identities either way.
func (s *Store) LoadAll(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	ids, err := s.repo.LoadIdentities(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("load_identities").Inc()
		s.logger.Error().Err(err).Msg("Failed to load identities from durable store.")
		return 0, err
	}

	s.mu.Lock()
	for _, id := range ids {
		s.cache[id.Token] = id
	}
	s.mu.Unlock()

	s.logger.Info().Int("count", len(ids)).Msg("Identities loaded.")
	return len(ids), nil
}

// ResolveOrCreate returns the identity for token, or mints a new one when token is empty or unknown.
// A known identity is returned unchanged; payoutAddress is only recorded on new identities.
// Durable write failures are logged and never surface: the new identity is usable in memory.
func (s *Store) ResolveOrCreate(ctx context.Context, token, payoutAddress string) (Identity, bool) {
	if token != "" {
		if id, ok := s.Lookup(token); ok {
			return id, false
		}
	}

	id := s.mint(payoutAddress)

	s.mu.Lock()
	s.cache[id.Token] = id
	s.mu.Unlock()

	metrics.IdentitiesCreatedTotal.Inc()
	s.logger.Info().
		Str("display_name", id.DisplayName).
		Bool("replaced_unknown_token", token != "").
		Msg("New identity created.")

	saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.repo.SaveIdentity(saveCtx, id); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("save_identity").Inc()
		s.logger.Error().Err(err).Str("display_name", id.DisplayName).Msg("Failed to persist new identity; continuing in memory.")
	}

	return id, true
}

func (s *Store) mint(payoutAddress string) Identity {
	name, err := randx.DisplayName()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Display name generation failed, using fallback.")
		name = fallbackDisplayName
	}

	color, err := randx.DisplayColor()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Display color generation failed, using fallback.")
		color = fallbackDisplayColor
	}

	for {
		token := randx.UserToken()
		if _, taken := s.Lookup(token); taken {
			continue
		}
		return Identity{
			Token:         token,
			DisplayName:   name,
			DisplayColor:  color,
			PayoutAddress: payoutAddress,
			CreatedAt:     s.now().UTC(),
		}
	}
}

// UpdatePayoutAddress overwrites the payout address of a known token.
// It returns ErrNotFound for an unknown token. The in-memory value changes even when the
// durable write fails; that failure is returned wrapped.
func (s *Store) UpdatePayoutAddress(ctx context.Context, token, address string) error {
	s.mu.Lock()
	id, ok := s.cache[token]
	if ok {
		id.PayoutAddress = address
		s.cache[token] = id
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn().Msg("Payout address update for unknown token.")
		return ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	err := s.repo.UpdatePayoutAddress(ctx, token, address)
	if errors.Is(err, ErrNotFound) {
		// the identity never reached durable storage; write it whole now
		err = s.repo.SaveIdentity(ctx, id)
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("update_payout_address").Inc()
		s.logger.Error().Err(err).Str("display_name", id.DisplayName).Msg("Failed to persist payout address.")
		return fmt.Errorf("persist payout address: %w", err)
	}

	return nil
}

// Lookup returns the cached identity for token.
func (s *Store) Lookup(token string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.cache[token]
	return id, ok
}

// Count returns the number of cached identities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}

// Reset deletes every identity, durable rows first. The cache is cleared even if the durable delete fails.
func (s *Store) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	err := s.repo.DeleteIdentities(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("delete_identities").Inc()
	}

	s.mu.Lock()
	s.cache = make(map[string]Identity)
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("Identity store reset.")
	return err
}
