package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"voteboard/internal/app/identity"
)

const insertIdentity = `
INSERT INTO user_identities (user_token, display_name, display_color, payout_address, created_at)
VALUES ($1, $2, $3, $4, $5)`

const updatePayoutAddress = `
UPDATE user_identities SET payout_address = $2 WHERE user_token = $1`

const selectIdentities = `
SELECT user_token, display_name, display_color, payout_address, created_at
FROM user_identities`

const deleteIdentities = `DELETE FROM user_identities`

// Store implements identity.Repository and ledger.Repository on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveIdentity inserts id. A token that already exists keeps its first row.
func (s *Store) SaveIdentity(ctx context.Context, id identity.Identity) error {
	_, err := s.pool.Exec(ctx, insertIdentity,
		id.Token,
		id.DisplayName,
		id.DisplayColor,
		nullableText(id.PayoutAddress),
		id.CreatedAt,
	)
	if IsUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// UpdatePayoutAddress overwrites the payout address of token, or returns identity.ErrNotFound.
func (s *Store) UpdatePayoutAddress(ctx context.Context, token, address string) error {
	tag, err := s.pool.Exec(ctx, updatePayoutAddress, token, nullableText(address))
	if err != nil {
		return fmt.Errorf("update payout address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// LoadIdentities returns every stored identity.
func (s *Store) LoadIdentities(ctx context.Context) ([]identity.Identity, error) {
	rows, err := s.pool.Query(ctx, selectIdentities)
	if err != nil {
		return nil, fmt.Errorf("select identities: %w", err)
	}

	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (identity.Identity, error) {
		var (
			id     identity.Identity
			payout pgtype.Text
		)
		if err := row.Scan(&id.Token, &id.DisplayName, &id.DisplayColor, &payout, &id.CreatedAt); err != nil {
			return identity.Identity{}, err
		}
		id.PayoutAddress = payout.String
		return id, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan identities: %w", err)
	}
	return ids, nil
}

// DeleteIdentities removes every identity.
func (s *Store) DeleteIdentities(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, deleteIdentities); err != nil {
		return fmt.Errorf("delete identities: %w", err)
	}
	return nil
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
