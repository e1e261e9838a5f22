/*
Package identity contains the durable identity of a board visitor and the store that resolves it.

An Identity is minted the first time a visitor connects without a known token, keeps its
display name and color for life, and only ever changes its optional payout address.
Identities are cached in memory for the process lifetime and written through to a
Repository on a best-effort basis.
*/
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Repository when the token has no durable row.
var ErrNotFound = errors.New("identity not found")

// Identity represents the persistent identity of a visitor.
// Fields use JSON tags for serialization in the IDENTITY websocket message.
type Identity struct {
	// Token is the opaque stable user token replayed by the client on reconnect.
	Token string `json:"token"`

	// DisplayName is the "<Adjective> <Noun>" name shown next to the cursor.
	DisplayName string `json:"displayName"`

	// DisplayColor is the "#RRGGBB" cursor color.
	DisplayColor string `json:"displayColor"`

	// PayoutAddress is the optional, user supplied payout address. Empty means none.
	PayoutAddress string `json:"payoutAddress,omitempty"`

	// CreatedAt is when the identity was minted.
	CreatedAt time.Time `json:"-"`
}

// Repository is the durable collaborator behind the Store.
type Repository interface {
	// SaveIdentity inserts the identity if its token is not stored yet.
	SaveIdentity(ctx context.Context, id Identity) error

	// UpdatePayoutAddress overwrites the payout address, returning ErrNotFound for unknown tokens.
	UpdatePayoutAddress(ctx context.Context, token, address string) error

	// LoadIdentities returns every stored identity.
	LoadIdentities(ctx context.Context) ([]Identity, error)

	// DeleteIdentities removes every stored identity.
	DeleteIdentities(ctx context.Context) error
}
