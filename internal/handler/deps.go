package handler

import (
	"context"

	"voteboard/internal/app/identity"
	"voteboard/internal/app/ledger"
	"voteboard/internal/app/presence"
	"voteboard/internal/configs"
)

// StoreStatus is the view of the durable store used by the health check.
type StoreStatus interface {
	Ping(ctx context.Context) error
	VoteLogLength(ctx context.Context) (int64, error)
}

// AppDeps carries everything the HTTP handlers need.
type AppDeps struct {
	Hub        *presence.Hub
	Identities *identity.Store
	Ledger     *ledger.Ledger
	Store      StoreStatus
	Config     *configs.AppConfig
}
