package entitlement

import (
	"context"
	"time"
)

// AccountClient talks to the remote account service. Implementations own
// their transport, timeouts, and retries; the managers add none of that.
type AccountClient interface {
	// NewAccount creates a fresh account and returns its ID.
	NewAccount(ctx context.Context) (string, error)
	// GetAccount returns the entitlement expiry for an account ID.
	GetAccount(ctx context.Context, accountID string) (time.Time, error)
}

// GatewayClient fetches the remote gateway directory.
type GatewayClient interface {
	Gateways(ctx context.Context) ([]Gateway, error)
}

// LeaseClient manages remote lease records for an account.
type LeaseClient interface {
	Leases(ctx context.Context, accountID string) ([]Lease, error)
	NewLease(ctx context.Context, req LeaseRequest) (Lease, error)
	DeleteLease(ctx context.Context, req LeaseRequest) error
}

// Keypair generates the device WireGuard keypair, returning the private and
// public keys in base64 form.
type Keypair func() (privateKey, publicKey string, err error)
