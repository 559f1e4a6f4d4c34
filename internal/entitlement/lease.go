package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LeaseManager owns the CurrentLease record and reconciles it against the
// remote gateway directory and lease service. It consumes the account ID and
// public key but never mutates account state.
type LeaseManager struct {
	gatewayClient GatewayClient
	leaseClient   LeaseClient
	deviceAlias   string
	now           func() time.Time

	// op serializes Sync and SetGateway; only one read-modify-write may be
	// in flight at a time. mu guards snapshot reads of the fields below.
	op sync.Mutex

	mu       sync.RWMutex
	state    CurrentLease
	gateways []Gateway
}

// NewLeaseManager constructs a LeaseManager with default dependencies when
// nil.
func NewLeaseManager(gatewayClient GatewayClient, leaseClient LeaseClient, deviceAlias string, initial CurrentLease) *LeaseManager {
	return &LeaseManager{
		gatewayClient: gatewayClient,
		leaseClient:   leaseClient,
		deviceAlias:   deviceAlias,
		now:           time.Now,
		state:         initial,
	}
}

// Lease returns a snapshot of the current lease state.
func (m *LeaseManager) Lease() CurrentLease {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Gateways returns the last successfully fetched gateway directory.
func (m *LeaseManager) Gateways() []Gateway {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Gateway, len(m.gateways))
	copy(out, m.gateways)
	return out
}

// SetGateway selects the gateway to lease from. Selecting a different
// gateway (or deselecting with an empty ID) drops the cached lease fields;
// the next Sync establishes the new lease.
func (m *LeaseManager) SetGateway(gatewayID string) {
	gatewayID = strings.TrimSpace(gatewayID)

	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.GatewayID == gatewayID {
		return
	}
	m.state = CurrentLease{GatewayID: gatewayID}
}

// Sync reconciles the local lease record for the given account.
//
// The gateway directory and the account's lease list are fetched
// concurrently. A failed directory fetch propagates without touching lease
// validity. A failed lease-list fetch only invalidates the lease when the
// cached one has already expired. When no live matching lease exists, a new
// one is requested; ErrTooManyDevices from that request reaches the caller
// as-is.
func (m *LeaseManager) Sync(ctx context.Context, account CurrentAccount) error {
	if strings.TrimSpace(account.ID) == "" {
		return fmt.Errorf("lease sync: %w", ErrNoAccount)
	}

	m.op.Lock()
	defer m.op.Unlock()

	current := m.Lease()

	if current.GatewayID == "" {
		// The directory is still refreshed for display purposes, and its
		// failure must not flip lease validity either way.
		gateways, errGws := m.gatewayClient.Gateways(ctx)
		if errGws != nil {
			return fmt.Errorf("lease sync: get gateways: %w", errGws)
		}
		m.cacheGateways(gateways)
		next := current
		next.LeaseOK = false
		m.swap(next)
		return nil
	}

	// The directory and the lease list are independent reads; fetch both
	// before deciding anything.
	var (
		wg        sync.WaitGroup
		gateways  []Gateway
		errGws    error
		leases    []Lease
		errLeases error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		gateways, errGws = m.gatewayClient.Gateways(ctx)
	}()
	go func() {
		defer wg.Done()
		leases, errLeases = m.leaseClient.Leases(ctx, account.ID)
	}()
	wg.Wait()

	if errGws != nil {
		// Stale gateway metadata is no reason to drop a working lease.
		return fmt.Errorf("lease sync: get gateways: %w", errGws)
	}
	m.cacheGateways(gateways)

	now := m.now()

	if errLeases != nil {
		if current.Valid(now) {
			// The remote never told us the lease is gone; keep trusting it
			// until it expires.
			return fmt.Errorf("lease sync: get leases: %w", errLeases)
		}
		next := current
		next.LeaseOK = false
		m.swap(next)
		return fmt.Errorf("lease sync: get leases: %w", errLeases)
	}

	gateway, _ := findGateway(gateways, current.GatewayID)

	if lease, ok := findLease(leases, current.GatewayID, account.PublicKey, now); ok {
		m.install(current, lease, gateway)
		return nil
	}

	created, errNew := m.leaseClient.NewLease(ctx, LeaseRequest{
		AccountID: account.ID,
		PublicKey: account.PublicKey,
		GatewayID: current.GatewayID,
		Alias:     m.deviceAlias,
	})
	if errNew != nil {
		next := current
		next.LeaseOK = false
		m.swap(next)
		if errors.Is(errNew, ErrTooManyDevices) {
			return errNew
		}
		return fmt.Errorf("lease sync: new lease: %w", errNew)
	}

	m.install(current, created, gateway)
	return nil
}

// DeleteLease revokes a lease record on the remote authority. It does not
// touch local state; the next Sync reconciles.
func (m *LeaseManager) DeleteLease(ctx context.Context, account CurrentAccount, publicKey, gatewayID string) error {
	if strings.TrimSpace(account.ID) == "" {
		return fmt.Errorf("delete lease: %w", ErrNoAccount)
	}
	if errDelete := m.leaseClient.DeleteLease(ctx, LeaseRequest{
		AccountID: account.ID,
		PublicKey: publicKey,
		GatewayID: gatewayID,
	}); errDelete != nil {
		return fmt.Errorf("delete lease: %w", errDelete)
	}
	return nil
}

// install commits a fully populated lease snapshot in one swap.
func (m *LeaseManager) install(current CurrentLease, lease Lease, gateway *Gateway) {
	next := current
	next.VIP4 = lease.VIP4
	next.VIP6 = lease.VIP6
	next.LeaseActiveUntil = lease.Expires
	if gateway != nil {
		next.GatewayIP = gateway.IPv4
		next.GatewayName = gateway.NiceName()
	}
	next.LeaseOK = true
	m.swap(next)
}

func (m *LeaseManager) swap(next CurrentLease) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
}

func (m *LeaseManager) cacheGateways(gateways []Gateway) {
	m.mu.Lock()
	m.gateways = gateways
	m.mu.Unlock()
}

func findGateway(gateways []Gateway, publicKey string) (*Gateway, bool) {
	for i := range gateways {
		if gateways[i].PublicKey == publicKey {
			return &gateways[i], true
		}
	}
	return nil, false
}

func findLease(leases []Lease, gatewayID, publicKey string, now time.Time) (Lease, bool) {
	for _, lease := range leases {
		if lease.GatewayID == gatewayID && lease.PublicKey == publicKey && lease.Expires.After(now) {
			return lease, true
		}
	}
	return Lease{}, false
}
