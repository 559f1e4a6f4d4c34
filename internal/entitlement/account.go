package entitlement

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// AccountManager owns the CurrentAccount record and reconciles it against
// the remote account service. All mutation happens inside Sync and
// RestoreAccount; readers only ever see complete snapshots.
type AccountManager struct {
	client  AccountClient
	keypair Keypair
	now     func() time.Time

	// op serializes Sync, RestoreAccount, and SetAccount; only one
	// read-modify-write may be in flight at a time. mu guards snapshot
	// reads of the state below.
	op sync.Mutex

	mu    sync.RWMutex
	state CurrentAccount
}

// NewAccountManager constructs an AccountManager with default dependencies
// when nil.
func NewAccountManager(client AccountClient, keypair Keypair, initial CurrentAccount) *AccountManager {
	return &AccountManager{
		client:  client,
		keypair: keypair,
		now:     time.Now,
		state:   initial,
	}
}

// Account returns a snapshot of the current account state.
func (m *AccountManager) Account() CurrentAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Sync reconciles the local account record with the remote authority.
//
// With no account ID yet, it requests a new account and generates the device
// keypair; ID and keys are committed as one unit. With an existing ID, it
// refreshes the entitlement expiry. A failed refresh flips AccountOK to
// false and leaves every other field untouched.
func (m *AccountManager) Sync(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	current := m.Account()

	if strings.TrimSpace(current.ID) == "" {
		id, errNew := m.client.NewAccount(ctx)
		if errNew != nil {
			return fmt.Errorf("account sync: new account: %w", errNew)
		}
		privateKey, publicKey, errKeys := m.keypair()
		if errKeys != nil {
			return fmt.Errorf("account sync: generate keypair: %w", errKeys)
		}
		next := current
		next.ID = id
		next.PrivateKey = privateKey
		next.PublicKey = publicKey
		next.AccountOK = true
		// ActiveUntil stays zero: new accounts are inactive until paid.
		m.swap(next)
		return nil
	}

	activeUntil, errGet := m.client.GetAccount(ctx, current.ID)
	if errGet != nil {
		next := current
		next.AccountOK = false
		m.swap(next)
		return fmt.Errorf("account sync: get account: %w", errGet)
	}

	next := current
	next.ActiveUntil = activeUntil
	next.AccountOK = true
	next.LastAccountCheck = m.now()
	m.swap(next)
	return nil
}

// RestoreAccount rebinds this device to an existing account ID, keeping the
// device keypair. It either commits the full replacement or changes nothing.
func (m *AccountManager) RestoreAccount(ctx context.Context, newID string) error {
	newID = strings.TrimSpace(newID)
	if newID == "" {
		return fmt.Errorf("restore account: %w", ErrNoAccount)
	}

	m.op.Lock()
	defer m.op.Unlock()

	activeUntil, errGet := m.client.GetAccount(ctx, newID)
	if errGet != nil {
		return fmt.Errorf("restore account: %w", errGet)
	}

	next := m.Account()
	next.ID = newID
	next.ActiveUntil = activeUntil
	next.AccountOK = true
	next.LastAccountCheck = m.now()
	m.swap(next)
	return nil
}

// SetAccount replaces the in-memory state wholesale, used to hydrate the
// manager from persisted state at startup.
func (m *AccountManager) SetAccount(state CurrentAccount) {
	m.op.Lock()
	defer m.op.Unlock()
	m.swap(state)
}

func (m *AccountManager) swap(next CurrentAccount) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
}
