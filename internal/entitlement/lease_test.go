package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

type gatewaysFunc func(ctx context.Context) ([]Gateway, error)

func (f gatewaysFunc) Gateways(ctx context.Context) ([]Gateway, error) {
	return f(ctx)
}

type leaseClientStub struct {
	leases      func(ctx context.Context, accountID string) ([]Lease, error)
	newLease    func(ctx context.Context, req LeaseRequest) (Lease, error)
	deleteLease func(ctx context.Context, req LeaseRequest) error
}

func (s leaseClientStub) Leases(ctx context.Context, accountID string) ([]Lease, error) {
	if s.leases == nil {
		return nil, errors.New("unexpected Leases call")
	}
	return s.leases(ctx, accountID)
}

func (s leaseClientStub) NewLease(ctx context.Context, req LeaseRequest) (Lease, error) {
	if s.newLease == nil {
		return Lease{}, errors.New("unexpected NewLease call")
	}
	return s.newLease(ctx, req)
}

func (s leaseClientStub) DeleteLease(ctx context.Context, req LeaseRequest) error {
	if s.deleteLease == nil {
		return errors.New("unexpected DeleteLease call")
	}
	return s.deleteLease(ctx, req)
}

func testGateways(ctx context.Context) ([]Gateway, error) {
	return []Gateway{
		{PublicKey: "key1", Region: "EU", Location: "warsaw", IPv4: "gw1", IPv6: "gw1-6", ResourceUsagePercent: 69},
		{PublicKey: "key2", Region: "Asia", Location: "singapore", IPv4: "gw2", IPv6: "gw2-6", ResourceUsagePercent: 69},
	}, nil
}

var testAccount = CurrentAccount{
	ID:         "new-id",
	PrivateKey: "prv",
	PublicKey:  "user-public-key",
	AccountOK:  true,
}

func TestLeaseSync_NoGatewaySelected(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{}, "", CurrentLease{})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync != nil {
		t.Fatalf("sync: %v", errSync)
	}

	if mgr.Lease().LeaseOK {
		t.Fatalf("expected lease not ok with no gateway selected")
	}
	if len(mgr.Gateways()) != 2 {
		t.Fatalf("expected gateway directory to be cached")
	}
}

func TestLeaseSync_MatchingLeaseIsReused(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			if accountID != "new-id" {
				t.Errorf("expected account id %q, got %q", "new-id", accountID)
			}
			return []Lease{{
				AccountID: "new-id",
				PublicKey: "user-public-key",
				GatewayID: "key1",
				Expires:   tomorrow(),
				Alias:     "funny-phone",
				VIP4:      "vip4-gw1",
				VIP6:      "ipv6",
			}}, nil
		},
		// A valid matching lease must not trigger a NewLease request; the
		// stub's nil newLease fails the sync if it does.
	}, "", CurrentLease{GatewayID: "key1"})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync != nil {
		t.Fatalf("sync: %v", errSync)
	}

	state := mgr.Lease()
	if !state.LeaseOK {
		t.Fatalf("expected lease ok")
	}
	if state.GatewayID != "key1" || state.GatewayIP != "gw1" {
		t.Fatalf("expected gateway fields resolved, got %+v", state)
	}
	if state.VIP4 != "vip4-gw1" {
		t.Fatalf("expected vip4=%q, got %q", "vip4-gw1", state.VIP4)
	}
}

func TestLeaseSync_ExpiredLeaseIsRenewed(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			return nil, nil
		},
		newLease: func(ctx context.Context, req LeaseRequest) (Lease, error) {
			if req.AccountID != "new-id" || req.PublicKey != "user-public-key" || req.GatewayID != "key1" {
				t.Errorf("unexpected lease request %+v", req)
			}
			return Lease{
				AccountID: "new-id",
				PublicKey: "user-public-key",
				GatewayID: "key1",
				Expires:   tomorrow(),
				VIP4:      "vip4-gw1-2",
				VIP6:      "vip6-gw",
			}, nil
		},
	}, "", CurrentLease{
		GatewayID:        "key1",
		LeaseActiveUntil: time.Now(),
		LeaseOK:          true,
	})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync != nil {
		t.Fatalf("sync: %v", errSync)
	}

	state := mgr.Lease()
	if state.GatewayIP != "gw1" {
		t.Fatalf("expected gateway ip %q, got %q", "gw1", state.GatewayIP)
	}
	if state.VIP4 != "vip4-gw1-2" {
		t.Fatalf("expected renewed vip4, got %q", state.VIP4)
	}
	if !state.LeaseActiveUntil.After(time.Now()) {
		t.Fatalf("expected renewed expiry in the future, got %s", state.LeaseActiveUntil)
	}
}

func TestLeaseSync_GatewaysFailureDoesNotTouchLease(t *testing.T) {
	failing := gatewaysFunc(func(ctx context.Context) ([]Gateway, error) {
		return nil, errors.New("failed gateways request")
	})

	for _, leaseOK := range []bool{true, false} {
		mgr := NewLeaseManager(failing, leaseClientStub{
			leases: func(ctx context.Context, accountID string) ([]Lease, error) {
				return nil, nil
			},
		}, "", CurrentLease{GatewayID: "key1", LeaseOK: leaseOK})

		if errSync := mgr.Sync(context.Background(), testAccount); errSync == nil {
			t.Fatalf("expected sync to fail")
		}
		if got := mgr.Lease().LeaseOK; got != leaseOK {
			t.Fatalf("expected lease_ok unchanged (%v), got %v", leaseOK, got)
		}
	}
}

func TestLeaseSync_GatewaysFailureWithoutGatewaySelected(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(func(ctx context.Context) ([]Gateway, error) {
		return nil, errors.New("failed gateways request")
	}), leaseClientStub{}, "", CurrentLease{LeaseOK: true})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync == nil {
		t.Fatalf("expected sync to fail")
	}
	if !mgr.Lease().LeaseOK {
		t.Fatalf("expected lease_ok unchanged")
	}
}

func TestLeaseSync_LeaseListFailureInvalidatesExpiredLease(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			return nil, errors.New("failed lease request")
		},
	}, "", CurrentLease{GatewayID: "key1", LeaseOK: true, LeaseActiveUntil: time.Unix(0, 0)})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync == nil {
		t.Fatalf("expected sync to fail")
	}
	if mgr.Lease().LeaseOK {
		t.Fatalf("expected expired lease to be invalidated")
	}
}

func TestLeaseSync_LeaseListFailureKeepsValidLease(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			return nil, errors.New("failed lease request")
		},
	}, "", CurrentLease{GatewayID: "key1", LeaseOK: true, LeaseActiveUntil: tomorrow()})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync == nil {
		t.Fatalf("expected sync to fail")
	}
	if !mgr.Lease().LeaseOK {
		t.Fatalf("expected still-valid lease to survive a failed refresh")
	}
}

func TestLeaseSync_NewLeaseFailureInvalidates(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			return nil, nil
		},
		newLease: func(ctx context.Context, req LeaseRequest) (Lease, error) {
			return Lease{}, errors.New("failed new lease request")
		},
	}, "", CurrentLease{GatewayID: "key1", LeaseOK: true, LeaseActiveUntil: time.Unix(0, 0)})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync == nil {
		t.Fatalf("expected sync to fail")
	}
	if mgr.Lease().LeaseOK {
		t.Fatalf("expected lease not ok after failed renewal")
	}
}

func TestLeaseSync_TooManyDevicesPropagatesAsIs(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			return nil, nil
		},
		newLease: func(ctx context.Context, req LeaseRequest) (Lease, error) {
			return Lease{}, ErrTooManyDevices
		},
	}, "", CurrentLease{GatewayID: "key1"})

	errSync := mgr.Sync(context.Background(), testAccount)
	if !errors.Is(errSync, ErrTooManyDevices) {
		t.Fatalf("expected ErrTooManyDevices, got %v", errSync)
	}
	if mgr.Lease().LeaseOK {
		t.Fatalf("expected lease not ok")
	}
}

func TestLeaseSync_NoAccountFailsFast(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(func(ctx context.Context) ([]Gateway, error) {
		t.Error("expected no remote call without an account")
		return nil, nil
	}), leaseClientStub{}, "", CurrentLease{GatewayID: "key1"})

	errSync := mgr.Sync(context.Background(), CurrentAccount{})
	if !errors.Is(errSync, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", errSync)
	}
}

func TestLeaseSync_DeviceAliasSentOnCreation(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			return nil, nil
		},
		newLease: func(ctx context.Context, req LeaseRequest) (Lease, error) {
			if req.Alias != "funny-phone" {
				t.Errorf("expected alias %q, got %q", "funny-phone", req.Alias)
			}
			return Lease{GatewayID: "key1", Expires: tomorrow(), VIP4: "v4", VIP6: "v6"}, nil
		},
	}, "funny-phone", CurrentLease{GatewayID: "key1"})

	if errSync := mgr.Sync(context.Background(), testAccount); errSync != nil {
		t.Fatalf("sync: %v", errSync)
	}
}

func TestSetGateway_DeselectClearsLease(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{}, "", CurrentLease{
		GatewayID:        "key1",
		GatewayIP:        "gw1",
		VIP4:             "vip4",
		VIP6:             "vip6",
		LeaseActiveUntil: tomorrow(),
		LeaseOK:          true,
	})

	mgr.SetGateway("")

	state := mgr.Lease()
	if state.GatewayID != "" || state.VIP4 != "" || state.LeaseOK {
		t.Fatalf("expected cleared lease, got %+v", state)
	}
}

func TestSetGateway_SameGatewayKeepsLease(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{}, "", CurrentLease{
		GatewayID: "key1",
		VIP4:      "vip4",
		LeaseOK:   true,
	})

	mgr.SetGateway("key1")

	if state := mgr.Lease(); !state.LeaseOK || state.VIP4 != "vip4" {
		t.Fatalf("expected lease untouched, got %+v", state)
	}
}

func TestSetGateway_WaitsForInFlightSync(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	mgr := NewLeaseManager(gatewaysFunc(func(ctx context.Context) ([]Gateway, error) {
		close(entered)
		<-release
		return testGateways(ctx)
	}), leaseClientStub{
		leases: func(ctx context.Context, accountID string) ([]Lease, error) {
			return []Lease{{
				AccountID: "new-id",
				PublicKey: "user-public-key",
				GatewayID: "key1",
				Expires:   tomorrow(),
			}}, nil
		},
	}, "", CurrentLease{GatewayID: "key1"})

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		if errSync := mgr.Sync(context.Background(), testAccount); errSync != nil {
			t.Errorf("sync: %v", errSync)
		}
	}()
	<-entered

	selected := make(chan struct{})
	go func() {
		defer close(selected)
		mgr.SetGateway("key2")
	}()

	select {
	case <-selected:
		t.Fatalf("expected gateway selection to wait for the in-flight sync")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-syncDone
	<-selected

	if got := mgr.Lease().GatewayID; got != "key2" {
		t.Fatalf("expected the selection to survive the sync, got gateway_id=%q", got)
	}
}

func TestSetGateway_PaddedSameGatewayKeepsLease(t *testing.T) {
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{}, "", CurrentLease{
		GatewayID: "key1",
		VIP4:      "vip4",
		LeaseOK:   true,
	})

	mgr.SetGateway("  key1  ")

	if state := mgr.Lease(); !state.LeaseOK || state.VIP4 != "vip4" {
		t.Fatalf("expected lease untouched, got %+v", state)
	}
}

func TestDeleteLease_PassesRequestThrough(t *testing.T) {
	var got LeaseRequest
	mgr := NewLeaseManager(gatewaysFunc(testGateways), leaseClientStub{
		deleteLease: func(ctx context.Context, req LeaseRequest) error {
			got = req
			return nil
		},
	}, "", CurrentLease{})

	if errDelete := mgr.DeleteLease(context.Background(), testAccount, "some-key", "key2"); errDelete != nil {
		t.Fatalf("delete lease: %v", errDelete)
	}
	if got.AccountID != "new-id" || got.PublicKey != "some-key" || got.GatewayID != "key2" {
		t.Fatalf("unexpected delete request %+v", got)
	}
}
