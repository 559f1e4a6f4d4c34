package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blokadaorg/blocka-agent/internal/entitlement"
	log "github.com/sirupsen/logrus"
)

const (
	// defaultDailyInterval is how often the periodic trigger fires.
	defaultDailyInterval = 24 * time.Hour
	// minExpiryDelay floors the expiry alarm so an already-past expiry
	// fires once instead of spinning the worker.
	minExpiryDelay = time.Minute
)

// accountSyncer is the account-side surface the scheduler drives.
type accountSyncer interface {
	Sync(ctx context.Context) error
	Account() entitlement.CurrentAccount
}

// leaseSyncer is the lease-side surface the scheduler drives.
type leaseSyncer interface {
	Sync(ctx context.Context, account entitlement.CurrentAccount) error
	Lease() entitlement.CurrentLease
}

// stateSaver persists manager snapshots after each run.
type stateSaver interface {
	SaveAccount(ctx context.Context, account entitlement.CurrentAccount) error
	SaveLease(ctx context.Context, lease entitlement.CurrentLease) error
}

// Scheduler decides when the managers reconcile. One worker goroutine runs
// all syncs; triggers are coalesced through a one-slot channel, so a kick
// during a run means at most one more run, never an overlapping one.
type Scheduler struct {
	accounts accountSyncer
	leases   leaseSyncer
	store    stateSaver
	interval time.Duration
	now      func() time.Time

	trigger chan struct{}

	mu            sync.Mutex
	lastScreenDay string
}

// NewScheduler constructs a Scheduler with default dependencies when nil.
func NewScheduler(accounts accountSyncer, leases leaseSyncer, store stateSaver, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultDailyInterval
	}
	return &Scheduler{
		accounts: accounts,
		leases:   leases,
		store:    store,
		interval: interval,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Start runs the reconciliation loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("reconciler started (interval=%s)", s.interval)
}

// Kick requests a sync. Requests arriving while a run is in flight collapse
// into a single follow-up run.
func (s *Scheduler) Kick() {
	if s == nil {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// OnScreenOn is the opportunistic device-wake trigger, deduplicated to one
// contributed sync per calendar day.
func (s *Scheduler) OnScreenOn() {
	if s == nil {
		return
	}
	day := s.now().Format("2006-01-02")
	s.mu.Lock()
	seen := s.lastScreenDay == day
	if !seen {
		s.lastScreenDay = day
	}
	s.mu.Unlock()
	if seen {
		return
	}
	s.Kick()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	expiry := time.NewTimer(s.interval)
	defer expiry.Stop()

	s.SyncOnce(ctx)
	s.rearm(expiry, false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-expiry.C:
			s.SyncOnce(ctx)
			s.rearm(expiry, true)
			continue
		case <-s.trigger:
		}
		s.SyncOnce(ctx)
		s.rearm(expiry, false)
	}
}

// SyncOnce performs one full reconciliation run: account first, lease only
// when the account sync succeeded. Both snapshots are persisted after their
// manager finishes, so a failed refresh still records the degraded state.
func (s *Scheduler) SyncOnce(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	errAccount := s.accounts.Sync(ctx)
	s.persistAccount(ctx)
	if errAccount != nil {
		// The next trigger is the retry; no backoff loop here.
		log.WithError(errAccount).Warn("reconcile: account sync failed")
		return
	}

	if errLease := s.leases.Sync(ctx, s.accounts.Account()); errLease != nil {
		if errors.Is(errLease, entitlement.ErrTooManyDevices) {
			log.WithError(errLease).Error("reconcile: account is out of devices")
		} else {
			log.WithError(errLease).Warn("reconcile: lease sync failed")
		}
	}
	s.persistLease(ctx)
}

// NextWake returns the instant of the expiry alarm: the sooner of the
// account and lease expiries. ok is false when neither is set.
func (s *Scheduler) NextWake() (time.Time, bool) {
	account := s.accounts.Account()
	lease := s.leases.Lease()

	next := account.ActiveUntil
	if !lease.LeaseActiveUntil.IsZero() && (next.IsZero() || lease.LeaseActiveUntil.Before(next)) {
		next = lease.LeaseActiveUntil
	}
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// rearm resets the expiry alarm from the (possibly updated) expiry fields.
// fired tells whether the timer channel was just drained by the caller.
func (s *Scheduler) rearm(expiry *time.Timer, fired bool) {
	if !fired && !expiry.Stop() {
		select {
		case <-expiry.C:
		default:
		}
	}

	next, ok := s.NextWake()
	if !ok {
		// No expiry known; the daily ticker still covers us.
		expiry.Reset(s.interval)
		return
	}

	delay := next.Sub(s.now())
	if delay < minExpiryDelay {
		delay = minExpiryDelay
	}
	expiry.Reset(delay)
}

func (s *Scheduler) persistAccount(ctx context.Context) {
	if s.store == nil {
		return
	}
	if errSave := s.store.SaveAccount(ctx, s.accounts.Account()); errSave != nil {
		log.WithError(errSave).Warn("reconcile: persist account failed")
	}
}

func (s *Scheduler) persistLease(ctx context.Context) {
	if s.store == nil {
		return
	}
	if errSave := s.store.SaveLease(ctx, s.leases.Lease()); errSave != nil {
		log.WithError(errSave).Warn("reconcile: persist lease failed")
	}
}
