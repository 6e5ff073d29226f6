// Package scheduler runs the sweep loop: every interval, each destination's
// accounts are polled, new posts filtered through the dedup ledger and
// relayed oldest first. A post id lands in the ledger only after the
// destination confirmed delivery, so a failed delivery is retried on the
// next sweep rather than lost.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/chirprelay/chirprelay/pkg/domain"
	"github.com/chirprelay/chirprelay/pkg/ledger"
)

//go:generate moq -out mocks/fetcher.go -pkg mocks -skip-ensure -fmt goimports . Fetcher
//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/ledger.go -pkg mocks -skip-ensure -fmt goimports . Ledger

// Fetcher gets the newest normalized posts for an account
type Fetcher interface {
	Latest(ctx context.Context, account string) ([]domain.Post, error)
}

// Notifier delivers one post to a destination webhook
type Notifier interface {
	Notify(ctx context.Context, webhook, account string, post domain.Post) domain.DeliveryOutcome
}

// Ledger persists per-account forwarded post ids
type Ledger interface {
	Load(account string) (*ledger.Seen, error)
	Flush(account string, seen *ledger.Seen) error
}

// Dispatcher drives the poll-dedupe-notify cycle for all destinations
type Dispatcher struct {
	fetcher      Fetcher
	notifier     Notifier
	ledger       Ledger
	destinations []domain.Destination

	interval   time.Duration
	maxAge     time.Duration // 0 disables the age filter
	maxWorkers int

	mu     sync.Mutex
	status Status
}

// Config holds dispatcher configuration
type Config struct {
	Fetcher      Fetcher
	Notifier     Notifier
	Ledger       Ledger
	Destinations []domain.Destination
	Interval     time.Duration
	MaxAge       time.Duration
	MaxWorkers   int
}

// AccountStatus is the last sweep result for one account
type AccountStatus struct {
	Account     string    `json:"account"`
	Destination string    `json:"destination"`
	SweptAt     time.Time `json:"swept_at"`
	Fetched     int       `json:"fetched"`
	Relayed     int       `json:"relayed"`
	LastError   string    `json:"last_error,omitempty"`
}

// Status is a snapshot of dispatcher state for the status server
type Status struct {
	Sweeps    int                      `json:"sweeps"`
	LastSweep time.Time                `json:"last_sweep"`
	Accounts  map[string]AccountStatus `json:"accounts"`
}

// NewDispatcher creates a dispatcher from config, filling defaults
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 2
	}
	return &Dispatcher{
		fetcher:      cfg.Fetcher,
		notifier:     cfg.Notifier,
		ledger:       cfg.Ledger,
		destinations: cfg.Destinations,
		interval:     cfg.Interval,
		maxAge:       cfg.MaxAge,
		maxWorkers:   cfg.MaxWorkers,
		status:       Status{Accounts: make(map[string]AccountStatus)},
	}
}

// Run sweeps immediately, then on every interval tick until the context is
// canceled. The idle delay is interruptible so shutdown is prompt.
func (d *Dispatcher) Run(ctx context.Context) error {
	lgr.Printf("[INFO] dispatcher started, %d destinations, interval %v", len(d.destinations), d.interval)

	d.Sweep(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lgr.Printf("[INFO] dispatcher stopped")
			return nil
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep processes every destination once. Destinations run concurrently
// (bounded); accounts within a destination stay sequential, and each account
// belongs to exactly one destination, so per-account ledger updates are
// never interleaved.
func (d *Dispatcher) Sweep(ctx context.Context) {
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxWorkers)

	for _, dest := range d.destinations {
		g.Go(func() error {
			d.processDestination(gctx, dest)
			return nil
		})
	}
	_ = g.Wait()

	d.mu.Lock()
	d.status.Sweeps++
	d.status.LastSweep = started
	d.mu.Unlock()

	lgr.Printf("[DEBUG] sweep completed in %v", time.Since(started).Round(time.Millisecond))
}

// Snapshot returns a copy of the current dispatcher status
func (d *Dispatcher) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := Status{Sweeps: d.status.Sweeps, LastSweep: d.status.LastSweep, Accounts: make(map[string]AccountStatus, len(d.status.Accounts))}
	for k, v := range d.status.Accounts {
		res.Accounts[k] = v
	}
	return res
}

func (d *Dispatcher) processDestination(ctx context.Context, dest domain.Destination) {
	for _, account := range dest.Accounts {
		if ctx.Err() != nil {
			return
		}
		d.processAccount(ctx, dest, account)
	}
}

// processAccount fetches the newest posts for one account, filters them
// through the ledger and relays survivors oldest first. No failure here may
// affect any other account.
func (d *Dispatcher) processAccount(ctx context.Context, dest domain.Destination, account string) {
	st := AccountStatus{Account: account, Destination: dest.Name, SweptAt: time.Now()}
	defer func() {
		d.mu.Lock()
		d.status.Accounts[account] = st
		d.mu.Unlock()
	}()

	posts, err := d.fetcher.Latest(ctx, account)
	if err != nil {
		lgr.Printf("[WARN] fetch failed for %s: %v", account, err)
		st.LastError = err.Error()
		return
	}
	st.Fetched = len(posts)
	if len(posts) == 0 {
		return
	}

	seen, err := d.ledger.Load(account)
	if err != nil {
		lgr.Printf("[WARN] ledger load failed for %s: %v", account, err)
		st.LastError = err.Error()
		return
	}

	// source order is newest first; walk backwards so multiple new posts
	// arrive in chronological order
	for i := len(posts) - 1; i >= 0; i-- {
		post := posts[i]

		if d.tooOld(post) {
			lgr.Printf("[DEBUG] skipping old post %s from %s", post.ID, account)
			continue
		}
		if seen.Has(post.ID) {
			continue
		}

		outcome := d.notifier.Notify(ctx, dest.Webhook, account, post)
		if !outcome.Ok() {
			lgr.Printf("[WARN] delivery %s for %s post %s: %s", outcome.Status, account, post.ID, outcome.Reason)
			st.LastError = outcome.Reason
			continue
		}

		// record only after confirmed delivery
		seen.Record(post.ID)
		if err := d.ledger.Flush(account, seen); err != nil {
			// unwritable ledger means duplicates on restart
			lgr.Printf("[ERROR] ledger flush failed for %s: %v", account, err)
			st.LastError = err.Error()
			return
		}

		st.Relayed++
		lgr.Printf("[INFO] relayed post %s from @%s to %s", post.ID, account, dest.Name)
	}
}

// tooOld applies the optional age policy. Posts without a timestamp are
// never filtered by age; "old" and "already seen" are separate questions.
func (d *Dispatcher) tooOld(post domain.Post) bool {
	if d.maxAge <= 0 || post.Published == nil {
		return false
	}
	return time.Since(*post.Published) > d.maxAge
}
