// Package respawn implements component C7: on cold start, every swap
// record with no terminal event on at least one side is relaunched
// through the executor. Because swapexec.Executor records every completed
// step in the event store and checkpoints each wallet broadcast as a
// Pending event right after submitting it (spec.md §4.5
// "Resumability"), a relaunched run replays whatever steps already
// completed and continues from the first one that didn't, without any
// special-casing here — the respawner's only job is to reconstruct the
// arguments C5 needs and call it, mirroring how lnd's server.go walks
// channeldb's open channels and relaunches a htlcswitch link for each on
// startup.
package respawn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"

	"github.com/atomicswap/swapd/metrics"
	"github.com/atomicswap/swapd/swapdb"
	"github.com/atomicswap/swapd/swapdomain"
	"github.com/atomicswap/swapd/swapexec"
)

// SideFactory builds the ledger-bound Watcher/Wallet pair for one leg of
// a swap from its negotiated HtlcParams. cmd/swapd supplies the concrete
// implementation once its chain backends are dialed, keeping this
// package ignorant of RPC endpoints, signers, or chain params, the way
// chainregistry.go's chainControl is constructed once and handed down
// rather than rebuilt per channel.
type SideFactory interface {
	Side(ctx context.Context, params swapdomain.HtlcParams) (swapexec.Side, error)
}

// Respawner relaunches unfinished swaps recorded in db.
type Respawner struct {
	db       *swapdb.DB
	executor *swapexec.Executor
	sides    SideFactory
	net      *chaincfg.Params
	log      btclog.Logger

	mu      sync.Mutex
	running map[swapdomain.SwapId]bool

	metrics *metrics.Registry
}

// WithMetrics attaches a metrics.Registry that Run reports the unfinished
// swap count to. Optional: a Respawner built via New alone skips it.
func (r *Respawner) WithMetrics(m *metrics.Registry) *Respawner {
	r.metrics = m
	return r
}

// New constructs a Respawner. net supplies the chain parameters needed to
// decode the Bitcoin addresses embedded in a persisted SwapParams record.
func New(db *swapdb.DB, executor *swapexec.Executor, sides SideFactory, net *chaincfg.Params, log btclog.Logger) *Respawner {
	return &Respawner{db: db, executor: executor, sides: sides, net: net, log: log, running: make(map[swapdomain.SwapId]bool)}
}

// Run relaunches every unfinished swap and blocks until every relaunched
// run has returned. A single swap's failure is logged and does not
// prevent the others from running, since each swap's state is
// independent (spec.md §5, "no shared mutable swap state between
// tasks").
func (r *Respawner) Run(ctx context.Context) error {
	ids, err := r.db.ListUnfinished()
	if err != nil {
		return fmt.Errorf("respawn: list unfinished swaps: %w", err)
	}

	r.log.Infof("relaunching %d unfinished swap(s)", len(ids))
	if r.metrics != nil {
		r.metrics.ActiveSwaps.Set(float64(len(ids)))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		if !r.claim(id) {
			continue
		}
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.release(id)
			if err := r.relaunch(ctx, id); err != nil {
				r.log.Errorf("swap %s: relaunch failed: %v", id, err)
			}
		}()
	}
	wg.Wait()

	return nil
}

// Watch runs Run once for cold-start recovery, then re-runs it every
// pollInterval, launching any unfinished swap that is not already
// running, and returns when ctx is cancelled. A swap already being driven
// by this Respawner is skipped on each poll via the running set, so Watch
// and a concurrent Run never double-launch the same swap. swapctl
// start-swap cannot write to the event store while swapd holds it open,
// so a swap it registers is first seen on swapd's next start.
func (r *Respawner) Watch(ctx context.Context, pollInterval time.Duration) error {
	if err := r.Run(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.log.Errorf("respawn: poll failed: %v", err)
			}
		}
	}
}

// claim reports whether id was not already running and marks it running.
func (r *Respawner) claim(id swapdomain.SwapId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[id] {
		return false
	}
	r.running[id] = true
	return true
}

func (r *Respawner) release(id swapdomain.SwapId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

func (r *Respawner) relaunch(ctx context.Context, id swapdomain.SwapId) error {
	params, err := r.db.LoadParams(id, r.net)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}

	alpha, err := r.sides.Side(ctx, params.Alpha)
	if err != nil {
		return fmt.Errorf("build alpha side: %w", err)
	}
	beta, err := r.sides.Side(ctx, params.Beta)
	if err != nil {
		return fmt.Errorf("build beta side: %w", err)
	}

	r.log.Infof("swap %s: relaunching as %s", id, params.Role)

	if params.Role == swapdomain.RoleBob {
		return r.executor.RunBob(ctx, params, alpha, beta)
	}

	secret, err := r.db.LoadSecret(id)
	if err != nil {
		return fmt.Errorf("load secret: %w", err)
	}
	return r.executor.RunAlice(ctx, params, secret, alpha, beta)
}
