package poller

import (
	"context"
	"sync"
	"time"

	"github.com/brunopacheco/pixgate-backend/internal/reconcile"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
)

type transactionGetter interface {
	Get(ctx context.Context, id string) (*models.Transaction, error)
}

type statusSyncer interface {
	SyncTransaction(ctx context.Context, txn *models.Transaction, source enums.ReconcileSource) (*reconcile.Result, error)
}

type statusApplier interface {
	ApplyStatus(ctx context.Context, transactionID string, status enums.TransactionStatus, meta reconcile.Metadata) (*reconcile.Result, error)
}

// Callbacks receive monitoring updates. Both are optional. They are invoked
// from the monitor goroutine, never after Stop returns.
type Callbacks struct {
	OnStatusChange func(txn *models.Transaction)
	OnTimeUpdate   func(transactionID string, remaining time.Duration)
}

// PollerParams configures a Poller.
type PollerParams struct {
	Repo     transactionGetter
	Syncer   statusSyncer
	Engine   statusApplier
	Logger   *logger.Logger
	Interval time.Duration
}

// Poller watches pending transactions: every tick it re-checks the provider
// through the same reconciliation path the webhook uses, reports the time
// left on the PIX code, and marks the transaction expired when the clock
// runs out. Monitoring stops on its own once the transaction goes terminal.
type Poller struct {
	repo     transactionGetter
	syncer   statusSyncer
	engine   statusApplier
	logg     *logger.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	monitors map[string]*monitor
	stopped  bool
}

type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller wires the poller's dependencies.
func NewPoller(params PollerParams) (*Poller, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Syncer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "status syncer required")
	}
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Interval <= 0 {
		params.Interval = 5 * time.Second
	}
	return &Poller{
		repo:     params.Repo,
		syncer:   params.Syncer,
		engine:   params.Engine,
		logg:     params.Logger,
		interval: params.Interval,
		now:      time.Now,
		monitors: make(map[string]*monitor),
	}, nil
}

// StartMonitoring begins a polling loop for one transaction. Starting an
// already-monitored id is a no-op.
func (p *Poller) StartMonitoring(transactionID string, callbacks Callbacks) error {
	if transactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return pkgerrors.New(pkgerrors.CodeInternal, "poller is stopped")
	}
	if _, ok := p.monitors[transactionID]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &monitor{cancel: cancel, done: make(chan struct{})}
	p.monitors[transactionID] = m

	go p.run(ctx, transactionID, callbacks, m)
	return nil
}

// StopMonitoring halts the loop for one transaction and waits until its
// goroutine has exited, so no callback fires after return.
func (p *Poller) StopMonitoring(transactionID string) {
	p.mu.Lock()
	m, ok := p.monitors[transactionID]
	if ok {
		delete(p.monitors, transactionID)
	}
	p.mu.Unlock()

	if ok {
		m.cancel()
		<-m.done
	}
}

// Stop halts every monitor. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	remaining := p.monitors
	p.monitors = make(map[string]*monitor)
	p.mu.Unlock()

	for _, m := range remaining {
		m.cancel()
		<-m.done
	}
}

func (p *Poller) run(ctx context.Context, transactionID string, callbacks Callbacks, m *monitor) {
	defer close(m.done)
	defer p.forget(transactionID, m)

	ctx = p.logg.WithTransactionID(ctx, transactionID)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastStatus enums.TransactionStatus

	// First check runs immediately so the caller sees state without waiting a
	// full tick.
	for {
		txn, err := p.CheckNow(ctx, transactionID)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				p.logg.Warn(ctx, "monitored transaction vanished; stopping poll")
				return
			}
			p.logg.Error(ctx, "poll check failed", err)
		} else {
			if callbacks.OnTimeUpdate != nil {
				callbacks.OnTimeUpdate(transactionID, txn.RemainingUntilExpiry(p.now()))
			}
			if txn.Status != lastStatus {
				lastStatus = txn.Status
				if callbacks.OnStatusChange != nil {
					callbacks.OnStatusChange(txn)
				}
			}
			if txn.IsTerminal() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) forget(transactionID string, m *monitor) {
	p.mu.Lock()
	if current, ok := p.monitors[transactionID]; ok && current == m {
		delete(p.monitors, transactionID)
	}
	p.mu.Unlock()
}

// CheckNow performs one reconciliation pass for a transaction: provider
// re-fetch through the shared sync path, then a local expiry check. The
// provider answer is applied first, so an approval that races the expiry
// clock still wins.
func (p *Poller) CheckNow(ctx context.Context, transactionID string) (*models.Transaction, error) {
	txn, err := p.repo.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.IsTerminal() {
		return txn, nil
	}

	result, err := p.syncer.SyncTransaction(ctx, txn, enums.ReconcileSourcePoll)
	if err != nil {
		// Provider trouble is transient; report the stored state and let the
		// next tick retry.
		p.logg.Warn(ctx, "provider check failed; keeping stored status")
		result = &reconcile.Result{Transaction: txn}
	}
	txn = result.Transaction

	if !txn.IsTerminal() && !p.now().Before(txn.ExpiresAt) {
		expired, err := p.engine.ApplyStatus(ctx, transactionID, enums.TransactionStatusExpired, reconcile.Metadata{
			Source: enums.ReconcileSourcePoll,
		})
		if err != nil {
			// A webhook may have landed a different terminal status between
			// the sync and the expiry write; the stored record wins.
			if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
				return p.repo.Get(ctx, transactionID)
			}
			return nil, err
		}
		txn = expired.Transaction
	}

	return txn, nil
}
