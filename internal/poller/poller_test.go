package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/brunopacheco/pixgate-backend/internal/reconcile"
	"github.com/brunopacheco/pixgate-backend/internal/transactions"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	"github.com/brunopacheco/pixgate-backend/pkg/logger"
	"github.com/brunopacheco/pixgate-backend/pkg/mercadopago"
)

type scriptedFetcher struct {
	mu       sync.Mutex
	payments map[string]*mercadopago.Payment
	calls    int
}

func (f *scriptedFetcher) GetPayment(_ context.Context, paymentID string) (*mercadopago.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if payment, ok := f.payments[paymentID]; ok {
		return payment, nil
	}
	return &mercadopago.Payment{Status: "pending"}, nil
}

func (f *scriptedFetcher) setPayment(id string, payment *mercadopago.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payments == nil {
		f.payments = make(map[string]*mercadopago.Payment)
	}
	f.payments[id] = payment
}

type pollerFixture struct {
	poller  *Poller
	repo    transactions.Repository
	engine  *reconcile.Engine
	fetcher *scriptedFetcher
}

func newFixture(t *testing.T, interval time.Duration) *pollerFixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Transaction{}))

	repo := transactions.NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "test"})

	engine, err := reconcile.NewEngine(reconcile.EngineParams{Repo: repo, Logger: logg})
	require.NoError(t, err)

	fetcher := &scriptedFetcher{}
	syncer, err := reconcile.NewSyncer(reconcile.SyncerParams{
		Repo:     repo,
		Engine:   engine,
		Provider: fetcher,
		Logger:   logg,
	})
	require.NoError(t, err)

	p, err := NewPoller(PollerParams{
		Repo:     repo,
		Syncer:   syncer,
		Engine:   engine,
		Logger:   logg,
		Interval: interval,
	})
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	return &pollerFixture{poller: p, repo: repo, engine: engine, fetcher: fetcher}
}

func seed(t *testing.T, repo transactions.Repository, id, providerID string, expiresAt time.Time) {
	t.Helper()
	txn := &models.Transaction{
		ID:          id,
		Status:      enums.TransactionStatusPending,
		AmountCents: 6890,
		PlanType:    enums.PlanTypeMonthly,
		UserEmail:   "payer@example.com",
		ExpiresAt:   expiresAt,
	}
	if providerID != "" {
		txn.ProviderPaymentID = &providerID
	}
	require.NoError(t, repo.Create(context.Background(), txn))
}

func TestCheckNowAppliesProviderStatus(t *testing.T) {
	fx := newFixture(t, time.Minute)
	seed(t, fx.repo, "txn-1", "500", time.Now().Add(30*time.Minute))
	fx.fetcher.setPayment("500", &mercadopago.Payment{
		ID: 500, Status: "approved", StatusDetail: "accredited", ExternalReference: "txn-1",
	})

	txn, err := fx.poller.CheckNow(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPaid, txn.Status)
	require.NotNil(t, txn.PaidAt)
}

func TestCheckNowExpiresLapsedTransaction(t *testing.T) {
	fx := newFixture(t, time.Minute)
	seed(t, fx.repo, "txn-2", "501", time.Now().Add(-time.Minute))

	txn, err := fx.poller.CheckNow(context.Background(), "txn-2")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusExpired, txn.Status)
	assert.Nil(t, txn.PaidAt)
}

func TestCheckNowPrefersProviderApprovalOverExpiry(t *testing.T) {
	fx := newFixture(t, time.Minute)
	seed(t, fx.repo, "txn-3", "502", time.Now().Add(-time.Minute))
	fx.fetcher.setPayment("502", &mercadopago.Payment{
		ID: 502, Status: "approved", ExternalReference: "txn-3",
	})

	txn, err := fx.poller.CheckNow(context.Background(), "txn-3")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPaid, txn.Status)
}

func TestCheckNowSkipsProviderForTerminal(t *testing.T) {
	fx := newFixture(t, time.Minute)
	seed(t, fx.repo, "txn-4", "503", time.Now().Add(30*time.Minute))

	_, err := fx.engine.ApplyStatus(context.Background(), "txn-4", enums.TransactionStatusCancelled, reconcile.Metadata{
		Source: enums.ReconcileSourceWebhook,
	})
	require.NoError(t, err)

	txn, err := fx.poller.CheckNow(context.Background(), "txn-4")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCancelled, txn.Status)
	assert.Zero(t, fx.fetcher.calls)
}

func TestMonitoringReportsStatusChangeAndStops(t *testing.T) {
	fx := newFixture(t, 10*time.Millisecond)
	seed(t, fx.repo, "txn-5", "504", time.Now().Add(30*time.Minute))

	statusCh := make(chan enums.TransactionStatus, 8)
	var timeUpdates sync.WaitGroup
	timeUpdates.Add(1)
	var once sync.Once

	require.NoError(t, fx.poller.StartMonitoring("txn-5", Callbacks{
		OnStatusChange: func(txn *models.Transaction) {
			statusCh <- txn.Status
		},
		OnTimeUpdate: func(_ string, remaining time.Duration) {
			assert.LessOrEqual(t, remaining, 30*time.Minute)
			once.Do(timeUpdates.Done)
		},
	}))

	// First observation is the pending state.
	select {
	case status := <-statusCh:
		assert.Equal(t, enums.TransactionStatusPending, status)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial status callback")
	}
	timeUpdates.Wait()

	// Provider flips to approved; the loop should report paid and exit.
	fx.fetcher.setPayment("504", &mercadopago.Payment{
		ID: 504, Status: "approved", ExternalReference: "txn-5",
	})

	select {
	case status := <-statusCh:
		assert.Equal(t, enums.TransactionStatusPaid, status)
	case <-time.After(2 * time.Second):
		t.Fatal("no paid status callback")
	}
}

func TestStopMonitoringJoinsBeforeReturn(t *testing.T) {
	fx := newFixture(t, 5*time.Millisecond)
	seed(t, fx.repo, "txn-6", "505", time.Now().Add(30*time.Minute))

	var mu sync.Mutex
	stopped := false

	require.NoError(t, fx.poller.StartMonitoring("txn-6", Callbacks{
		OnTimeUpdate: func(string, time.Duration) {
			mu.Lock()
			assert.False(t, stopped, "callback after StopMonitoring returned")
			mu.Unlock()
		},
	}))

	time.Sleep(20 * time.Millisecond)
	fx.poller.StopMonitoring("txn-6")
	mu.Lock()
	stopped = true
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
}

func TestStartMonitoringIsIdempotentPerID(t *testing.T) {
	fx := newFixture(t, time.Hour)
	seed(t, fx.repo, "txn-7", "506", time.Now().Add(30*time.Minute))

	require.NoError(t, fx.poller.StartMonitoring("txn-7", Callbacks{}))
	require.NoError(t, fx.poller.StartMonitoring("txn-7", Callbacks{}))

	fx.poller.StopMonitoring("txn-7")
}
