package cron

import (
	"context"
	"fmt"
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
)

func newJobFixture(t *testing.T) (transactions.Repository, *reconcile.Engine) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Transaction{}))

	repo := transactions.NewRepository(conn)
	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Repo:   repo,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return repo, engine
}

func seedTransaction(t *testing.T, repo transactions.Repository, id string, status enums.TransactionStatus, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &models.Transaction{
		ID:          id,
		Status:      status,
		AmountCents: 6890,
		PlanType:    enums.PlanTypeMonthly,
		UserEmail:   "payer@example.com",
		ExpiresAt:   expiresAt,
	}))
}

func TestExpiredTransactionsJobExpiresLapsedPending(t *testing.T) {
	repo, engine := newJobFixture(t)
	seedTransaction(t, repo, "lapsed", enums.TransactionStatusPending, time.Now().Add(-time.Hour))
	seedTransaction(t, repo, "fresh", enums.TransactionStatusPending, time.Now().Add(time.Hour))

	job, err := NewExpiredTransactionsJob(ExpiredTransactionsJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Repo:   repo,
		Engine: engine,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	lapsed, err := repo.Get(context.Background(), "lapsed")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusExpired, lapsed.Status)
	assert.Nil(t, lapsed.PaidAt)

	fresh, err := repo.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPending, fresh.Status)
}

func TestExpiredTransactionsJobLeavesTerminalAlone(t *testing.T) {
	repo, engine := newJobFixture(t)
	seedTransaction(t, repo, "paid-late", enums.TransactionStatusPending, time.Now().Add(-time.Hour))

	_, err := engine.ApplyStatus(context.Background(), "paid-late", enums.TransactionStatusPaid, reconcile.Metadata{
		Source: enums.ReconcileSourceWebhook,
	})
	require.NoError(t, err)

	job, err := NewExpiredTransactionsJob(ExpiredTransactionsJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Repo:   repo,
		Engine: engine,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	txn, err := repo.Get(context.Background(), "paid-late")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPaid, txn.Status)
}

func TestExpiredTransactionsJobSurvivesMidSweepPayment(t *testing.T) {
	repo, engine := newJobFixture(t)
	seedTransaction(t, repo, "race-a", enums.TransactionStatusPending, time.Now().Add(-time.Hour))
	seedTransaction(t, repo, "race-b", enums.TransactionStatusPending, time.Now().Add(-time.Hour))

	// Simulate a webhook landing after the job queried but before it writes:
	// the engine rejects the contradictory expiry and the sweep carries on.
	racingEngine := &raceApplier{engine: engine, repo: repo, winner: "race-b"}

	job, err := NewExpiredTransactionsJob(ExpiredTransactionsJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Repo:   repo,
		Engine: racingEngine,
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	a, err := repo.Get(context.Background(), "race-a")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusExpired, a.Status)

	b, err := repo.Get(context.Background(), "race-b")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPaid, b.Status)
}

type raceApplier struct {
	engine *reconcile.Engine
	repo   transactions.Repository
	winner string
	raced  bool
}

func (r *raceApplier) ApplyStatus(ctx context.Context, transactionID string, status enums.TransactionStatus, meta reconcile.Metadata) (*reconcile.Result, error) {
	if transactionID == r.winner && !r.raced {
		r.raced = true
		if _, err := r.engine.ApplyStatus(ctx, transactionID, enums.TransactionStatusPaid, reconcile.Metadata{
			Source: enums.ReconcileSourceWebhook,
		}); err != nil {
			return nil, err
		}
	}
	return r.engine.ApplyStatus(ctx, transactionID, status, meta)
}
