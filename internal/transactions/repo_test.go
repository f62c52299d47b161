package transactions

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

	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Transaction{}))
	return conn
}

func newPendingTransaction(id string) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		Status:      enums.TransactionStatusPending,
		AmountCents: 6890,
		PlanType:    enums.PlanTypeMonthly,
		UserEmail:   "payer@example.com",
		ExpiresAt:   time.Now().Add(30 * time.Minute),
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPendingTransaction("txn-1")))

	got, err := repo.Get(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPending, got.Status)
	assert.Equal(t, 6890, got.AmountCents)
}

func TestCreateDuplicateIDRejected(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPendingTransaction("txn-1")))
	err := repo.Create(ctx, newPendingTransaction("txn-1"))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestGetUnknownIDReturnsNotFound(t *testing.T) {
	repo := NewRepository(newTestDB(t))

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestFindByProviderPaymentIDFallsBackToOwnID(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	withProvider := newPendingTransaction("txn-1")
	providerID := "987654321"
	withProvider.ProviderPaymentID = &providerID
	require.NoError(t, repo.Create(ctx, withProvider))
	require.NoError(t, repo.Create(ctx, newPendingTransaction("txn-2")))

	byProvider, err := repo.FindByProviderPaymentID(ctx, "987654321")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", byProvider.ID)

	// External reference correlation: the provider echoes our own id back.
	byOwnID, err := repo.FindByProviderPaymentID(ctx, "txn-2")
	require.NoError(t, err)
	assert.Equal(t, "txn-2", byOwnID.ID)

	_, err = repo.FindByProviderPaymentID(ctx, "unknown")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateAppliesMutator(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPendingTransaction("txn-1")))

	updated, err := repo.Update(ctx, "txn-1", func(txn *models.Transaction) error {
		txn.Status = enums.TransactionStatusPaid
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPaid, updated.Status)

	got, err := repo.Get(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPaid, got.Status)
}

func TestUpdateMutatorErrorLeavesRecordIntact(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPendingTransaction("txn-1")))

	boom := pkgerrors.New(pkgerrors.CodeStateConflict, "rejected")
	_, err := repo.Update(ctx, "txn-1", func(txn *models.Transaction) error {
		txn.Status = enums.TransactionStatusCancelled
		return boom
	})
	require.Error(t, err)

	got, err := repo.Get(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPending, got.Status)
}

func TestUpdateUnknownIDDoesNotCreatePlaceholder(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Update(ctx, "ghost", func(txn *models.Transaction) error { return nil })
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = repo.Get(ctx, "ghost")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateSerializesPerID(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPendingTransaction("txn-1")))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "txn-1", func(txn *models.Transaction) error {
				txn.AmountCents++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, 6890+workers, got.AmountCents, "interleaved read-mutate-write lost an update")
}

// Two repository instances over one shared database stand in for the api
// server and the cron worker, whose per-id mutexes cannot see each other. A
// paid transition committed between the sweep's read and its write must
// invalidate the sweep's stale write rather than be overwritten.
func TestUpdateAcrossInstancesDoesNotOverwriteConcurrentTransition(t *testing.T) {
	conn := newTestDB(t)
	sweepRepo := NewRepository(conn)
	webhookRepo := NewRepository(conn)
	ctx := context.Background()
	require.NoError(t, sweepRepo.Create(ctx, newPendingTransaction("txn-1")))

	mutatorCalls := 0
	_, err := sweepRepo.Update(ctx, "txn-1", func(txn *models.Transaction) error {
		mutatorCalls++
		if mutatorCalls == 1 {
			// Lands after the sweep's read but before its write.
			_, err := webhookRepo.Update(ctx, "txn-1", func(inner *models.Transaction) error {
				inner.Status = enums.TransactionStatusPaid
				paidAt := time.Now().UTC()
				inner.PaidAt = &paidAt
				return nil
			})
			require.NoError(t, err)
		}
		if txn.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "terminal status contradicted")
		}
		txn.Status = enums.TransactionStatusExpired
		return nil
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 2, mutatorCalls, "stale write should force a re-read")

	got, err := sweepRepo.Get(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusPaid, got.Status)
	assert.NotNil(t, got.PaidAt)
}

func TestListFiltersByStatusAndExpiry(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	stale := newPendingTransaction("stale")
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, stale))

	fresh := newPendingTransaction("fresh")
	require.NoError(t, repo.Create(ctx, fresh))

	paid := newPendingTransaction("paid")
	paid.Status = enums.TransactionStatusPaid
	paid.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, paid))

	expired, err := repo.List(ctx, ListFilter{
		Status:        enums.TransactionStatusPending,
		ExpiresBefore: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ID)
}
