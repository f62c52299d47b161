package transactions

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/brunopacheco/pixgate-backend/pkg/db"
	"github.com/brunopacheco/pixgate-backend/pkg/db/models"
	"github.com/brunopacheco/pixgate-backend/pkg/enums"
	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
)

// Repository is the single source of truth for payment transactions.
type Repository interface {
	Create(ctx context.Context, txn *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.Transaction, error)
	Update(ctx context.Context, id string, mutate func(*models.Transaction) error) (*models.Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]models.Transaction, error)
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	Status        enums.TransactionStatus
	ExpiresBefore time.Time
	Limit         int
}

type repositoryImpl struct {
	db    *gorm.DB
	locks keyedLocks
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{db: conn}
}

func (r *repositoryImpl) Create(ctx context.Context, txn *models.Transaction) error {
	if txn == nil || txn.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction id already exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
	}
	return nil
}

func (r *repositoryImpl) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return &txn, nil
}

// FindByProviderPaymentID correlates an inbound provider payment id to a
// stored transaction. The provider echoes our own id back as the external
// reference, so the id column doubles as a fallback correlation key.
func (r *repositoryImpl) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.Transaction, error) {
	if providerPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider payment id required")
	}
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider_payment_id = ? OR id = ?", providerPaymentID, providerPaymentID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction by provider payment id")
	}
	return &txn, nil
}

// updateRetryLimit bounds re-reads when a concurrent writer invalidates the
// guarded write. One retry normally settles it; the limit only guards
// against pathological churn on a single id.
const updateRetryLimit = 3

// Update runs the read-mutate-write cycle for one transaction. A per-id
// mutex keeps same-process callers from interleaving, but the api server and
// the cron worker write to the same table from separate processes, so the
// write itself is guarded by the status observed at read time: if another
// process transitioned the row in between, the guarded write matches nothing
// and the cycle re-reads so the mutator decides against the fresh record. A
// stale read can therefore never overwrite a committed transition. A mutator
// error aborts before anything is written.
func (r *repositoryImpl) Update(ctx context.Context, id string, mutate func(*models.Transaction) error) (*models.Transaction, error) {
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if mutate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mutator required")
	}

	unlock := r.locks.lock(id)
	defer unlock()

	for attempt := 0; attempt < updateRetryLimit; attempt++ {
		var txn models.Transaction
		if err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction for update")
		}

		statusAtRead := txn.Status
		if err := mutate(&txn); err != nil {
			return nil, err
		}

		result := r.db.WithContext(ctx).Model(&models.Transaction{}).
			Where("id = ? AND status = ?", id, statusAtRead).
			Select("*").Omit("id", "created_at").
			Updates(&txn)
		if result.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "persist transaction update")
		}
		if result.RowsAffected == 0 {
			// Another writer transitioned the row between our read and this
			// write; re-read and run the mutator against the current state.
			continue
		}
		return &txn, nil
	}

	return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction update contention")
}

func (r *repositoryImpl) List(ctx context.Context, filter ListFilter) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.ExpiresBefore.IsZero() {
		query = query.Where("expires_at < ?", filter.ExpiresBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var txns []models.Transaction
	if err := query.Order("created_at ASC").Find(&txns).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return txns, nil
}

// keyedLocks serializes updates per transaction id.
// TODO: entries are never evicted; revisit if the id space stops being
// short-lived payment intents.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	entry, ok := k.locks[id]
	if !ok {
		entry = &sync.Mutex{}
		k.locks[id] = entry
	}
	k.mu.Unlock()

	entry.Lock()
	return entry.Unlock
}
