package transaction

import (
	"context"

	"github.com/jackc/pgx/v5"

	"goflare.io/simpay/driver"
	"goflare.io/simpay/models"
)

type clientIPKey struct{}

// WithClientIP attaches the originating request's IP to the context so that
// inserts performed anywhere below the HTTP layer stamp it on the row.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

type Service interface {
	// Create inserts a row; returns (nil, nil) when a concurrent writer
	// already inserted the same object id.
	Create(ctx context.Context, txn *models.Transaction) (*models.Transaction, error)
	Update(ctx context.Context, id uint64, patch *models.PartialTransaction) error
	GetByObjectID(ctx context.Context, objectID string) (*models.Transaction, error)
	ListByFormID(ctx context.Context, formID uint64, limit, offset uint64) ([]*models.Transaction, error)
	AggregateByStatus(ctx context.Context, filter ReportFilter) ([]*StatusAggregate, error)
}

type service struct {
	repo               Repository
	transactionManager *driver.TransactionManager
}

func NewService(repo Repository, tm *driver.TransactionManager) Service {
	return &service{
		repo:               repo,
		transactionManager: tm,
	}
}

func (s *service) Create(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if txn.IPAddress == "" {
		txn.IPAddress = ClientIPFromContext(ctx)
	}

	var created *models.Transaction
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = s.repo.Create(ctx, tx, txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Update(ctx context.Context, id uint64, patch *models.PartialTransaction) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.repo.Update(ctx, tx, id, patch)
	})
}

func (s *service) GetByObjectID(ctx context.Context, objectID string) (*models.Transaction, error) {
	var found *models.Transaction
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		found, err = s.repo.GetByObjectID(ctx, tx, objectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *service) ListByFormID(ctx context.Context, formID uint64, limit, offset uint64) ([]*models.Transaction, error) {
	return s.repo.ListByFormID(ctx, formID, limit, offset)
}

func (s *service) AggregateByStatus(ctx context.Context, filter ReportFilter) ([]*StatusAggregate, error) {
	return s.repo.AggregateByStatus(ctx, filter)
}
