package form

import (
	"context"

	"github.com/jackc/pgx/v5"

	"goflare.io/simpay/driver"
	"goflare.io/simpay/models"
)

type Service interface {
	GetByID(ctx context.Context, id uint64) (*models.PaymentForm, error)
	AdjustStock(ctx context.Context, formID uint64, delta int64) error
	AdjustInstanceStock(ctx context.Context, formID uint64, instanceID string, delta int64) error
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

func (s *service) GetByID(ctx context.Context, id uint64) (*models.PaymentForm, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) AdjustStock(ctx context.Context, formID uint64, delta int64) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.repo.AdjustStock(ctx, tx, formID, delta)
	})
}

func (s *service) AdjustInstanceStock(ctx context.Context, formID uint64, instanceID string, delta int64) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.repo.AdjustInstanceStock(ctx, tx, formID, instanceID, delta)
	})
}
