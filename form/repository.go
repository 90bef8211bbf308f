package form

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/ember"
	"goflare.io/ignite"
	"goflare.io/simpay/driver"
	"goflare.io/simpay/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	GetByID(ctx context.Context, id uint64) (*models.PaymentForm, error)
	AdjustStock(ctx context.Context, tx pgx.Tx, formID uint64, delta int64) error
	AdjustInstanceStock(ctx context.Context, tx pgx.Tx, formID uint64, instanceID string, delta int64) error
}

type repository struct {
	conn        driver.PostgresPool
	logger      *zap.Logger
	cache       *ember.MultiCache
	poolManager ignite.Manager
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger, cache *ember.MultiCache, poolManager ignite.Manager) (Repository, error) {
	if err := poolManager.RegisterPool(reflect.TypeOf(&models.PaymentForm{}), ignite.Config[any]{
		InitialSize: 10,
		MaxSize:     100,
		MaxIdleTime: 10 * time.Minute,
		Factory: func() (any, error) {
			return models.NewPaymentForm(), nil
		},
		Reset: func(obj any) error {
			f := obj.(*models.PaymentForm)
			*f = models.PaymentForm{}
			return nil
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to register payment form pool: %w", err)
	}

	return &repository{
		conn:        conn,
		logger:      logger,
		cache:       cache,
		poolManager: poolManager,
	}, nil
}

// GetByID returns (nil, nil) when the form does not exist; callers treat a
// missing form as "not ours" and no-op.
func (r *repository) GetByID(ctx context.Context, id uint64) (*models.PaymentForm, error) {
	cacheKey := fmt.Sprintf("payment_form:%d", id)

	pool, err := r.poolManager.GetPool(reflect.TypeOf(&models.PaymentForm{}))
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	objWrapper, err := pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get object from pool: %w", err)
	}
	pooled := objWrapper.Object.(*models.PaymentForm)
	defer pool.Put(objWrapper)

	found, err := r.cache.Get(ctx, cacheKey, pooled)
	if err != nil {
		r.logger.Warn("Failed to get payment form from cache", zap.Error(err), zap.Uint64("id", id))
	} else if found {
		result := *pooled
		return &result, nil
	}

	const query = `
    SELECT id, name, livemode, amount_type, unit_amount, quantity, custom_amount_min,
           manage_inventory, inventory_behavior, stock
    FROM payment_forms WHERE id = $1`

	f := models.NewPaymentForm()
	err = r.conn.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.Livemode, &f.AmountType, &f.UnitAmount, &f.Quantity, &f.CustomAmountMin,
		&f.ManageInventory, &f.Behavior, &f.Stock,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment form: %w", err)
	}

	if err = r.cache.Set(ctx, cacheKey, f); err != nil {
		r.logger.Warn("Failed to cache payment form", zap.Error(err), zap.Uint64("id", id))
	}

	return f, nil
}

// AdjustStock moves the form's pooled count; the floor at zero keeps a
// replayed failure webhook from driving stock negative.
func (r *repository) AdjustStock(ctx context.Context, tx pgx.Tx, formID uint64, delta int64) error {
	const query = `
    UPDATE payment_forms
    SET stock = GREATEST(stock + $2, 0)
    WHERE id = $1 AND manage_inventory`

	if _, err := tx.Exec(ctx, query, formID, delta); err != nil {
		return fmt.Errorf("failed to adjust form stock: %w", err)
	}

	cacheKey := fmt.Sprintf("payment_form:%d", formID)
	if err := r.cache.Delete(ctx, cacheKey); err != nil {
		r.logger.Warn("Failed to invalidate payment form cache", zap.Error(err), zap.Uint64("id", formID))
	}

	return nil
}

func (r *repository) AdjustInstanceStock(ctx context.Context, tx pgx.Tx, formID uint64, instanceID string, delta int64) error {
	const query = `
    UPDATE payment_form_inventory
    SET stock = GREATEST(stock + $3, 0)
    WHERE form_id = $1 AND instance_id = $2`

	if _, err := tx.Exec(ctx, query, formID, instanceID, delta); err != nil {
		return fmt.Errorf("failed to adjust instance stock: %w", err)
	}

	return nil
}
