package transaction

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/ember"
	"goflare.io/ignite"
	"goflare.io/simpay/driver"
	"goflare.io/simpay/models"
	"goflare.io/simpay/models/enum"
)

// The external Stripe id is stored in the underscore-prefixed _object_id
// column; the consumer-facing field is always object_id. A partial unique
// index on _object_id (empty ids excluded) closes the race between two
// concurrent check-then-insert webhook deliveries: the loser's insert
// returns no row and the caller falls back to an update.
const transactionColumns = `
    id, form_id, object, _object_id, livemode,
    amount_total, amount_subtotal, amount_shipping, amount_discount, amount_tax, amount_refunded,
    currency, email, customer_id, subscription_id, payment_method_type,
    status, application_fee, ip_address, uuid, date_created, date_modified`

// ErrDuplicateObjectID reports that an update tried to move a row onto an
// _object_id another row already owns. The caller merges into that row
// instead.
var ErrDuplicateObjectID = errors.New("transaction object id already exists")

// ReportFilter narrows the reporting aggregate.
type ReportFilter struct {
	Livemode bool
	Currency stripe.Currency
	Start    time.Time
	End      time.Time
}

// StatusAggregate is one reporting bucket.
type StatusAggregate struct {
	Status      enum.TransactionStatus `json:"status"`
	Count       int64                  `json:"count"`
	AmountTotal int64                  `json:"amount_total"`
}

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, txn *models.Transaction) (*models.Transaction, error)
	Update(ctx context.Context, tx pgx.Tx, id uint64, patch *models.PartialTransaction) error
	GetByObjectID(ctx context.Context, tx pgx.Tx, objectID string) (*models.Transaction, error)
	ListByFormID(ctx context.Context, formID uint64, limit, offset uint64) ([]*models.Transaction, error)
	AggregateByStatus(ctx context.Context, filter ReportFilter) ([]*StatusAggregate, error)
}

type repository struct {
	conn        driver.PostgresPool
	logger      *zap.Logger
	cache       *ember.MultiCache
	poolManager ignite.Manager
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger, cache *ember.MultiCache, poolManager ignite.Manager) (Repository, error) {
	if err := poolManager.RegisterPool(reflect.TypeOf(&models.Transaction{}), ignite.Config[any]{
		InitialSize: 10,
		MaxSize:     100,
		MaxIdleTime: 10 * time.Minute,
		Factory: func() (any, error) {
			return models.NewTransaction(), nil
		},
		Reset: func(obj any) error {
			txn := obj.(*models.Transaction)
			*txn = models.Transaction{}
			return nil
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to register transaction pool: %w", err)
	}

	return &repository{
		conn:        conn,
		logger:      logger,
		cache:       cache,
		poolManager: poolManager,
	}, nil
}

func (r *repository) getFromPool(ctx context.Context) (*models.Transaction, func(), error) {
	pool, err := r.poolManager.GetPool(reflect.TypeOf(&models.Transaction{}))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get pool: %w", err)
	}

	objWrapper, err := pool.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object from pool: %w", err)
	}

	txn := objWrapper.Object.(*models.Transaction)
	release := func() {
		pool.Put(objWrapper)
	}

	return txn, release, nil
}

// Create inserts a new ledger row and returns it with its assigned id, uuid
// and timestamps. When another writer already inserted the same _object_id it
// returns (nil, nil) so the caller can fall back to an update.
func (r *repository) Create(ctx context.Context, tx pgx.Tx, txn *models.Transaction) (*models.Transaction, error) {
	const query = `
    INSERT INTO transactions (
        form_id, object, _object_id, livemode,
        amount_total, amount_subtotal, amount_shipping, amount_discount, amount_tax, amount_refunded,
        currency, email, customer_id, subscription_id, payment_method_type,
        status, application_fee, ip_address, uuid, date_created, date_modified)
    VALUES (
        @form_id, @object, @object_id, @livemode,
        @amount_total, @amount_subtotal, @amount_shipping, @amount_discount, @amount_tax, @amount_refunded,
        @currency, @email, @customer_id, @subscription_id, @payment_method_type,
        @status, @application_fee, @ip_address, @uuid, @date_created, @date_modified)
    ON CONFLICT (_object_id) WHERE _object_id <> '' DO NOTHING
    RETURNING id
    `

	now := time.Now()
	txn.UUID = uuid.NewString()
	txn.DateCreated = now
	txn.DateModified = now

	args := pgx.NamedArgs{
		"form_id":             txn.FormID,
		"object":              string(txn.Object),
		"object_id":           txn.ObjectID,
		"livemode":            txn.Livemode,
		"amount_total":        txn.AmountTotal,
		"amount_subtotal":     txn.AmountSubtotal,
		"amount_shipping":     txn.AmountShipping,
		"amount_discount":     txn.AmountDiscount,
		"amount_tax":          txn.AmountTax,
		"amount_refunded":     txn.AmountRefunded,
		"currency":            string(txn.Currency),
		"email":               txn.Email,
		"customer_id":         txn.CustomerID,
		"subscription_id":     txn.SubscriptionID,
		"payment_method_type": txn.PaymentMethodType,
		"status":              string(txn.Status),
		"application_fee":     txn.ApplicationFee,
		"ip_address":          txn.IPAddress,
		"uuid":                txn.UUID,
		"date_created":        txn.DateCreated,
		"date_modified":       txn.DateModified,
	}

	if err := tx.QueryRow(ctx, query, args).Scan(&txn.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return txn, nil
}

// Update applies a partial patch by local id; nil fields keep their stored
// values. Object and _object_id may be rewritten here, which is how a
// checkout_session row becomes a payment_intent row.
func (r *repository) Update(ctx context.Context, tx pgx.Tx, id uint64, patch *models.PartialTransaction) error {
	const query = `
    UPDATE transactions SET
        form_id = COALESCE(@form_id, form_id),
        object = COALESCE(@object, object),
        _object_id = COALESCE(@object_id, _object_id),
        livemode = COALESCE(@livemode, livemode),
        amount_total = COALESCE(@amount_total, amount_total),
        amount_subtotal = COALESCE(@amount_subtotal, amount_subtotal),
        amount_shipping = COALESCE(@amount_shipping, amount_shipping),
        amount_discount = COALESCE(@amount_discount, amount_discount),
        amount_tax = COALESCE(@amount_tax, amount_tax),
        amount_refunded = COALESCE(@amount_refunded, amount_refunded),
        currency = COALESCE(@currency, currency),
        email = COALESCE(@email, email),
        customer_id = COALESCE(@customer_id, customer_id),
        subscription_id = COALESCE(@subscription_id, subscription_id),
        payment_method_type = COALESCE(@payment_method_type, payment_method_type),
        status = COALESCE(@status, status),
        application_fee = COALESCE(@application_fee, application_fee),
        date_modified = @date_modified
    WHERE id = @id
    `

	args := pgx.NamedArgs{
		"id":                  id,
		"form_id":             patch.FormID,
		"object":              (*string)(patch.Object),
		"object_id":           patch.ObjectID,
		"livemode":            patch.Livemode,
		"amount_total":        patch.AmountTotal,
		"amount_subtotal":     patch.AmountSubtotal,
		"amount_shipping":     patch.AmountShipping,
		"amount_discount":     patch.AmountDiscount,
		"amount_tax":          patch.AmountTax,
		"amount_refunded":     patch.AmountRefunded,
		"currency":            (*string)(patch.Currency),
		"email":               patch.Email,
		"customer_id":         patch.CustomerID,
		"subscription_id":     patch.SubscriptionID,
		"payment_method_type": patch.PaymentMethodType,
		"status":              (*string)(patch.Status),
		"application_fee":     patch.ApplicationFee,
		"date_modified":       time.Now(),
	}

	if _, err := tx.Exec(ctx, query, args); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateObjectID
		}
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	return nil
}

// GetByObjectID is the idempotency lookup every observer handler performs
// before deciding insert vs. update. It returns (nil, nil) when no row
// exists and deliberately bypasses the cache: it must observe the latest
// write, including a rewritten _object_id.
func (r *repository) GetByObjectID(ctx context.Context, tx pgx.Tx, objectID string) (*models.Transaction, error) {
	if objectID == "" {
		return nil, nil
	}

	query := `SELECT` + transactionColumns + ` FROM transactions WHERE _object_id = $1`

	txn := models.NewTransaction()
	if err := scanTransaction(tx.QueryRow(ctx, query, objectID), txn); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by object id: %w", err)
	}

	return txn, nil
}

// ListByFormID serves reporting reads; results may be cached since staleness
// is acceptable there.
func (r *repository) ListByFormID(ctx context.Context, formID uint64, limit, offset uint64) ([]*models.Transaction, error) {
	cacheKey := fmt.Sprintf("transactions:form:%d:limit:%d:offset:%d", formID, limit, offset)
	if r.cache != nil {
		var cached []*models.Transaction
		found, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			r.logger.Warn("Failed to get transactions from cache", zap.Error(err), zap.Uint64("form_id", formID))
		} else if found {
			return cached, nil
		}
	}

	query := `SELECT` + transactionColumns + `
    FROM transactions WHERE form_id = $1
    ORDER BY date_created DESC
    LIMIT $2 OFFSET $3`

	rows, err := r.conn.Query(ctx, query, formID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		pooled, release, err := r.getFromPool(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get transaction from pool: %w", err)
		}

		if err = scanTransaction(rows, pooled); err != nil {
			release()
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn := *pooled
		release()
		transactions = append(transactions, &txn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	if r.cache != nil {
		if err = r.cache.Set(ctx, cacheKey, transactions); err != nil {
			r.logger.Warn("Failed to cache transactions list", zap.Error(err), zap.Uint64("form_id", formID))
		}
	}

	return transactions, nil
}

// AggregateByStatus is the dashboard aggregate: row count and summed
// amount_total per status, within a livemode/currency/date window.
func (r *repository) AggregateByStatus(ctx context.Context, filter ReportFilter) ([]*StatusAggregate, error) {
	cacheKey := fmt.Sprintf("transactions:aggregate:%t:%s:%d:%d",
		filter.Livemode, filter.Currency, filter.Start.Unix(), filter.End.Unix())
	if r.cache != nil {
		var cached []*StatusAggregate
		found, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			r.logger.Warn("Failed to get aggregate from cache", zap.Error(err))
		} else if found {
			return cached, nil
		}
	}

	const query = `
    SELECT status, COUNT(*), COALESCE(SUM(amount_total), 0)
    FROM transactions
    WHERE livemode = @livemode
      AND currency = @currency
      AND date_created >= @start
      AND date_created < @end
    GROUP BY status`

	rows, err := r.conn.Query(ctx, query, pgx.NamedArgs{
		"livemode": filter.Livemode,
		"currency": string(filter.Currency),
		"start":    filter.Start,
		"end":      filter.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	defer rows.Close()

	var aggregates []*StatusAggregate
	for rows.Next() {
		agg := new(StatusAggregate)
		if err = rows.Scan(&agg.Status, &agg.Count, &agg.AmountTotal); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	if r.cache != nil {
		if err = r.cache.Set(ctx, cacheKey, aggregates); err != nil {
			r.logger.Warn("Failed to cache aggregate", zap.Error(err))
		}
	}

	return aggregates, nil
}

func scanTransaction(row pgx.Row, txn *models.Transaction) error {
	return row.Scan(
		&txn.ID, &txn.FormID, &txn.Object, &txn.ObjectID, &txn.Livemode,
		&txn.AmountTotal, &txn.AmountSubtotal, &txn.AmountShipping, &txn.AmountDiscount, &txn.AmountTax, &txn.AmountRefunded,
		&txn.Currency, &txn.Email, &txn.CustomerID, &txn.SubscriptionID, &txn.PaymentMethodType,
		&txn.Status, &txn.ApplicationFee, &txn.IPAddress, &txn.UUID, &txn.DateCreated, &txn.DateModified,
	)
}
