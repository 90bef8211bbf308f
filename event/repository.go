package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/simpay/driver"
	"goflare.io/simpay/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, event *models.Event) error {
	const query = `
    INSERT INTO events (id, type, processed, created_at, updated_at)
    VALUES ($1, $2, $3, NOW(), NOW())
    ON CONFLICT (id) DO NOTHING`

	if _, err := r.conn.Exec(ctx, query, event.ID, string(event.Type), event.Processed); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	const query = `SELECT id, type, processed, created_at, updated_at FROM events WHERE id = $1`

	event := new(models.Event)
	err := r.conn.QueryRow(ctx, query, id).Scan(
		&event.ID, &event.Type, &event.Processed, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	const query = `UPDATE events SET processed = TRUE, updated_at = $2 WHERE id = $1`

	if _, err := r.conn.Exec(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}
