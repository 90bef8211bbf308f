package event

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (Service, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewService(NewRepository(mock, zap.NewNop())), mock
}

func TestIsEventProcessedUnknownEvent(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`SELECT .* FROM events WHERE id`).
		WithArgs("evt_1").
		WillReturnError(pgx.ErrNoRows)

	processed, err := svc.IsEventProcessed(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsEventProcessedSeenEvent(t *testing.T) {
	svc, mock := newTestService(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM events WHERE id`).
		WithArgs("evt_2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "type", "processed", "created_at", "updated_at"}).
			AddRow("evt_2", stripe.EventTypePaymentIntentSucceeded, true, now, now))

	processed, err := svc.IsEventProcessed(context.Background(), "evt_2")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEventAsProcessed(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectExec(`UPDATE events SET processed = TRUE`).
		WithArgs("evt_3", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, svc.MarkEventAsProcessed(context.Background(), "evt_3"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
