package inventory

import (
	"context"

	"go.uber.org/zap"

	"goflare.io/simpay/form"
	"goflare.io/simpay/models"
	"goflare.io/simpay/models/enum"
)

type Service interface {
	// Consume decrements stock for a successful creation; Restock returns it
	// after a failed charge. Both decode the metadata-encoded adjustments and
	// treat an unparseable or empty payload as a no-op.
	Consume(ctx context.Context, f *models.PaymentForm, encoded string) error
	Restock(ctx context.Context, f *models.PaymentForm, encoded string) error
}

type service struct {
	forms  form.Service
	logger *zap.Logger
}

func NewService(forms form.Service, logger *zap.Logger) Service {
	return &service{
		forms:  forms,
		logger: logger,
	}
}

func (s *service) Consume(ctx context.Context, f *models.PaymentForm, encoded string) error {
	return s.adjust(ctx, f, encoded, -1)
}

func (s *service) Restock(ctx context.Context, f *models.PaymentForm, encoded string) error {
	return s.adjust(ctx, f, encoded, 1)
}

func (s *service) adjust(ctx context.Context, f *models.PaymentForm, encoded string, direction int64) error {
	if f == nil || !f.IsManagingInventory() {
		return nil
	}

	adjustments, err := Decode(encoded)
	if err != nil {
		s.logger.Warn("Skipping unparseable inventory metadata",
			zap.Uint64("form_id", f.ID),
			zap.String("encoded", encoded),
			zap.Error(err))
		return nil
	}
	if len(adjustments) == 0 {
		return nil
	}

	switch f.GetInventoryBehavior() {
	case enum.InventoryBehaviorIndividual:
		for _, adj := range adjustments {
			if err = s.forms.AdjustInstanceStock(ctx, f.ID, adj.InstanceID, direction*adj.Quantity); err != nil {
				return err
			}
		}
		return nil
	default:
		// Combined stock pools every instance, so only the first pair's
		// quantity moves the count.
		return s.forms.AdjustStock(ctx, f.ID, direction*adjustments[0].Quantity)
	}
}
