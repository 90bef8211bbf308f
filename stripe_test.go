package simpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/simpay/models"
)

type fakeEventService struct {
	processed map[string]bool
	created   []*models.Event
}

func newFakeEventService() *fakeEventService {
	return &fakeEventService{processed: make(map[string]bool)}
}

func (f *fakeEventService) Create(_ context.Context, e *models.Event) error {
	f.created = append(f.created, e)
	return nil
}

func (f *fakeEventService) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	return f.processed[eventID], nil
}

func (f *fakeEventService) MarkEventAsProcessed(_ context.Context, eventID string) error {
	f.processed[eventID] = true
	return nil
}

// webhookPayload builds a minimal delivery body that passes the SDK's
// api_version check.
func webhookPayload(id string, eventType string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"api_version":%q}`, id, eventType, stripe.APIVersion))
}

// signPayload builds the Stripe-Signature header for a test delivery.
func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookLedger(fe *fakeEventService) *StripeLedger {
	logger := zap.NewNop()
	sl := &StripeLedger{
		logger:        logger,
		webhookSecret: "whsec_test",
		events:        fe,
		eventManager:  NewEventManager(nil, logger),
	}
	sl.registerEventHandlers()
	return sl
}

func TestHandleStripeWebhookAcksUnhandledTypes(t *testing.T) {
	fe := newFakeEventService()
	ledger := newWebhookLedger(fe)

	payload := webhookPayload("evt_1", "product.created")
	err := ledger.HandleStripeWebhook(context.Background(), payload, signPayload(payload, "whsec_test"))
	require.NoError(t, err)

	// No handler exists for the type, so nothing is queued or recorded.
	assert.Empty(t, fe.created)
	assert.False(t, fe.processed["evt_1"])
}

func TestHandleStripeWebhookSkipsProcessedEvents(t *testing.T) {
	fe := newFakeEventService()
	fe.processed["evt_2"] = true
	ledger := newWebhookLedger(fe)

	payload := webhookPayload("evt_2", "payment_intent.succeeded")
	err := ledger.HandleStripeWebhook(context.Background(), payload, signPayload(payload, "whsec_test"))
	require.NoError(t, err)
	assert.Empty(t, fe.created)
}

func TestHandleStripeWebhookRejectsBadSignature(t *testing.T) {
	fe := newFakeEventService()
	ledger := newWebhookLedger(fe)

	payload := webhookPayload("evt_3", "payment_intent.succeeded")
	err := ledger.HandleStripeWebhook(context.Background(), payload, signPayload(payload, "whsec_wrong"))
	require.Error(t, err)
	assert.Empty(t, fe.created)
}
