package enum

// ObjectType identifies which Stripe resource a transaction's object_id
// refers to. It is rewritten when a transaction resolves to a more specific
// resource (e.g. checkout_session to payment_intent).
type ObjectType string

const (
	ObjectTypePaymentIntent   ObjectType = "payment_intent"
	ObjectTypeSetupIntent     ObjectType = "setup_intent"
	ObjectTypeSubscription    ObjectType = "subscription"
	ObjectTypeCheckoutSession ObjectType = "checkout_session"
)
