package inventory

import (
	"fmt"
	"strconv"
	"strings"
)

// Adjustment is one (price instance, quantity) pair from a payment form
// submission.
type Adjustment struct {
	InstanceID string
	Quantity   int64
}

// Stripe metadata values are flat strings, so adjustments travel as
// "{instance_id}:{quantity}|{instance_id}:{quantity}". The format is shared
// with previously stored metadata and must not change.

func Encode(adjustments []Adjustment) string {
	parts := make([]string, 0, len(adjustments))
	for _, adj := range adjustments {
		parts = append(parts, fmt.Sprintf("%s:%d", adj.InstanceID, adj.Quantity))
	}
	return strings.Join(parts, "|")
}

func Decode(encoded string) ([]Adjustment, error) {
	if encoded == "" {
		return nil, nil
	}

	tokens := strings.Split(encoded, "|")
	adjustments := make([]Adjustment, 0, len(tokens))
	for _, token := range tokens {
		instanceID, quantity, ok := strings.Cut(token, ":")
		if !ok || instanceID == "" {
			return nil, fmt.Errorf("malformed inventory token %q", token)
		}

		qty, err := strconv.ParseInt(quantity, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed inventory quantity %q: %w", token, err)
		}

		adjustments = append(adjustments, Adjustment{InstanceID: instanceID, Quantity: qty})
	}

	return adjustments, nil
}
