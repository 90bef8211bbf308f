package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "", Encode(nil))
	assert.Equal(t, "a1:2", Encode([]Adjustment{{InstanceID: "a1", Quantity: 2}}))
	assert.Equal(t, "a1:2|a2:5", Encode([]Adjustment{
		{InstanceID: "a1", Quantity: 2},
		{InstanceID: "a2", Quantity: 5},
	}))
}

func TestDecode(t *testing.T) {
	adjustments, err := Decode("a1:2|a2:5")
	require.NoError(t, err)
	require.Len(t, adjustments, 2)
	assert.Equal(t, Adjustment{InstanceID: "a1", Quantity: 2}, adjustments[0])
	assert.Equal(t, Adjustment{InstanceID: "a2", Quantity: 5}, adjustments[1])
}

func TestDecodeEmpty(t *testing.T) {
	adjustments, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, adjustments)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode("a1")
	assert.Error(t, err)

	_, err = Decode(":2")
	assert.Error(t, err)

	_, err = Decode("a1:two")
	assert.Error(t, err)

	_, err = Decode("a1:2|bad")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	in := []Adjustment{
		{InstanceID: "price_1", Quantity: 1},
		{InstanceID: "price_2", Quantity: 10},
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
