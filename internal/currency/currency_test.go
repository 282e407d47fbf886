package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount float64
		code   string
		want   int64
	}{
		{19.99, "USD", 1999},
		{19.99, "usd", 1999},
		{0.1 + 0.2, "USD", 30},
		{10.005, "EUR", 1001},
		{1500, "JPY", 1500},
		{12.5, "KES", 1250},
	}
	for _, tt := range tests {
		got, err := ToMinorUnits(tt.amount, tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v %s", tt.amount, tt.code)
	}
}

func TestFromMinorUnits(t *testing.T) {
	got, err := FromMinorUnits(1999, "usd")
	require.NoError(t, err)
	assert.Equal(t, 19.99, got)

	got, err = FromMinorUnits(1500, "JPY")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, got)
}

func TestNormalizeRejectsUnknown(t *testing.T) {
	_, err := Normalize("XYZ")
	assert.Error(t, err)
	_, err = Normalize("")
	assert.Error(t, err)

	c, err := Normalize(" kes ")
	require.NoError(t, err)
	assert.Equal(t, "KES", c)
}

func TestToBaseAndRegion(t *testing.T) {
	got, err := ToBase(1295, "KES")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	assert.Equal(t, "KE", Region("kes"))
	assert.Equal(t, "", Region("XYZ"))
}

func TestSumAndRoundWhole(t *testing.T) {
	assert.Equal(t, 0.3, Sum(0.1, 0.2))
	assert.Equal(t, float64(1999), RoundWhole(1999))
	assert.Equal(t, float64(2000), RoundWhole(1999.5))
	assert.Equal(t, float64(1999), RoundWhole(1999.49))
	assert.Equal(t, float64(0), RoundWhole(0.4))
}
