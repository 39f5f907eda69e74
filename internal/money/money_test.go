package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimalString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Money
		wantErr bool
	}{
		{name: "whole dollars", input: "55.00", want: 5500},
		{name: "single cent", input: "0.01", want: 1},
		{name: "no decimals", input: "12", want: 1200},
		{name: "rounds half up", input: "1.005", want: 101},
		{name: "negative allowed for deltas", input: "-3.50", want: -350},
		{name: "garbage", input: "twelve", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "above cap", input: "2000000.00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromDecimalString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromFloat(t *testing.T) {
	got, err := FromFloat(123.45)
	require.NoError(t, err)
	assert.Equal(t, Money(12345), got)

	// Classic float trap: 0.1+0.2 must still land on exactly 30 cents.
	got, err = FromFloat(0.1 + 0.2)
	require.NoError(t, err)
	assert.Equal(t, Money(30), got)

	_, err = FromFloat(2_000_000.0)
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "55.00", Money(5500).String())
	assert.Equal(t, "0.01", Money(1).String())
	assert.Equal(t, "-3.50", Money(-350).String())
	assert.Equal(t, "0.00", Zero.String())
}

func TestSplitFee(t *testing.T) {
	fee, net, err := SplitFee(5500, 1000) // $55.00 at 10%
	require.NoError(t, err)
	assert.Equal(t, Money(550), fee)
	assert.Equal(t, Money(4950), net)

	// Fee truncates toward zero, never rounds up.
	fee, net, err = SplitFee(999, 1000) // $9.99 at 10%
	require.NoError(t, err)
	assert.Equal(t, Money(99), fee)
	assert.Equal(t, Money(900), net)

	fee, net, err = SplitFee(777, 0)
	require.NoError(t, err)
	assert.Equal(t, Zero, fee)
	assert.Equal(t, Money(777), net)

	_, _, err = SplitFee(-1, 1000)
	assert.Error(t, err)
	_, _, err = SplitFee(100, 10_001)
	assert.Error(t, err)
}

func TestSplitFeeReconstructsExactly(t *testing.T) {
	// Whatever the amount and rate, fee+net must rebuild the amount with
	// no cent lost or invented.
	for amount := Money(1); amount <= 10_000; amount++ {
		for _, bps := range []int64{0, 1, 250, 1000, 2500, 9999, 10_000} {
			fee, net, err := SplitFee(amount, bps)
			require.NoError(t, err)
			require.Equal(t, amount, fee+net, "amount=%d bps=%d", amount, bps)
			require.False(t, fee.IsNegative())
			require.False(t, net.IsNegative())
		}
	}
}
