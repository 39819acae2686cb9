package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProrate(t *testing.T) {
	cases := []struct {
		name          string
		from, to      int64
		remaining     int
		cycle         int
		credit        string
		charge        string
		net           string
		wantRemaining int
	}{
		{name: "upgrade mid cycle", from: 100, to: 200, remaining: 15, cycle: 30, credit: "50", charge: "100", net: "50", wantRemaining: 15},
		{name: "first subscription", from: 0, to: 150, remaining: 10, cycle: 30, credit: "0", charge: "50", net: "50", wantRemaining: 10},
		{name: "downgrade", from: 200, to: 100, remaining: 10, cycle: 30, credit: "66.67", charge: "33.33", net: "-33.34", wantRemaining: 10},
		{name: "no days left", from: 100, to: 180, remaining: 0, cycle: 30, credit: "0", charge: "0", net: "80", wantRemaining: 0},
		{name: "remaining clamped", from: 100, to: 200, remaining: 45, cycle: 30, credit: "100", charge: "200", net: "100", wantRemaining: 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Prorate(decimal.NewFromInt(tc.from), decimal.NewFromInt(tc.to), tc.remaining, tc.cycle)
			assert.Equal(t, tc.wantRemaining, got.DaysRemaining)
			assert.True(t, decimal.RequireFromString(tc.credit).Equal(got.Credit), "credit %s", got.Credit)
			assert.True(t, decimal.RequireFromString(tc.charge).Equal(got.Charge), "charge %s", got.Charge)
			assert.True(t, decimal.RequireFromString(tc.net).Equal(got.Net), "net %s", got.Net)
		})
	}
}

func TestProrateRoundsHalfUp(t *testing.T) {
	got := Prorate(decimal.Zero, decimal.RequireFromString("0.05"), 1, 2)
	assert.Equal(t, "0.03", got.Charge.StringFixed(2))
}
