package domain

import (
	"testing"

	"github.com/smallbiznis/partnerbilling/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLevelForDefaults(t *testing.T) {
	policy := PolicyFromThresholds(config.DefaultDunningThresholds())

	cases := []struct {
		days  int
		level int
	}{
		{0, 0},
		{2, 0},
		{3, 1},
		{7, 1},
		{8, 2},
		{15, 2},
		{16, 3},
		{29, 3},
		{30, 4},
		{365, 4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, policy.LevelFor(tc.days), "days=%d", tc.days)
	}
}

func TestLevelForIsMonotonic(t *testing.T) {
	policy := Policy{GraceDays: 5, ReadOnlyAfterDays: 10, SuspendAfterDays: 20, BlockAfterDays: 40}
	prev := 0
	for days := 0; days <= 60; days++ {
		level := policy.LevelFor(days)
		assert.GreaterOrEqual(t, level, prev, "days=%d", days)
		prev = level
	}
	assert.Equal(t, 1, policy.LevelFor(5))
	assert.Equal(t, 3, policy.LevelFor(39))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, PolicyFromThresholds(config.DefaultDunningThresholds()).Validate())

	err := Policy{GraceDays: 3, ReadOnlyAfterDays: 3, SuspendAfterDays: 16, BlockAfterDays: 30}.Validate()
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	err = Policy{}.Validate()
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestNewAccessStateFlags(t *testing.T) {
	assert.False(t, NewAccessState(1, 1).ReadOnly)
	assert.True(t, NewAccessState(1, 2).ReadOnly)
	assert.False(t, NewAccessState(1, 3).ReadOnly)
	assert.False(t, NewAccessState(1, 3).Blocked)
	assert.True(t, NewAccessState(1, 4).Blocked)
	assert.Empty(t, NewAccessState(1, 0).Message)
	assert.NotEmpty(t, NewAccessState(1, 4).Message)
}
