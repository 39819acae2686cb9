package observability

import (
	"testing"

	"github.com/smallbiznis/partnerbilling/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNamesServiceAfterRole(t *testing.T) {
	cfg := config.Config{Mode: config.ModeScheduler, Environment: "staging"}
	cfg.Scheduler.SnowflakeNode = 7

	out := LoadConfig(cfg)
	assert.Equal(t, "partnerbilling-scheduler", out.ServiceName)
	assert.Equal(t, config.ModeScheduler, out.Role)
	assert.Equal(t, "7", out.InstanceID)
	assert.False(t, out.Debug())

	out = LoadConfig(config.Config{AppName: "billing-eu", Mode: config.ModeAPI})
	assert.Equal(t, "billing-eu", out.ServiceName)

	out = LoadConfig(config.Config{})
	assert.Equal(t, "partnerbilling", out.ServiceName)
	assert.Equal(t, config.ModeAll, out.Role)
}

func TestDebugFollowsLevelAndEnvironment(t *testing.T) {
	assert.True(t, Config{LogLevel: "DEBUG"}.Debug())
	assert.True(t, Config{Environment: "local"}.Debug())
	assert.False(t, Config{LogLevel: "info", Environment: "production"}.Debug())
}
