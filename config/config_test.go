package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []time.Duration{
		5 * time.Second, 5 * time.Second, 5 * time.Second,
		15 * time.Second, 30 * time.Second, 60 * time.Second,
	}, cfg.PollSchedule)
	assert.Equal(t, 0.10, cfg.CommissionRate)
	assert.True(t, cfg.EnableMetrics)
}

func TestGetEnvAsSchedule(t *testing.T) {
	t.Setenv("TEST_SCHEDULE", "1s, 2s,500ms")
	schedule := getEnvAsSchedule("TEST_SCHEDULE", "5s")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 500 * time.Millisecond}, schedule)
}

func TestGetEnvAsSchedule_InvalidEntryFallsBack(t *testing.T) {
	t.Setenv("TEST_SCHEDULE", "1s,garbage,3s")
	schedule := getEnvAsSchedule("TEST_SCHEDULE", "5s,10s")
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, schedule)
}

func TestGetEnvAsSchedule_NonPositiveRejected(t *testing.T) {
	t.Setenv("TEST_SCHEDULE", "0s,5s")
	schedule := getEnvAsSchedule("TEST_SCHEDULE", "7s")
	require.Len(t, schedule, 1)
	assert.Equal(t, 7*time.Second, schedule[0])
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_BOOL", "false")
	t.Setenv("TEST_DUR", "90s")

	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 0.25, getEnvAsFloat("TEST_FLOAT", 1))
	assert.Equal(t, false, getEnvAsBool("TEST_BOOL", true))
	assert.Equal(t, 90*time.Second, getEnvAsDuration("TEST_DUR", "1s"))

	assert.Equal(t, 7, getEnvAsInt("TEST_MISSING", 7))
	assert.Equal(t, "fallback", getEnv("TEST_MISSING", "fallback"))
}
