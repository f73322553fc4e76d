package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronradar/internal/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, "https://cronradar.com", c.CronRadar.BaseURL)
	assert.Equal(t, "GET", c.CronRadar.Method)
	assert.Equal(t, 60, c.CronRadar.GracePeriod)
	assert.Equal(t, time.Minute, c.GracePeriod())
	assert.False(t, c.CronRadar.MonitorAll)
	assert.Equal(t, 5*time.Second, c.CronRadar.Timeout)
	assert.Equal(t, []string{"artisan"}, c.CronRadar.Entrypoints)
	assert.Equal(t, 4, c.Dispatch.Workers)
	assert.Equal(t, "schedule.yaml", c.Schedule.File)
	assert.Empty(t, c.CronRadar.APIKey)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CRONRADAR_API_KEY", "ck_app_1_2")
	t.Setenv("CRONRADAR_BASE_URL", "https://radar.internal/")
	t.Setenv("CRONRADAR_METHOD", "post")
	t.Setenv("CRONRADAR_GRACE_PERIOD", "120")
	t.Setenv("CRONRADAR_MONITOR_ALL", "true")
	t.Setenv("CRONRADAR_ENTRYPOINTS", "artisan, console ,")
	t.Setenv("CRONRADAR_TIMEOUT", "2s")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ck_app_1_2", c.CronRadar.APIKey)
	assert.Equal(t, "https://radar.internal", c.CronRadar.BaseURL)
	assert.Equal(t, "POST", c.CronRadar.Method)
	assert.Equal(t, 2*time.Minute, c.GracePeriod())
	assert.True(t, c.CronRadar.MonitorAll)
	assert.Equal(t, []string{"artisan", "console"}, c.CronRadar.Entrypoints)
	assert.Equal(t, 2*time.Second, c.CronRadar.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"method", "CRONRADAR_METHOD", "PUT"},
		{"negative grace", "CRONRADAR_GRACE_PERIOD", "-1"},
		{"grace not a number", "CRONRADAR_GRACE_PERIOD", "soon"},
		{"monitor all not bool", "CRONRADAR_MONITOR_ALL", "sometimes"},
		{"base url", "CRONRADAR_BASE_URL", "not a url"},
		{"timeout", "CRONRADAR_TIMEOUT", "0s"},
		{"env", "ENV", "staging"},
		{"workers", "CRONRADAR_WORKERS", "0"},
		{"log level", "LOG_CONSOLE_LEVEL", "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "error should be classified as validation: %v", err)
		})
	}
}
