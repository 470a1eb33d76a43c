package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "LeafScan-Go", settings.Main.Name)
	assert.Equal(t, 8, settings.Sync.MaxAttempts)
	assert.Equal(t, 30*time.Second, settings.Sync.BackoffBase)
	assert.Equal(t, time.Hour, settings.Sync.BackoffMax)
	assert.Equal(t, int64(5), settings.Server.MaxUploadMB)
	assert.Equal(t, "5001", settings.Server.Port)
	assert.True(t, settings.Model.AutoUpdate)
}

func TestSettingReturnsLoadedInstance(t *testing.T) {
	settings, err := Load()
	require.NoError(t, err)

	assert.Same(t, settings, Setting())
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		s := &Settings{}
		s.Sync.MaxAttempts = 8
		s.Sync.BackoffBase = 30 * time.Second
		s.Sync.BackoffMax = time.Hour
		s.Server.MaxUploadMB = 5
		return s
	}

	require.NoError(t, ValidateSettings(valid()))

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero max attempts", func(s *Settings) { s.Sync.MaxAttempts = 0 }},
		{"zero backoff base", func(s *Settings) { s.Sync.BackoffBase = 0 }},
		{"backoff max below base", func(s *Settings) { s.Sync.BackoffMax = time.Second }},
		{"zero upload limit", func(s *Settings) { s.Server.MaxUploadMB = 0 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			assert.Error(t, ValidateSettings(s))
		})
	}
}
