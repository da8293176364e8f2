package configuration_test

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/configuration"
	"github.com/stackpilot/stackpilot/errors"
)

func TestInitialize_TableDriven(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		expectErr  bool
		assertions func(*testing.T, *configuration.Config)
	}{
		{
			name: "Valid configuration from environment variables",
			env: map[string]string{
				"STACK_DIR":              "./stacks",
				"STATE_PATH":             "test.tfstate",
				"CHECK_INTERVAL_MINUTES": "10",
				"AWS_REGION":             "eu-west-1",
				"AWS_ACCESS_KEY_ID":      "AKIAEXAMPLE",
				"AWS_SECRET_ACCESS_KEY":  "secret",
				"LOG_LEVEL":              "debug",
			},
			expectErr: false,
			assertions: func(t *testing.T, cfg *configuration.Config) {
				assert.Equal(t, "./stacks", cfg.StackDir)
				assert.Equal(t, "test.tfstate", cfg.StatePath)
				assert.Equal(t, 10, cfg.CheckInterval)
				assert.Equal(t, "eu-west-1", cfg.AWSRegion)
				assert.Equal(t, "AKIAEXAMPLE", cfg.AccessKeyID)
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name:      "Defaults apply when nothing is set",
			env:       map[string]string{},
			expectErr: false,
			assertions: func(t *testing.T, cfg *configuration.Config) {
				assert.Equal(t, ".", cfg.StackDir)
				assert.Equal(t, "stackpilot.tfstate", cfg.StatePath)
				assert.Equal(t, 5, cfg.CheckInterval)
				assert.Equal(t, "us-east-1", cfg.AWSRegion)
				assert.Equal(t, 3, cfg.MaxRetries)
				assert.Equal(t, 5, cfg.RetryDelay)
				assert.Equal(t, 300, cfg.ApplyTimeout)
				assert.Equal(t, "stackpilot", cfg.ManagedByTag)
			},
		},
		{
			name: "Invalid check interval",
			env: map[string]string{
				"CHECK_INTERVAL_MINUTES": "0",
			},
			expectErr: true,
		},
		{
			name: "Negative max retries",
			env: map[string]string{
				"MAX_RETRIES": "-1",
			},
			expectErr: true,
		},
		{
			name: "Invalid retry delay",
			env: map[string]string{
				"RETRY_DELAY_SECONDS": "0",
			},
			expectErr: true,
		},
		{
			name: "Invalid apply timeout",
			env: map[string]string{
				"APPLY_TIMEOUT_SECONDS": "-5",
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Chdir(t.TempDir()) // keep any workspace .env out of the test
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := configuration.Initialize()
			if tt.expectErr {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			assert.NoError(t, err)
			if tt.assertions != nil {
				tt.assertions(t, cfg)
			}
		})
	}
}

func TestInitialize_CorruptEnvFile(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("this is not an env file"), 0o600))

	cfg, err := configuration.Initialize()
	assert.Nil(t, cfg)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigParse))
}

func TestInitialize_ReadsEnvFile(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("STACK_DIR=./infra\nCHECK_INTERVAL_MINUTES=15\n"), 0o600))

	cfg, err := configuration.Initialize()
	require.NoError(t, err)
	assert.Equal(t, "./infra", cfg.StackDir)
	assert.Equal(t, 15, cfg.CheckInterval)
}
