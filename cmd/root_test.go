package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Chdir(t.TempDir())
	varFlags = nil

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVarOverrides(t *testing.T) {
	tests := []struct {
		name      string
		flags     []string
		expected  map[string]string
		expectErr bool
	}{
		{
			name:     "No flags",
			flags:    nil,
			expected: nil,
		},
		{
			name:  "Single override",
			flags: []string{"instance_type=t3.large"},
			expected: map[string]string{
				"instance_type": "t3.large",
			},
		},
		{
			name:  "Value containing equals",
			flags: []string{"policy=a=b"},
			expected: map[string]string{
				"policy": "a=b",
			},
		},
		{
			name:      "Missing separator",
			flags:     []string{"instance_type"},
			expectErr: true,
		},
		{
			name:      "Empty key",
			flags:     []string{"=value"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			varFlags = tt.flags
			got, err := varOverrides()
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRenderUserDataCommand(t *testing.T) {
	out, err := execute(t, "render", "user-data", "--profile", "jenkins")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "#!/bin/bash"))
	assert.Contains(t, out, "jenkins")
}

func TestRenderUserDataCommand_CloudConfig(t *testing.T) {
	out, err := execute(t, "render", "user-data", "--profile", "monitoring", "--format", "cloud-config")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "#cloud-config"))
}

func TestRenderUserDataCommand_UnknownProfile(t *testing.T) {
	_, err := execute(t, "render", "user-data", "--profile", "database")
	assert.Error(t, err)
}

func TestRenderCloudWatchCommand(t *testing.T) {
	out, err := execute(t, "render", "cloudwatch")
	require.NoError(t, err)
	assert.Contains(t, out, "region: us-east-1")
	assert.Contains(t, out, "CPUUtilization")
}

func TestPlanCommand_EmptyStackDir(t *testing.T) {
	out, err := execute(t, "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "0 to create")
}
