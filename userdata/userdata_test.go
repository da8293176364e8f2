package userdata_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/errors"
	"github.com/stackpilot/stackpilot/userdata"
)

func TestLoad_KnownProfiles(t *testing.T) {
	for _, profile := range userdata.Profiles() {
		t.Run(profile, func(t *testing.T) {
			spec, err := userdata.Load(profile)
			require.NoError(t, err)
			assert.NotEmpty(t, spec.Commands)
		})
	}
}

func TestLoad_UnknownProfile(t *testing.T) {
	spec, err := userdata.Load("database")
	require.Error(t, err)
	assert.Nil(t, spec)
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}

func TestRenderShell_Jenkins(t *testing.T) {
	spec, err := userdata.Load(userdata.ProfileJenkins)
	require.NoError(t, err)

	script := spec.RenderShell()
	assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	assert.Contains(t, script, "yum install -y java-17-amazon-corretto git")
	assert.Contains(t, script, "yum install -y jenkins")
	assert.Contains(t, script, "systemctl enable --now jenkins")
}

func TestRenderShell_WritesFilesBeforeCommands(t *testing.T) {
	spec, err := userdata.Load(userdata.ProfileMonitoring)
	require.NoError(t, err)

	script := spec.RenderShell()
	fileIdx := strings.Index(script, "/etc/prometheus/prometheus.yml")
	cmdIdx := strings.Index(script, "docker run -d --name prometheus")
	require.Greater(t, fileIdx, 0)
	require.Greater(t, cmdIdx, 0)
	assert.Less(t, fileIdx, cmdIdx)
	assert.Contains(t, script, "chmod 0644 /etc/prometheus/prometheus.yml")
}

func TestRenderCloudConfig(t *testing.T) {
	spec, err := userdata.Load(userdata.ProfileLogging)
	require.NoError(t, err)

	rendered, err := spec.RenderCloudConfig()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rendered, "#cloud-config\n"))

	var doc struct {
		PackageUpdate bool     `yaml:"package_update"`
		Packages      []string `yaml:"packages"`
		RunCmd        []string `yaml:"runcmd"`
		WriteFiles    []struct {
			Path string `yaml:"path"`
		} `yaml:"write_files"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &doc))

	assert.True(t, doc.PackageUpdate)
	assert.Contains(t, doc.Packages, "docker")
	require.NotEmpty(t, doc.WriteFiles)
	assert.Equal(t, "/etc/sysctl.d/99-elasticsearch.conf", doc.WriteFiles[0].Path)
	assert.Contains(t, doc.RunCmd[len(doc.RunCmd)-1], "systemctl enable --now docker")
}

func TestEncode(t *testing.T) {
	encoded := userdata.Encode("#!/bin/bash\necho hi\n")
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\necho hi\n", string(decoded))
}
