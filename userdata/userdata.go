// Package userdata renders instance boot scripts for the host profiles the
// engine provisions: a Jenkins controller, a Prometheus/Grafana monitoring
// host and an Elasticsearch/Kibana logging host.
package userdata

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/errors"
)

// Profile names accepted by Load
const (
	ProfileJenkins    = "jenkins"
	ProfileMonitoring = "monitoring"
	ProfileLogging    = "logging"
)

// File is one file written during boot
type File struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Permissions string `yaml:"permissions,omitempty"`
	Owner       string `yaml:"owner,omitempty"`
}

// Spec describes everything a host needs at first boot
type Spec struct {
	Packages       []string
	Commands       []string
	EnableServices []string
	WriteFiles     []File
}

// Load returns the boot spec for a named profile
func Load(profile string) (*Spec, error) {
	switch profile {
	case ProfileJenkins:
		return jenkinsSpec(), nil
	case ProfileMonitoring:
		return monitoringSpec(), nil
	case ProfileLogging:
		return loggingSpec(), nil
	}
	return nil, errors.New(errors.ErrConfigInvalid, "unknown user-data profile",
		map[string]interface{}{
			"profile": profile,
			"known":   Profiles(),
		}, nil)
}

// Profiles lists the known profile names, sorted
func Profiles() []string {
	out := []string{ProfileJenkins, ProfileMonitoring, ProfileLogging}
	sort.Strings(out)
	return out
}

func jenkinsSpec() *Spec {
	return &Spec{
		Packages: []string{"java-17-amazon-corretto", "git"},
		Commands: []string{
			"yum update -y",
			"wget -O /etc/yum.repos.d/jenkins.repo https://pkg.jenkins.io/redhat-stable/jenkins.repo",
			"rpm --import https://pkg.jenkins.io/redhat-stable/jenkins.io-2023.key",
			"yum install -y jenkins",
		},
		EnableServices: []string{"jenkins"},
	}
}

func monitoringSpec() *Spec {
	return &Spec{
		Packages: []string{"docker"},
		Commands: []string{
			"yum update -y",
			"usermod -aG docker ec2-user",
			"docker run -d --name prometheus --restart unless-stopped -p 9090:9090 -v /etc/prometheus/prometheus.yml:/etc/prometheus/prometheus.yml prom/prometheus",
			"docker run -d --name grafana --restart unless-stopped -p 3000:3000 grafana/grafana",
			"docker run -d --name node-exporter --restart unless-stopped -p 9100:9100 prom/node-exporter",
		},
		EnableServices: []string{"docker"},
		WriteFiles: []File{
			{
				Path:        "/etc/prometheus/prometheus.yml",
				Content:     "global:\n  scrape_interval: 15s\nscrape_configs: []\n",
				Permissions: "0644",
				Owner:       "root:root",
			},
		},
	}
}

func loggingSpec() *Spec {
	return &Spec{
		Packages: []string{"docker"},
		Commands: []string{
			"yum update -y",
			"sysctl -w vm.max_map_count=262144",
			"docker network create elastic || true",
			"docker run -d --name elasticsearch --restart unless-stopped --network elastic -p 9200:9200 -e discovery.type=single-node -e xpack.security.enabled=false docker.elastic.co/elasticsearch/elasticsearch:8.13.0",
			"docker run -d --name kibana --restart unless-stopped --network elastic -p 5601:5601 -e ELASTICSEARCH_HOSTS=http://elasticsearch:9200 docker.elastic.co/kibana/kibana:8.13.0",
		},
		EnableServices: []string{"docker"},
		WriteFiles: []File{
			{
				Path:        "/etc/sysctl.d/99-elasticsearch.conf",
				Content:     "vm.max_map_count=262144\n",
				Permissions: "0644",
			},
		},
	}
}

// RenderShell renders the spec as a plain bootstrap shell script
func (s *Spec) RenderShell() string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -euo pipefail\n\n")

	for _, f := range s.WriteFiles {
		fmt.Fprintf(&b, "mkdir -p %s\n", dirOf(f.Path))
		fmt.Fprintf(&b, "cat > %s <<'EOF'\n%sEOF\n", f.Path, ensureTrailingNewline(f.Content))
		if f.Permissions != "" {
			fmt.Fprintf(&b, "chmod %s %s\n", f.Permissions, f.Path)
		}
		if f.Owner != "" {
			fmt.Fprintf(&b, "chown %s %s\n", f.Owner, f.Path)
		}
	}
	if len(s.Packages) > 0 {
		fmt.Fprintf(&b, "yum install -y %s\n", strings.Join(s.Packages, " "))
	}
	for _, cmd := range s.Commands {
		b.WriteString(cmd)
		b.WriteByte('\n')
	}
	for _, svc := range s.EnableServices {
		fmt.Fprintf(&b, "systemctl enable --now %s\n", svc)
	}
	return b.String()
}

// cloudConfig mirrors the subset of cloud-init's schema the profiles use
type cloudConfig struct {
	PackageUpdate bool     `yaml:"package_update"`
	Packages      []string `yaml:"packages,omitempty"`
	WriteFiles    []File   `yaml:"write_files,omitempty"`
	RunCmd        []string `yaml:"runcmd,omitempty"`
}

// RenderCloudConfig renders the spec as a cloud-init cloud-config document
func (s *Spec) RenderCloudConfig() (string, error) {
	cfg := cloudConfig{
		PackageUpdate: true,
		Packages:      s.Packages,
		WriteFiles:    s.WriteFiles,
		RunCmd:        append([]string(nil), s.Commands...),
	}
	for _, svc := range s.EnableServices {
		cfg.RunCmd = append(cfg.RunCmd, fmt.Sprintf("systemctl enable --now %s", svc))
	}

	raw, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", errors.New(errors.ErrConfigInvalid, "failed to render cloud-config",
			map[string]interface{}{}, err)
	}
	return "#cloud-config\n" + string(raw), nil
}

// Encode base64-encodes rendered user data the way EC2 expects it
func Encode(rendered string) string {
	return base64.StdEncoding.EncodeToString([]byte(rendered))
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
