package monitoring

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/stack"
	"github.com/stackpilot/stackpilot/state"
)

// PrometheusGlobal is the global section of a Prometheus configuration
type PrometheusGlobal struct {
	ScrapeInterval     string `yaml:"scrape_interval"`
	EvaluationInterval string `yaml:"evaluation_interval,omitempty"`
}

// StaticConfig is a static target group
type StaticConfig struct {
	Targets []string          `yaml:"targets"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// ScrapeConfig is one scrape job
type ScrapeConfig struct {
	JobName       string         `yaml:"job_name"`
	MetricsPath   string         `yaml:"metrics_path,omitempty"`
	StaticConfigs []StaticConfig `yaml:"static_configs"`
}

// PrometheusConfig is a renderable prometheus.yml
type PrometheusConfig struct {
	Global        PrometheusGlobal `yaml:"global"`
	ScrapeConfigs []ScrapeConfig   `yaml:"scrape_configs"`
}

// Render serializes the configuration to YAML
func (c *PrometheusConfig) Render() ([]byte, error) {
	return yaml.Marshal(c)
}

// RenderOptions tunes the generated scrape configuration
type RenderOptions struct {
	ScrapeInterval     string
	NodeExporterPort   int
	JenkinsPort        int
	CloudWatchExporter string
}

func (o *RenderOptions) withDefaults() RenderOptions {
	out := RenderOptions{
		ScrapeInterval:     "15s",
		NodeExporterPort:   9100,
		JenkinsPort:        8080,
		CloudWatchExporter: "localhost:9106",
	}
	if o == nil {
		return out
	}
	if o.ScrapeInterval != "" {
		out.ScrapeInterval = o.ScrapeInterval
	}
	if o.NodeExporterPort != 0 {
		out.NodeExporterPort = o.NodeExporterPort
	}
	if o.JenkinsPort != 0 {
		out.JenkinsPort = o.JenkinsPort
	}
	if o.CloudWatchExporter != "" {
		out.CloudWatchExporter = o.CloudWatchExporter
	}
	return out
}

// BuildPrometheusConfig derives a scrape configuration from the applied
// stack: one node exporter target per recorded instance, a Jenkins job for
// instances tagged Role=jenkins, and a CloudWatch exporter job.
func BuildPrometheusConfig(st *state.State, opts *RenderOptions) *PrometheusConfig {
	o := opts.withDefaults()

	cfg := &PrometheusConfig{
		Global: PrometheusGlobal{
			ScrapeInterval:     o.ScrapeInterval,
			EvaluationInterval: o.ScrapeInterval,
		},
	}

	var nodeTargets []StaticConfig
	var jenkinsTargets []StaticConfig

	for i := range st.Resources {
		res := &st.Resources[i]
		if res.Type != stack.TypeInstance || len(res.Instances) == 0 {
			continue
		}
		attrs := res.Instances[0].Attributes
		ip, _ := attrs["private_ip"].(string)
		if ip == "" {
			continue
		}
		labels := map[string]string{"instance_name": res.Name}
		nodeTargets = append(nodeTargets, StaticConfig{
			Targets: []string{fmt.Sprintf("%s:%d", ip, o.NodeExporterPort)},
			Labels:  labels,
		})
		if role, _ := tagValue(attrs, "Role"); role == "jenkins" {
			jenkinsTargets = append(jenkinsTargets, StaticConfig{
				Targets: []string{fmt.Sprintf("%s:%d", ip, o.JenkinsPort)},
				Labels:  labels,
			})
		}
	}

	sort.Slice(nodeTargets, func(i, j int) bool {
		return nodeTargets[i].Labels["instance_name"] < nodeTargets[j].Labels["instance_name"]
	})

	if len(nodeTargets) > 0 {
		cfg.ScrapeConfigs = append(cfg.ScrapeConfigs, ScrapeConfig{
			JobName:       "node",
			StaticConfigs: nodeTargets,
		})
	}
	if len(jenkinsTargets) > 0 {
		cfg.ScrapeConfigs = append(cfg.ScrapeConfigs, ScrapeConfig{
			JobName:       "jenkins",
			MetricsPath:   "/prometheus",
			StaticConfigs: jenkinsTargets,
		})
	}
	cfg.ScrapeConfigs = append(cfg.ScrapeConfigs, ScrapeConfig{
		JobName: "cloudwatch",
		StaticConfigs: []StaticConfig{
			{Targets: []string{o.CloudWatchExporter}},
		},
	})

	return cfg
}

func tagValue(attrs map[string]interface{}, key string) (string, bool) {
	tags, ok := attrs["tags"].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := tags[key].(string)
	return v, ok
}

// CloudWatchMetric is one metric pulled by the CloudWatch exporter
type CloudWatchMetric struct {
	Namespace  string   `yaml:"aws_namespace"`
	MetricName string   `yaml:"aws_metric_name"`
	Dimensions []string `yaml:"aws_dimensions"`
	Statistics []string `yaml:"aws_statistics"`
}

// CloudWatchExporterConfig is a renderable cloudwatch_exporter_config.yml
type CloudWatchExporterConfig struct {
	Region  string             `yaml:"region"`
	Metrics []CloudWatchMetric `yaml:"metrics"`
}

// Render serializes the configuration to YAML
func (c *CloudWatchExporterConfig) Render() ([]byte, error) {
	return yaml.Marshal(c)
}

// BuildCloudWatchConfig returns the EC2 metric set the dashboards expect
func BuildCloudWatchConfig(region string) *CloudWatchExporterConfig {
	dims := []string{"InstanceId"}
	return &CloudWatchExporterConfig{
		Region: region,
		Metrics: []CloudWatchMetric{
			{Namespace: "AWS/EC2", MetricName: "CPUUtilization", Dimensions: dims, Statistics: []string{"Average"}},
			{Namespace: "AWS/EC2", MetricName: "NetworkIn", Dimensions: dims, Statistics: []string{"Sum"}},
			{Namespace: "AWS/EC2", MetricName: "NetworkOut", Dimensions: dims, Statistics: []string{"Sum"}},
			{Namespace: "AWS/EC2", MetricName: "StatusCheckFailed", Dimensions: dims, Statistics: []string{"Sum"}},
		},
	}
}
