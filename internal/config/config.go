// Package config loads and validates the load generator configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/eventsink/tools/loadgen/internal/loadctrl"
	"github.com/example/eventsink/tools/loadgen/internal/logger"
	"github.com/example/eventsink/tools/loadgen/internal/selector"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("config: invalid configuration")
	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)

// Config is the complete load test configuration.
type Config struct {
	// Name identifies the run in reports.
	Name string `yaml:"name" json:"name"`

	// Description is free text carried into reports.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Target is the ingestion endpoint under test.
	Target TargetConfig `yaml:"target" json:"target"`

	// Duration is how long the run lasts. Default: 5m
	Duration time.Duration `yaml:"duration" json:"duration"`

	// Users controls how many simulated users run and how fast they start.
	Users UsersConfig `yaml:"users" json:"users"`

	// Classes sets the user class mix. Default: every class with weight 1.
	Classes []ClassConfig `yaml:"classes,omitempty" json:"classes,omitempty"`

	// Session tunes the simulated playback session.
	Session SessionConfig `yaml:"session" json:"session"`

	// RateLimiter optionally caps requests per second across all users.
	RateLimiter loadctrl.RateLimiterConfig `yaml:"rateLimiter,omitempty" json:"rateLimiter,omitempty"`

	// Thresholds turn the run result into an exit code.
	Thresholds ThresholdsConfig `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`

	// Output configures reporting.
	Output OutputConfig `yaml:"output" json:"output"`

	// Log configures structured logging.
	Log logger.Config `yaml:"log" json:"log"`
}

// TargetConfig describes the endpoint under test.
type TargetConfig struct {
	// BaseURL is the ingestion endpoint, e.g. http://localhost:3000.
	BaseURL string `yaml:"baseURL" json:"baseURL"`

	// Timeout is the per-request timeout. Default: 30s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// TLSSkipVerify disables certificate verification.
	TLSSkipVerify bool `yaml:"tlsSkipVerify" json:"tlsSkipVerify"`

	// MaxConnections bounds idle keep-alive connections to the target. Default: 100
	MaxConnections int `yaml:"maxConnections,omitempty" json:"maxConnections,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// UsersConfig controls the simulated population.
type UsersConfig struct {
	// Count is the number of concurrent users. Default: 1
	Count int `yaml:"count" json:"count"`

	// SpawnRate is users started per second. Default: 1
	SpawnRate float64 `yaml:"spawnRate" json:"spawnRate"`
}

// ClassConfig weights one user class.
type ClassConfig struct {
	// Name is one of baseline, high_volume, invalid_event.
	Name string `yaml:"name" json:"name"`

	// Weight is the relative share of spawned users. Default: 1
	Weight int `yaml:"weight" json:"weight"`

	// ThinkTime overrides the class's default pause between behaviors.
	ThinkTime selector.ThinkTimeConfig `yaml:"thinkTime,omitempty" json:"thinkTime,omitempty"`

	// Disabled removes the class from the mix.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// SessionConfig tunes the simulated playback session. Nil probabilities
// take their defaults so that an explicit 0 can disable a feature.
type SessionConfig struct {
	// ContentDuration is the reported content length in seconds. Default: 300
	ContentDuration int `yaml:"contentDuration" json:"contentDuration"`

	// StopProbability gates each stop attempt. Default: 0.1
	StopProbability *float64 `yaml:"stopProbability" json:"stopProbability"`

	// ShardProbability is the chance an event carries a shardId. Default: 0.3
	ShardProbability *float64 `yaml:"shardProbability" json:"shardProbability"`

	// ShardCount is the number of distinct shard ids. Default: 5
	ShardCount int `yaml:"shardCount" json:"shardCount"`

	// HeartbeatMin and HeartbeatMax bound the playhead advance per heartbeat.
	// HeartbeatMin must be at least 1 so every heartbeat moves the playhead.
	// Default: 1 and 5
	HeartbeatMin int `yaml:"heartbeatMin" json:"heartbeatMin"`
	HeartbeatMax int `yaml:"heartbeatMax" json:"heartbeatMax"`
}

// ThresholdsConfig sets pass/fail criteria.
type ThresholdsConfig struct {
	// MaxFailureRatio fails the run when failures/total exceeds it. 0 disables.
	MaxFailureRatio float64 `yaml:"maxFailureRatio" json:"maxFailureRatio"`
}

// OutputConfig configures reporting.
type OutputConfig struct {
	// ReportInterval is how often progress is logged. Default: 10s
	ReportInterval time.Duration `yaml:"reportInterval" json:"reportInterval"`

	// Quiet disables the live console view.
	Quiet bool `yaml:"quiet" json:"quiet"`

	// Verbose adds the per-behavior table to the live view.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// JSON writes the final report to a file.
	JSON JSONOutputConfig `yaml:"json" json:"json"`

	// Prometheus exposes live metrics over HTTP.
	Prometheus PrometheusOutputConfig `yaml:"prometheus" json:"prometheus"`
}

// JSONOutputConfig configures the JSON report file.
type JSONOutputConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// File supports {{.Timestamp}}, {{.Date}}, {{.Time}} and {{.RunID}}.
	// Default: loadgen-report-{{.Timestamp}}.json
	File string `yaml:"file" json:"file"`
}

// PrometheusOutputConfig configures the metrics endpoint.
type PrometheusOutputConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Port default: 9090
	Port int `yaml:"port" json:"port"`

	// Path default: /metrics
	Path string `yaml:"path" json:"path"`
}

// Default values.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultDuration         = 5 * time.Minute
	DefaultUsers            = 1
	DefaultSpawnRate        = 1.0
	DefaultMaxConnections   = 100
	DefaultContentDuration  = 300
	DefaultStopProbability  = 0.1
	DefaultShardProbability = 0.3
	DefaultShardCount       = 5
	DefaultHeartbeatMin     = 1
	DefaultHeartbeatMax     = 5
	DefaultReportInterval   = 10 * time.Second
	DefaultReportFile       = "loadgen-report-{{.Timestamp}}.json"
	DefaultPrometheusPort   = 9090
	DefaultPrometheusPath   = "/metrics"
)

// Default returns a configuration with every default applied and no target.
func Default() *Config {
	cfg := &Config{Name: "eventsink load test"}
	cfg.ApplyDefaults()
	return cfg
}

// LoadFromFile reads, defaults and validates a configuration file.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile reads and defaults a configuration file without validating it,
// so that command-line overrides can be applied first.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// LoadFromBytes parses, defaults and validates YAML.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing YAML: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("%w: target.baseURL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Target.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: target.baseURL %q is not an absolute URL", ErrInvalidConfig, c.Target.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: target.baseURL scheme must be http or https", ErrInvalidConfig)
	}
	if c.Target.Timeout < 0 {
		return fmt.Errorf("%w: target.timeout must be non-negative", ErrInvalidConfig)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	}
	if c.Users.Count <= 0 {
		return fmt.Errorf("%w: users.count must be positive", ErrInvalidConfig)
	}
	if c.Users.SpawnRate <= 0 {
		return fmt.Errorf("%w: users.spawnRate must be positive", ErrInvalidConfig)
	}

	if err := c.validateClasses(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}

	if err := c.RateLimiter.Validate(); err != nil {
		return fmt.Errorf("%w: rateLimiter: %v", ErrInvalidConfig, err)
	}
	if r := c.Thresholds.MaxFailureRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: thresholds.maxFailureRatio must be within [0, 1]", ErrInvalidConfig)
	}
	if p := c.Output.Prometheus.Port; p < 0 || p > 65535 {
		return fmt.Errorf("%w: output.prometheus.port %d out of range", ErrInvalidConfig, p)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: log: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validateClasses() error {
	names := make(map[string]bool)
	active := 0
	for i, cl := range c.Classes {
		if cl.Name == "" {
			return fmt.Errorf("%w: classes[%d].name is required", ErrInvalidConfig, i)
		}
		if names[cl.Name] {
			return fmt.Errorf("%w: duplicate class name: %s", ErrInvalidConfig, cl.Name)
		}
		names[cl.Name] = true

		if cl.Weight < 0 {
			return fmt.Errorf("%w: classes[%d].weight must be non-negative", ErrInvalidConfig, i)
		}
		if err := cl.ThinkTime.Validate(); err != nil {
			return fmt.Errorf("%w: classes[%d].thinkTime: %v", ErrInvalidConfig, i, err)
		}
		if !cl.Disabled && cl.Weight > 0 {
			active++
		}
	}
	if len(c.Classes) > 0 && active == 0 {
		return fmt.Errorf("%w: at least one class must be enabled", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) validateSession() error {
	s := c.Session
	if s.ContentDuration <= 0 {
		return fmt.Errorf("%w: session.contentDuration must be positive", ErrInvalidConfig)
	}
	for name, p := range map[string]*float64{
		"stopProbability":  s.StopProbability,
		"shardProbability": s.ShardProbability,
	} {
		if p != nil && (*p < 0 || *p > 1) {
			return fmt.Errorf("%w: session.%s must be within [0, 1]", ErrInvalidConfig, name)
		}
	}
	if s.ShardCount <= 0 {
		return fmt.Errorf("%w: session.shardCount must be positive", ErrInvalidConfig)
	}
	if s.HeartbeatMin < 1 || s.HeartbeatMax < s.HeartbeatMin {
		return fmt.Errorf("%w: session heartbeat range [%d, %d] is invalid",
			ErrInvalidConfig, s.HeartbeatMin, s.HeartbeatMax)
	}
	return nil
}

// ApplyDefaults fills unset fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Target.Timeout == 0 {
		c.Target.Timeout = DefaultTimeout
	}
	if c.Target.MaxConnections == 0 {
		c.Target.MaxConnections = DefaultMaxConnections
	}
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	if c.Users.Count == 0 {
		c.Users.Count = DefaultUsers
	}
	if c.Users.SpawnRate == 0 {
		c.Users.SpawnRate = DefaultSpawnRate
	}
	for i := range c.Classes {
		if c.Classes[i].Weight == 0 && !c.Classes[i].Disabled {
			c.Classes[i].Weight = 1
		}
	}

	s := &c.Session
	if s.ContentDuration == 0 {
		s.ContentDuration = DefaultContentDuration
	}
	if s.StopProbability == nil {
		s.StopProbability = Float64(DefaultStopProbability)
	}
	if s.ShardProbability == nil {
		s.ShardProbability = Float64(DefaultShardProbability)
	}
	if s.ShardCount == 0 {
		s.ShardCount = DefaultShardCount
	}
	if s.HeartbeatMin == 0 && s.HeartbeatMax == 0 {
		s.HeartbeatMin = DefaultHeartbeatMin
		s.HeartbeatMax = DefaultHeartbeatMax
	}

	o := &c.Output
	if o.ReportInterval == 0 {
		o.ReportInterval = DefaultReportInterval
	}
	if o.JSON.File == "" {
		o.JSON.File = DefaultReportFile
	}
	if o.Prometheus.Port == 0 {
		o.Prometheus.Port = DefaultPrometheusPort
	}
	if o.Prometheus.Path == "" {
		o.Prometheus.Path = DefaultPrometheusPath
	}

	c.Log.ApplyDefaults()
}

// EnabledClasses returns classes that take part in the mix.
func (c *Config) EnabledClasses() []ClassConfig {
	out := make([]ClassConfig, 0, len(c.Classes))
	for _, cl := range c.Classes {
		if !cl.Disabled && cl.Weight > 0 {
			out = append(out, cl)
		}
	}
	return out
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
