// Package config loads nymead's HCL configuration file and resolves the
// filesystem paths the rule engine and discovery subsystem persist to.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// CurrentSchemaVersion is the schema version this binary writes and expects.
const CurrentSchemaVersion = "1.0"

// Config is the top-level nymead configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional"`

	Discovery *DiscoveryConfig `hcl:"discovery,block"`
	Rule      *RuleConfig      `hcl:"rule,block"`
	Store     *StoreConfig     `hcl:"store,block"`
	Syslog    *SyslogConfig    `hcl:"syslog,block"`
}

// DiscoveryConfig holds the network device discovery subsystem's tunables.
type DiscoveryConfig struct {
	// PeriodicIntervalSeconds is how often the coordinator starts an
	// unattended discovery run (default 300s). It is separate from the
	// per-run timer (DiscoveryTimeoutSeconds) and the ping timeout.
	PeriodicIntervalSeconds int `hcl:"periodic_interval_seconds,optional"`

	// DiscoveryTimeoutSeconds bounds one discover() run's overall timer.
	DiscoveryTimeoutSeconds int `hcl:"discovery_timeout_seconds,optional"`

	// PingRetryCount is how many times an unanswered echo request is resent.
	PingRetryCount int `hcl:"ping_retry_count,optional"`

	// PingTimeoutSeconds bounds how long a single ping waits for a reply.
	PingTimeoutSeconds int `hcl:"ping_timeout_seconds,optional"`

	// PingIntervalMillis is the FIFO send-queue drain interval.
	PingIntervalMillis int `hcl:"ping_interval_millis,optional"`

	// MonitorIntervalSeconds is how often each NetworkDeviceMonitor re-probes.
	MonitorIntervalSeconds int `hcl:"monitor_interval_seconds,optional"`

	// RediscoveryIntervalSeconds is the keep-alive re-probe window for an
	// already-reachable monitor.
	RediscoveryIntervalSeconds int `hcl:"rediscovery_interval_seconds,optional"`

	// CacheRetentionDays is how long an unseen cache entry survives before
	// eviction.
	CacheRetentionDays int `hcl:"cache_retention_days,optional"`

	// MinInterfacePrefixLen is the smallest IPv4 netmask prefix length an
	// interface may have to be probed; larger subnets are skipped.
	MinInterfacePrefixLen int `hcl:"min_interface_prefix_len,optional"`
}

// RuleConfig holds rule engine tunables.
type RuleConfig struct {
	// DebounceMillis is decoded from the config file but not read by the
	// rule engine: Engine.EvaluateTime runs only when its caller invokes it.
	DebounceMillis int `hcl:"debounce_millis,optional"`
}

// StoreConfig holds kvstore file locations.
type StoreConfig struct {
	Path string `hcl:"path,optional"`
}

// SyslogConfig configures remote syslog forwarding (teacher's own concern,
// carried ambient regardless of the rule/discovery Non-goals).
type SyslogConfig struct {
	Enabled bool   `hcl:"enabled,optional"`
	Address string `hcl:"address,optional"`
	Tag     string `hcl:"tag,optional"`
}

// Defaults returns the built-in configuration used when no config file is
// present.
func Defaults() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Discovery: &DiscoveryConfig{
			PeriodicIntervalSeconds:    300,
			DiscoveryTimeoutSeconds:    20,
			PingRetryCount:             3,
			PingTimeoutSeconds:         5,
			PingIntervalMillis:         20,
			MonitorIntervalSeconds:     60,
			RediscoveryIntervalSeconds: 600,
			CacheRetentionDays:         30,
			MinInterfacePrefixLen:      24,
		},
		Rule:  &RuleConfig{DebounceMillis: 0},
		Store: &StoreConfig{},
	}
}

// PingRetryTimeout returns the retry timeout as a time.Duration.
func (d *DiscoveryConfig) PingRetryTimeout() time.Duration {
	return time.Duration(d.PingTimeoutSeconds) * time.Second
}

// PingInterval returns the send-queue drain interval as a time.Duration.
func (d *DiscoveryConfig) PingInterval() time.Duration {
	return time.Duration(d.PingIntervalMillis) * time.Millisecond
}

// MonitorInterval returns the re-probe interval as a time.Duration.
func (d *DiscoveryConfig) MonitorInterval() time.Duration {
	return time.Duration(d.MonitorIntervalSeconds) * time.Second
}

// DiscoveryTimeout returns the per-run discovery timer as a time.Duration.
func (d *DiscoveryConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(d.DiscoveryTimeoutSeconds) * time.Second
}

// RediscoveryInterval returns the keep-alive re-probe window as a
// time.Duration.
func (d *DiscoveryConfig) RediscoveryInterval() time.Duration {
	return time.Duration(d.RediscoveryIntervalSeconds) * time.Second
}

// CacheRetention returns the cache eviction window as a time.Duration.
func (d *DiscoveryConfig) CacheRetention() time.Duration {
	return time.Duration(d.CacheRetentionDays) * 24 * time.Hour
}

// Load reads and decodes an HCL config file, filling any block left nil
// with its slice of Defaults().
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, err
	}
	def := Defaults()
	if cfg.Discovery == nil {
		cfg.Discovery = def.Discovery
	}
	if cfg.Rule == nil {
		cfg.Rule = def.Rule
	}
	if cfg.Store == nil {
		cfg.Store = def.Store
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = CurrentSchemaVersion
	}
	return &cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise returns Defaults().
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Defaults(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Defaults(), nil
	}
	return Load(path)
}
