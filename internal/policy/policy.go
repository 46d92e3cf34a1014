// Package policy holds runtime configuration: timing constants, bounds, and
// file locations, loadable from a YAML file with zero values filled from
// defaults.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalStateDir returns the default global state directory (~/.config/meshwork).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "meshwork")
}

// GlobalStateFile returns the default snapshot database path.
func GlobalStateFile() string {
	return filepath.Join(GlobalStateDir(), "plans.sqlite")
}

// Config holds runtime configuration. Zero values are replaced by defaults
// when wrapped in a Policy.
type Config struct {
	NodeID        string `yaml:"node_id"`        // stable node identity for plan sync
	StateFile     string `yaml:"state_file"`     // SQLite snapshot database
	SnapshotDir   string `yaml:"snapshot_dir"`   // shared dir for cross-process exchange
	LogFile       string `yaml:"log_file"`
	DashboardAddr string `yaml:"dashboard_addr"` // listen address for the web dashboard; empty disables it

	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	MissedHeartbeatThreshold int `yaml:"missed_heartbeat_threshold"`
	CrashedRetentionSeconds  int `yaml:"crashed_retention_seconds"`

	MessageExpirySeconds  int `yaml:"message_expiry_seconds"`
	ProcessingTickMillis  int `yaml:"processing_tick_millis"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	MessageLogMax         int `yaml:"message_log_max"`

	ClaimTimeoutSeconds    int `yaml:"claim_timeout_seconds"`
	ProgressTimeoutSeconds int `yaml:"progress_timeout_seconds"`
	MaxRetries             int `yaml:"max_retries"`

	ProgressHistoryMax  int `yaml:"progress_history_max"`
	CompletionWindowMax int `yaml:"completion_window_max"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		StateFile:                GlobalStateFile(),
		SnapshotDir:              filepath.Join(GlobalStateDir(), "snapshots"),
		HeartbeatIntervalSeconds: 30,
		MissedHeartbeatThreshold: 3,
		CrashedRetentionSeconds:  3600,
		MessageExpirySeconds:     3600,
		ProcessingTickMillis:     100,
		RequestTimeoutSeconds:    30,
		MessageLogMax:            1000,
		ClaimTimeoutSeconds:      300,
		ProgressTimeoutSeconds:   600,
		MaxRetries:               3,
		ProgressHistoryMax:       1000,
		CompletionWindowMax:      100,
	}
}

// Load reads a YAML config file and fills unset fields from defaults.
// A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fillDefaults(cfg)
	return cfg, nil
}

func fillDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.StateFile == "" {
		cfg.StateFile = def.StateFile
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = def.SnapshotDir
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = def.HeartbeatIntervalSeconds
	}
	if cfg.MissedHeartbeatThreshold <= 0 {
		cfg.MissedHeartbeatThreshold = def.MissedHeartbeatThreshold
	}
	if cfg.CrashedRetentionSeconds <= 0 {
		cfg.CrashedRetentionSeconds = def.CrashedRetentionSeconds
	}
	if cfg.MessageExpirySeconds <= 0 {
		cfg.MessageExpirySeconds = def.MessageExpirySeconds
	}
	if cfg.ProcessingTickMillis <= 0 {
		cfg.ProcessingTickMillis = def.ProcessingTickMillis
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = def.RequestTimeoutSeconds
	}
	if cfg.MessageLogMax <= 0 {
		cfg.MessageLogMax = def.MessageLogMax
	}
	if cfg.ClaimTimeoutSeconds <= 0 {
		cfg.ClaimTimeoutSeconds = def.ClaimTimeoutSeconds
	}
	if cfg.ProgressTimeoutSeconds <= 0 {
		cfg.ProgressTimeoutSeconds = def.ProgressTimeoutSeconds
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ProgressHistoryMax <= 0 {
		cfg.ProgressHistoryMax = def.ProgressHistoryMax
	}
	if cfg.CompletionWindowMax <= 0 {
		cfg.CompletionWindowMax = def.CompletionWindowMax
	}
}

// Policy wraps a Config behind typed accessors. Safe for concurrent use.
type Policy struct {
	mu  sync.RWMutex
	cfg *Config
}

// New wraps cfg (nil means defaults) in a Policy.
func New(cfg *Config) *Policy {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		fillDefaults(cfg)
	}
	return &Policy{cfg: cfg}
}

func (p *Policy) NodeID() string { p.mu.RLock(); defer p.mu.RUnlock(); return p.cfg.NodeID }

// SetNodeID pins the node identity after construction (used when the caller
// generates one at startup).
func (p *Policy) SetNodeID(id string) { p.mu.Lock(); defer p.mu.Unlock(); p.cfg.NodeID = id }

func (p *Policy) StateFile() string   { p.mu.RLock(); defer p.mu.RUnlock(); return p.cfg.StateFile }
func (p *Policy) SnapshotDir() string { p.mu.RLock(); defer p.mu.RUnlock(); return p.cfg.SnapshotDir }
func (p *Policy) LogFile() string     { p.mu.RLock(); defer p.mu.RUnlock(); return p.cfg.LogFile }

func (p *Policy) DashboardAddr() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.DashboardAddr
}

func (p *Policy) HeartbeatInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.cfg.HeartbeatIntervalSeconds) * time.Second
}

func (p *Policy) MissedHeartbeatThreshold() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.MissedHeartbeatThreshold
}

func (p *Policy) CrashedRetention() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.cfg.CrashedRetentionSeconds) * time.Second
}

func (p *Policy) MessageExpiry() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.cfg.MessageExpirySeconds) * time.Second
}

func (p *Policy) ProcessingTick() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.cfg.ProcessingTickMillis) * time.Millisecond
}

func (p *Policy) RequestTimeout() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.cfg.RequestTimeoutSeconds) * time.Second
}

func (p *Policy) MessageLogMax() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.MessageLogMax
}

func (p *Policy) ClaimTimeout() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.cfg.ClaimTimeoutSeconds) * time.Second
}

func (p *Policy) ProgressTimeout() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.cfg.ProgressTimeoutSeconds) * time.Second
}

func (p *Policy) MaxRetries() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.MaxRetries
}

func (p *Policy) ProgressHistoryMax() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.ProgressHistoryMax
}

func (p *Policy) CompletionWindowMax() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.CompletionWindowMax
}
