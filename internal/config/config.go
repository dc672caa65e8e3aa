package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Duration wraps time.Duration so YAML values like "30m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration for the sync engine
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	Target  TargetConfig   `yaml:"target"`
	Sync    SyncConfig     `yaml:"sync"`
	Audit   AuditConfig    `yaml:"audit"`
	Alerts  AlertsConfig   `yaml:"alerts"`
	State   StateConfig    `yaml:"state"`
}

// SourceConfig holds connection settings for one SQL Server instance.
// Name becomes the prefix of every target schema created for the
// instance's databases, so it must be a plain identifier.
type SourceConfig struct {
	Name            string   `yaml:"name"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	User            string   `yaml:"user"`
	Password        string   `yaml:"password"`
	SkipDatabases   []string `yaml:"skip_databases"`    // exact names, skipped on top of system databases
	MaxConns        int      `yaml:"max_conns"`         // per-instance source pool size
	Encrypt         string   `yaml:"encrypt"`           // disable, false, true (default: true)
	TrustServerCert bool     `yaml:"trust_server_cert"` // trust server certificate (default: false)
}

// TargetConfig holds target PostgreSQL connection settings
type TargetConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"` // disable, require, verify-ca, verify-full (default: require)
	MaxConns int    `yaml:"max_conns"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	Workers        int      `yaml:"workers"`         // concurrent tables per database (0 = auto)
	ServerWorkers  int      `yaml:"server_workers"`  // concurrent source instances
	BatchSize      int      `yaml:"batch_size"`      // rows per write batch
	TableTimeout   Duration `yaml:"table_timeout"`   // per-table deadline
	DeleteTracking []string `yaml:"delete_tracking"` // glob patterns of tables with delete detection
	FullReplace    []string `yaml:"full_replace"`    // glob patterns forced to full replace
	IncludeTables  []string `yaml:"include_tables"`  // only sync these tables (glob patterns)
	ExcludeTables  []string `yaml:"exclude_tables"`  // skip these tables (glob patterns)
}

// AuditConfig holds row-count audit settings
type AuditConfig struct {
	Tolerance  int64   `yaml:"tolerance"`   // absolute row-count difference allowed
	SampleSize int     `yaml:"sample_size"` // rows per sample digest, -1 disables sampling
	WarnPct    float64 `yaml:"warn_pct"`    // drift percent at which a mismatch grades high
	HighPct    float64 `yaml:"high_pct"`    // drift percent at which a mismatch grades critical
}

// AlertsConfig holds alert delivery settings
type AlertsConfig struct {
	SlackWebhook   string  `yaml:"slack_webhook"`
	SlackChannel   string  `yaml:"slack_channel"`
	SlackUsername  string  `yaml:"slack_username"`
	NotifyOnStart  bool    `yaml:"notify_on_start"`
	MinSuccessRate float64 `yaml:"min_success_rate"` // run success %% below which an alert fires
}

// StateConfig holds marker store settings
type StateConfig struct {
	Backend string `yaml:"backend"` // "sqlite" (default) or "file"
	Dir     string `yaml:"dir"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultStateDir returns the default directory for marker and run state.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".syncctl")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// AvailableMemoryMB reports the system memory available to new
// allocations, in megabytes. Worker auto-sizing and health metrics both
// read it.
func AvailableMemoryMB() int64 {
	return getAvailableMemoryMB()
}

func (c *Config) applyDefaults() {
	// Source defaults
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Port == 0 {
			src.Port = 1433
		}
		if src.Encrypt == "" {
			src.Encrypt = "true" // Secure default
		}
		if src.MaxConns == 0 {
			src.MaxConns = 8
		}
	}

	// Target defaults
	if c.Target.Port == 0 {
		c.Target.Port = 5432
	}
	if c.Target.SSLMode == "" {
		c.Target.SSLMode = "require" // Secure default
	}
	if c.Target.MaxConns == 0 {
		c.Target.MaxConns = 16
	}

	// Sync defaults
	if c.Sync.ServerWorkers == 0 {
		c.Sync.ServerWorkers = 2
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 5000
	}
	if c.Sync.TableTimeout == 0 {
		c.Sync.TableTimeout = Duration(30 * time.Minute)
	}
	// Auto-detect CPU cores for workers (leave 2 cores for OS/DB overhead),
	// then cap by available memory: each worker buffers roughly one batch of
	// rows at ~500 bytes each, and we budget half the RAM for buffering.
	if c.Sync.Workers == 0 {
		cores := runtime.NumCPU()
		workers := cores - 2
		if workers < 2 {
			workers = 2
		}
		if workers > 32 {
			workers = 32
		}
		targetMemoryMB := getAvailableMemoryMB() / 2
		bytesPerWorker := int64(c.Sync.BatchSize) * 500
		if bytesPerWorker > 0 {
			memCap := (targetMemoryMB * 1024 * 1024) / bytesPerWorker
			if memCap < 1 {
				memCap = 1
			}
			if int64(workers) > memCap {
				workers = int(memCap)
			}
		}
		c.Sync.Workers = workers
	}

	// Audit defaults
	if c.Audit.SampleSize == 0 {
		c.Audit.SampleSize = 100
	}
	if c.Audit.WarnPct == 0 {
		c.Audit.WarnPct = 2.0
	}
	if c.Audit.HighPct == 0 {
		c.Audit.HighPct = 5.0
	}

	// Alert defaults
	if c.Alerts.MinSuccessRate == 0 {
		c.Alerts.MinSuccessRate = 95.0
	}
	if c.Alerts.SlackUsername == "" {
		c.Alerts.SlackUsername = "syncctl"
	}

	// State defaults
	if c.State.Backend == "" {
		c.State.Backend = "sqlite"
	}
	if c.State.Dir == "" {
		home, _ := os.UserHomeDir()
		c.State.Dir = filepath.Join(home, ".syncctl")
	} else {
		c.State.Dir = expandTilde(c.State.Dir)
	}
}

// isIdentifier reports whether s is usable as a schema name prefix.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one entry under 'sources' is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if !isIdentifier(src.Name) {
			return fmt.Errorf("sources[%d].name %q must contain only letters, digits, and underscores", i, src.Name)
		}
		if seen[strings.ToLower(src.Name)] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[strings.ToLower(src.Name)] = true
		if src.Host == "" {
			return fmt.Errorf("sources[%d].host is required", i)
		}
	}

	if c.Target.Host == "" {
		return fmt.Errorf("target.host is required")
	}
	if c.Target.Database == "" {
		return fmt.Errorf("target.database is required")
	}

	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1")
	}
	if c.Sync.TableTimeout < 0 {
		return fmt.Errorf("sync.table_timeout must not be negative")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.Sync.ServerWorkers < 1 {
		return fmt.Errorf("sync.server_workers must be at least 1")
	}

	if c.Audit.Tolerance < 0 {
		return fmt.Errorf("audit.tolerance must not be negative")
	}
	if c.Audit.SampleSize < -1 {
		return fmt.Errorf("audit.sample_size must be -1 (disabled) or non-negative")
	}
	if c.Audit.HighPct < c.Audit.WarnPct {
		return fmt.Errorf("audit.high_pct must not be below audit.warn_pct")
	}

	if c.State.Backend != "sqlite" && c.State.Backend != "file" {
		return fmt.Errorf("state.backend must be 'sqlite' or 'file', got '%s'", c.State.Backend)
	}
	return nil
}

// DSN returns the connection string for one database on this instance.
// Credentials and database names are URL-encoded so passwords with
// reserved characters survive the round trip.
func (s *SourceConfig) DSN(database string) string {
	trustCert := "false"
	if s.TrustServerCert {
		trustCert = "true"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s&TrustServerCertificate=%s",
		url.QueryEscape(s.User), url.QueryEscape(s.Password), s.Host, s.Port,
		url.QueryEscape(database), s.Encrypt, trustCert)
}

// DSN returns the target PostgreSQL connection string.
func (t *TargetConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(t.User), url.QueryEscape(t.Password), t.Host, t.Port,
		url.PathEscape(t.Database), t.SSLMode)
}

// SourceByName returns the source with the given name, or nil.
func (c *Config) SourceByName(name string) *SourceConfig {
	for i := range c.Sources {
		if strings.EqualFold(c.Sources[i].Name, name) {
			return &c.Sources[i]
		}
	}
	return nil
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c

	sanitized.Sources = make([]SourceConfig, len(c.Sources))
	copy(sanitized.Sources, c.Sources)
	for i := range sanitized.Sources {
		sanitized.Sources[i].Password = "[REDACTED]"
	}

	sanitized.Target.Password = "[REDACTED]"

	if sanitized.Alerts.SlackWebhook != "" {
		sanitized.Alerts.SlackWebhook = "[REDACTED]"
	}

	return &sanitized
}
