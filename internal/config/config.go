package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Connection holds the PostgreSQL settings shared by import and export
type Connection struct {
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
}

// Config holds the settings of one import run
type Config struct {
	// Input settings
	InputFile string

	// Database settings
	Connection

	// Processing settings
	BatchSize        int           // top-level entities per checkpoint commit
	ProgressInterval time.Duration // minimum spacing of progress reports
	EntitySavepoints bool          // roll back only the failing entity on constraint violations

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for process metrics logging (0 = off)

	// Log file rotation
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// DefaultConfig returns a configuration with the loader's standard batching
func DefaultConfig() *Config {
	return &Config{
		Connection:       DefaultConnection(),
		BatchSize:        10000,
		ProgressInterval: 10 * time.Second,
		MetricsInterval:  0,
		LogMaxSizeMB:     50,
		LogMaxBackups:    5,
		LogMaxAgeDays:    30,
	}
}

// DefaultConnection targets a local server on the standard port
func DefaultConnection() Connection {
	return Connection{DBHost: "localhost", DBPort: 5432}
}

// ExportConfig holds the settings of one export run
type ExportConfig struct {
	Connection

	OutputFile string   // "-" writes to stdout
	Types      []string // entity kinds to write; empty means all
	Verbose    bool
	LogFile    string
}

// DefaultExportConfig returns an export of every entity kind to stdout
func DefaultExportConfig() *ExportConfig {
	return &ExportConfig{
		Connection: DefaultConnection(),
		OutputFile: "-",
	}
}

// Validate checks that the export configuration is valid
func (c *ExportConfig) Validate() error {
	if c.OutputFile == "" {
		return fmt.Errorf("output file is required")
	}
	return c.Connection.Validate()
}

// Tuning is the optional YAML file overriding processing settings.
// Connection settings are always taken from the command line.
type Tuning struct {
	BatchSize        *int           `yaml:"batch_size,omitempty"`
	ProgressInterval *time.Duration `yaml:"progress_interval,omitempty"`
	MetricsInterval  *time.Duration `yaml:"metrics_interval,omitempty"`
	EntitySavepoints *bool          `yaml:"entity_savepoints,omitempty"`
	LogFile          *string        `yaml:"log_file,omitempty"`
	LogMaxSizeMB     *int           `yaml:"log_max_size_mb,omitempty"`
	LogMaxBackups    *int           `yaml:"log_max_backups,omitempty"`
	LogMaxAgeDays    *int           `yaml:"log_max_age_days,omitempty"`
}

// LoadTuning reads a tuning file
func LoadTuning(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tuning YAML: %w", err)
	}

	return &t, nil
}

// Apply copies every setting present in t onto c
func (c *Config) Apply(t *Tuning) {
	if t == nil {
		return
	}
	if t.BatchSize != nil {
		c.BatchSize = *t.BatchSize
	}
	if t.ProgressInterval != nil {
		c.ProgressInterval = *t.ProgressInterval
	}
	if t.MetricsInterval != nil {
		c.MetricsInterval = *t.MetricsInterval
	}
	if t.EntitySavepoints != nil {
		c.EntitySavepoints = *t.EntitySavepoints
	}
	if t.LogFile != nil && c.LogFile == "" {
		c.LogFile = *t.LogFile
	}
	if t.LogMaxSizeMB != nil {
		c.LogMaxSizeMB = *t.LogMaxSizeMB
	}
	if t.LogMaxBackups != nil {
		c.LogMaxBackups = *t.LogMaxBackups
	}
	if t.LogMaxAgeDays != nil {
		c.LogMaxAgeDays = *t.LogMaxAgeDays
	}
}

// ConnectionString returns a PostgreSQL keyword/value connection string
func (c *Connection) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		quote(c.DBHost), c.DBPort, quote(c.DBName), quote(c.DBUser),
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", quote(c.DBPassword))
	}
	return connStr
}

// quote renders a value for a keyword/value connection string
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Validate checks that the connection settings are usable
func (c *Connection) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("database host is required")
	}
	if c.DBPort < 1 || c.DBPort > 65535 {
		return fmt.Errorf("database port %d out of range", c.DBPort)
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.DBUser == "" {
		return fmt.Errorf("database user is required")
	}
	return nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval must not be negative")
	}
	if c.MetricsInterval < 0 {
		return fmt.Errorf("metrics interval must not be negative")
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}
