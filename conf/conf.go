// Package conf holds the ersbackup configuration.
package conf

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Defaults applied to every field left unset in the configuration file.
const (
	DefaultPort           = 23
	DefaultTimeout        = 120 * time.Second
	DefaultTransports     = "telnet"
	DefaultModel          = "avaya-ers"
	DefaultMaxConcurrency = 1
	DefaultScanInterval   = 24 * time.Hour
	DefaultMaxConfigFiles = 10
	DefaultMaxReportFiles = 30
	DefaultErrlogHistSize = 60
)

// Change records who last saved the configuration.
type Change struct {
	When time.Time
	By   string
	From string
}

// AppConfig holds the batch-wide settings. It is immutable during a batch run:
// the orchestrator works on a clone taken from Options.Get().
type AppConfig struct {
	TftpServer     string        `yaml:"tftpserver"`
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	Transports     string        `yaml:"transports"`
	Model          string        `yaml:"model"`
	MaxConcurrency int           `yaml:"maxconcurrency"` // 1 = strictly sequential
	ScanInterval   time.Duration `yaml:"scaninterval"`
	MaxConfigFiles int           `yaml:"maxconfigfiles"`
	MaxReportFiles int           `yaml:"maxreportfiles"`
	ErrlogHistSize int           `yaml:"errloghistsize"`
	Debug          bool          `yaml:"debug"`
	LastChange     Change        `yaml:"lastchange"`
}

// Config is the persisted form: settings plus the ordered device list.
type Config struct {
	Options AppConfig `yaml:"options"`
	Devices []string  `yaml:"devices"`
}

// NewAppConfig creates settings filled with defaults.
func NewAppConfig() *AppConfig {
	a := &AppConfig{}
	a.setDefaults()
	return a
}

func (a *AppConfig) setDefaults() {
	if a.Port < 1 {
		a.Port = DefaultPort
	}
	if a.Timeout <= 0 {
		a.Timeout = DefaultTimeout
	}
	if a.Transports == "" {
		a.Transports = DefaultTransports
	}
	if a.Model == "" {
		a.Model = DefaultModel
	}
	if a.MaxConcurrency < 1 {
		a.MaxConcurrency = DefaultMaxConcurrency
	}
	if a.ScanInterval <= 0 {
		a.ScanInterval = DefaultScanInterval
	}
	if a.MaxConfigFiles < 1 {
		a.MaxConfigFiles = DefaultMaxConfigFiles
	}
	if a.MaxReportFiles < 1 {
		a.MaxReportFiles = DefaultMaxReportFiles
	}
	if a.ErrlogHistSize < 1 {
		a.ErrlogHistSize = DefaultErrlogHistSize
	}
}

// Validate checks the settings a batch cannot run without.
func (a *AppConfig) Validate() error {
	if a.TftpServer == "" {
		return fmt.Errorf("conf: missing tftpserver")
	}
	if a.Port > 65535 {
		return fmt.Errorf("conf: bad port: %d", a.Port)
	}
	return nil
}

// Dump serializes the settings as YAML.
func (a *AppConfig) Dump() ([]byte, error) {
	return yaml.Marshal(a)
}

// NewAppConfigFromString parses settings edited as YAML text.
func NewAppConfigFromString(str string) (*AppConfig, error) {
	a := &AppConfig{}
	if err := yaml.Unmarshal([]byte(str), a); err != nil {
		return nil, err
	}
	a.setDefaults()
	return a, nil
}

// New creates an empty configuration with default settings.
func New() *Config {
	c := &Config{}
	c.Options.setDefaults()
	return c
}

// Load reads a configuration file, refusing files larger than maxSize.
func Load(path string, maxSize int64) (*Config, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return nil, statErr
	}
	if size := info.Size(); size > maxSize {
		return nil, fmt.Errorf("conf.Load: file size=%d exceeds limit=%d: %s", size, maxSize, path)
	}

	b, readErr := ioutil.ReadFile(path)
	if readErr != nil {
		return nil, readErr
	}

	return NewConfigFromBytes(b)
}

// NewConfigFromBytes parses a configuration from YAML.
func NewConfigFromBytes(b []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	c.Options.setDefaults()
	return c, nil
}

// Dump serializes the configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	return b, nil
}
