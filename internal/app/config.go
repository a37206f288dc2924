package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultLogLevel    = "NOTICE"
	DefaultMetricsAddr = "127.0.0.1:6543"
	defaultHomeDir     = ".strand"
)

// Logging configures the log backend.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File is the log file. Empty means stdout.
	File string

	// Level is one of ERROR, WARNING, NOTICE, INFO or DEBUG.
	Level string
}

func (l *Logging) validate() error {
	lvl := strings.ToUpper(l.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = DefaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", l.Level)
	}
	l.Level = lvl
	return nil
}

// Relay is the node the client talks to.
type Relay struct {
	URL            string
	RequestTimeout time.Duration
}

// Sync tunes the sync orchestrator. Zero fields take their defaults.
type Sync struct {
	RPCTimeout time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64
}

// KeyExchange tunes the key exchange scheduler. Zero fields take their
// defaults.
type KeyExchange struct {
	TickDelay         time.Duration
	SessionShareChunk int
}

// Metrics configures the prometheus endpoint of the sync command.
type Metrics struct {
	Disable bool
	Address string
}

// Config is the client configuration file.
type Config struct {
	// Home is where the device store lives. Defaults to ~/.strand.
	Home string

	Logging     Logging
	Relay       Relay
	Sync        Sync
	KeyExchange KeyExchange
	Metrics     Metrics
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// FixupAndValidate applies defaults and checks the configuration.
func (c *Config) FixupAndValidate() error {
	if c.Home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: Home: %w", err)
		}
		c.Home = filepath.Join(dir, defaultHomeDir)
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if c.Relay.URL != "" {
		u, err := url.Parse(c.Relay.URL)
		if err != nil {
			return fmt.Errorf("config: Relay: URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("config: Relay: URL '%v' is not http(s)", c.Relay.URL)
		}
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("config: Sync: MaxRetries must not be negative")
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("config: Sync: Jitter %v is not in [0, 1]", c.Sync.Jitter)
	}
	if c.Sync.MaxDelay > 0 && c.Sync.MaxDelay < c.Sync.BaseDelay {
		return errors.New("config: Sync: MaxDelay is below BaseDelay")
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddr
	}
	return nil
}

// Load parses and validates b as a config file body. Unknown keys are
// rejected.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the file f.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
