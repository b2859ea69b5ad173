// Package config holds the process-start settings of a tiledb instance,
// decoded from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"tiledb/pkg/iface/txnif"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("tiledb: invalid config")

// Duration decodes TOML strings such as "100ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type TxnConfig struct {
	// Protocol is one of "to", "occ" or "2pl".
	Protocol string `toml:"protocol"`
	// LockWait is "block" or "nowait"; only the pessimistic protocol waits.
	LockWait string `toml:"lock_wait"`
	// LockTimeout bounds a blocked wait and fails it with a lock timeout,
	// which also breaks wait cycles. Zero waits until the owner terminates.
	LockTimeout Duration `toml:"lock_timeout"`
}

type EpochConfig struct {
	Interval Duration `toml:"interval"`
	// Strict panics on epoch refcount underflow.
	Strict bool `toml:"strict"`
}

type GCConfig struct {
	Enabled   bool     `toml:"enabled"`
	Workers   int      `toml:"workers"`
	Interval  Duration `toml:"interval"`
	QueueSize uint32   `toml:"queue_size"`
}

type StorageConfig struct {
	BlockCapacity uint32 `toml:"block_capacity"`
	// MaxBlocks bounds the tile groups of each table. 0 means unlimited.
	MaxBlocks uint32 `toml:"max_blocks"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Txn     TxnConfig     `toml:"txn"`
	Epoch   EpochConfig   `toml:"epoch"`
	GC      GCConfig      `toml:"gc"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
}

func Default() *Config {
	return &Config{
		Txn: TxnConfig{
			Protocol:    txnif.Optimistic.String(),
			LockWait:    "block",
			LockTimeout: Duration{time.Second},
		},
		Epoch: EpochConfig{
			Interval: Duration{40 * time.Millisecond},
		},
		GC: GCConfig{
			Enabled:   true,
			Workers:   4,
			Interval:  Duration{100 * time.Millisecond},
			QueueSize: 1 << 16,
		},
		Storage: StorageConfig{
			BlockCapacity: 1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err = checkUndecoded(md); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes data over the defaults.
func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err = checkUndecoded(md); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.String()
	}
	return fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(names, ","))
}

func (cfg *Config) Validate() error {
	if _, err := cfg.ParseProtocol(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch cfg.Txn.LockWait {
	case "block", "nowait":
	default:
		return fmt.Errorf("%w: txn.lock_wait %q", ErrInvalidConfig, cfg.Txn.LockWait)
	}
	if cfg.Txn.LockTimeout.Duration < 0 {
		return fmt.Errorf("%w: txn.lock_timeout must not be negative", ErrInvalidConfig)
	}
	if cfg.Epoch.Interval.Duration <= 0 {
		return fmt.Errorf("%w: epoch.interval must be positive", ErrInvalidConfig)
	}
	if cfg.GC.Enabled {
		if cfg.GC.Workers <= 0 {
			return fmt.Errorf("%w: gc.workers must be positive", ErrInvalidConfig)
		}
		if cfg.GC.Interval.Duration <= 0 {
			return fmt.Errorf("%w: gc.interval must be positive", ErrInvalidConfig)
		}
	}
	if cfg.Storage.BlockCapacity == 0 {
		return fmt.Errorf("%w: storage.block_capacity must be positive", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (cfg *Config) ParseProtocol() (txnif.Protocol, error) {
	return txnif.ParseProtocol(cfg.Txn.Protocol)
}

func (cfg *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func (cfg *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return err.Error()
	}
	return b.String()
}
