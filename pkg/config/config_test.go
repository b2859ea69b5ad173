package config

import (
	"os"
	"path/filepath"
	"testing"
	"tiledb/pkg/iface/txnif"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Validate())
	protocol, err := cfg.ParseProtocol()
	assert.Nil(t, err)
	assert.Equal(t, txnif.Optimistic, protocol)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel())
	t.Log(cfg.String())
}

func TestParse(t *testing.T) {
	cfg, err := Parse(`
[txn]
protocol = "2pl"
lock_wait = "nowait"
lock_timeout = "250ms"

[epoch]
interval = "10ms"
strict = true

[gc]
workers = 2

[storage]
block_capacity = 64
max_blocks = 8

[log]
level = "debug"
`)
	require.Nil(t, err)
	protocol, err := cfg.ParseProtocol()
	assert.Nil(t, err)
	assert.Equal(t, txnif.Pessimistic, protocol)
	assert.Equal(t, "nowait", cfg.Txn.LockWait)
	assert.Equal(t, 250*time.Millisecond, cfg.Txn.LockTimeout.Duration)
	assert.Equal(t, 10*time.Millisecond, cfg.Epoch.Interval.Duration)
	assert.True(t, cfg.Epoch.Strict)
	assert.True(t, cfg.GC.Enabled)
	assert.Equal(t, 2, cfg.GC.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.GC.Interval.Duration)
	assert.Equal(t, uint32(64), cfg.Storage.BlockCapacity)
	assert.Equal(t, uint32(8), cfg.Storage.MaxBlocks)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel())
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"[txn]\nprotocol = \"mvto\"\n",
		"[txn]\nlock_wait = \"spin\"\n",
		"[txn]\nlock_timeout = \"-1s\"\n",
		"[epoch]\ninterval = \"soon\"\n",
		"[gc]\nworkers = 0\n",
		"[storage]\nblock_capacity = 0\n",
		"[log]\nlevel = \"loud\"\n",
		"[storage]\nblock_size = 12\n",
		"unknown = 1\n",
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.ErrorIs(t, err, ErrInvalidConfig, c)
	}

	cfg, err := Parse("[gc]\nenabled = false\nworkers = 0\n")
	assert.Nil(t, err)
	assert.False(t, cfg.GC.Enabled)

	cfg, err = Parse("[txn]\nlock_timeout = \"0s\"\n")
	assert.Nil(t, err)
	assert.Equal(t, time.Duration(0), cfg.Txn.LockTimeout.Duration)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiledb.toml")
	require.Nil(t, os.WriteFile(path, []byte("[txn]\nprotocol = \"to\"\n"), 0644))
	cfg, err := Load(path)
	require.Nil(t, err)
	protocol, _ := cfg.ParseProtocol()
	assert.Equal(t, txnif.TimestampOrdering, protocol)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
