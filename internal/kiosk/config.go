package kiosk

import (
	"path/filepath"

	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/configsync"
	"github.com/EternisAI/silo-kiosk/internal/connectivity"
	"github.com/EternisAI/silo-kiosk/internal/dispatch"
	"github.com/EternisAI/silo-kiosk/internal/offlineauth"
	"github.com/EternisAI/silo-kiosk/internal/queue"
)

const (
	queueFile  = "queue.enc"
	secureFile = "secure.age"
	configFile = "config.enc"
	stateFile  = "state.yaml"
)

type Config struct {
	Backend      backend.Config      `mapstructure:"backend"`
	Storage      StorageConfig       `mapstructure:"storage"`
	Queue        queue.Config        `mapstructure:"queue"`
	Connectivity connectivity.Config `mapstructure:"connectivity"`
	Dispatch     dispatch.Config     `mapstructure:"dispatch"`
	Sync         configsync.Config   `mapstructure:"sync"`
	Auth         offlineauth.Config  `mapstructure:"auth"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	// Passphrase seals secure.age. Required unless secure storage is
	// supplied by the caller.
	Passphrase string `mapstructure:"passphrase"`
	WorkFactor int    `mapstructure:"work_factor"`
}

func (c Config) withDefaults() Config {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Queue.Path == "" {
		c.Queue.Path = filepath.Join(c.Storage.DataDir, queueFile)
	}
	if c.Sync.CachePath == "" {
		c.Sync.CachePath = filepath.Join(c.Storage.DataDir, configFile)
	}
	if c.Connectivity.Timeout <= 0 {
		c.Connectivity.Timeout = c.Backend.Timeout
	}
	return c
}

func (c Config) securePath() string { return filepath.Join(c.Storage.DataDir, secureFile) }

func (c Config) statePath() string { return filepath.Join(c.Storage.DataDir, stateFile) }
