package app

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/op/go-logging.v1"

	"strand/internal/services/identity"
	"strand/internal/store"
)

const storeFile = "device.db"

// Wire holds what the CLI needs before the identity is unlocked.
type Wire struct {
	Config     *Config
	Logs       *LogBackend
	DB         *store.DB
	Identities *identity.Service

	log *logging.Logger
}

// NewWire creates the home directory, opens the log backend and the device
// store.
func NewWire(cfg *Config) (*Wire, error) {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	logs, err := NewLogBackend(cfg.Logging)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(filepath.Join(cfg.Home, storeFile))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open device store: %w", err)
	}
	w := &Wire{
		Config:     cfg,
		Logs:       logs,
		DB:         db,
		Identities: identity.New(db),
		log:        logs.GetLogger("app"),
	}
	w.log.Debugf("home %s", cfg.Home)
	return w, nil
}

// Close closes the device store and the log backend.
func (w *Wire) Close() error {
	err := w.DB.Close()
	if lerr := w.Logs.Close(); err == nil {
		err = lerr
	}
	return err
}
