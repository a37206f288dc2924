package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// LogBackend is a leveled go-logging backend writing to stdout, a file or
// nowhere.
type LogBackend struct {
	logging.LeveledBackend
	sync.RWMutex

	backend logging.LeveledBackend
	w       io.WriteCloser
	cfg     Logging
}

// NewLogBackend opens the backend described by cfg. cfg must be validated.
func NewLogBackend(cfg Logging) (*LogBackend, error) {
	b := &LogBackend{cfg: cfg}
	if err := b.open(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *LogBackend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b.backend.Log(level, calldepth, record)
}

func (b *LogBackend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b.backend.GetLevel(module)
}

func (b *LogBackend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b.backend.SetLevel(level, module)
}

func (b *LogBackend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *LogBackend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// Rotate reopens the log file.
func (b *LogBackend) Rotate() error {
	b.Lock()
	defer b.Unlock()
	if err := b.w.Close(); err != nil {
		return err
	}
	return b.open()
}

// Close closes the log file, if any.
func (b *LogBackend) Close() error {
	b.Lock()
	defer b.Unlock()
	return b.w.Close()
}

func (b *LogBackend) open() error {
	lvl, err := logging.LogLevel(strings.ToUpper(b.cfg.Level))
	if err != nil {
		return fmt.Errorf("log: invalid level '%v'", b.cfg.Level)
	}
	switch {
	case b.cfg.Disable:
		b.w = nopCloser{io.Discard}
	case b.cfg.File == "":
		b.w = nopCloser{os.Stdout}
	default:
		f, err := os.OpenFile(b.cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("log: open %s: %w", b.cfg.File, err)
		}
		b.w = f
	}
	base := logging.NewLogBackend(b.w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return nil
}
