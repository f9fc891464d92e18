// Package store provides the persistence backends for load test records.
package store

import (
	"fmt"
	"io"

	"loadlab/pkg/config"
	"loadlab/pkg/loadtest"
)

// Storage drivers
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Backend is a record store that may hold resources
type Backend interface {
	loadtest.Store
	io.Closer
}

// Open returns the backend selected by cfg
func Open(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case DriverFile, "":
		fs, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case DriverSQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Close implements io.Closer; file storage holds no resources
func (s *FileStore) Close() error {
	return nil
}
