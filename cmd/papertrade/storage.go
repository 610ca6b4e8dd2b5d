package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/config"
	"github.com/vadiminshakov/papertrade/internal/storage"
	"github.com/vadiminshakov/papertrade/internal/storage/filestate"
	"github.com/vadiminshakov/papertrade/internal/storage/postgres"
	"github.com/vadiminshakov/papertrade/internal/storage/sqlite"
)

// openStorage picks the account persistence backend.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Persistence, error) {
	switch cfg.Backend {
	case config.StorageFile:
		s, err := filestate.New(cfg.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open file storage")
		}
		return s, nil
	case config.StorageSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite storage")
		}
		return s, nil
	case config.StoragePostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres storage")
		}
		return s, nil
	default:
		return storage.Noop{}, nil
	}
}
