package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/config"
	"voxelprism.ai/internal/persistence"
	"voxelprism.ai/internal/persistence/indexdb"
	"voxelprism.ai/internal/persistence/kv"
	persistlog "voxelprism.ai/internal/persistence/log"
	"voxelprism.ai/internal/persistence/remote"
	"voxelprism.ai/internal/recording"
)

// stores holds the persistence side of the server: the configured primary
// backend, the optional archive mirror and the dead letter log.
type stores struct {
	persister  *persistence.Mirrored
	deadLetter *persistlog.DeadLetterLog

	index  *indexdb.SQLiteIndex
	kv     *kv.Store
	remote *remote.Ingest
}

func openStores(ctx context.Context, cfg config.Config, cats *catalogs.Catalogs, logger *log.Logger) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	st := &stores{}

	var primary recording.Persister
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		idx, err := indexdb.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := idx.UpsertCatalogs(ctx, cats); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
		st.index, primary = idx, idx
	case config.BackendPebble:
		db, err := kv.Open(kv.Options{DataDir: cfg.Storage.PebbleDir})
		if err != nil {
			return nil, fmt.Errorf("open pebble: %w", err)
		}
		st.kv, primary = db, db
	case config.BackendRemote:
		ing, err := remote.Open(remote.Config{
			Endpoint:    cfg.Storage.Remote.Endpoint,
			Token:       cfg.Storage.Remote.Token,
			WorldID:     cfg.WorldID,
			HTTPTimeout: cfg.Storage.Remote.Timeout(),
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open remote: %w", err)
		}
		st.remote, primary = ing, ing
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}

	st.persister = &persistence.Mirrored{Primary: primary, Logger: logger}
	if cfg.Storage.Archive {
		st.persister.Mirrors = append(st.persister.Mirrors, persistlog.NewArchiveLog(cfg.DataDir))
	}
	if cfg.Storage.DeadLetter {
		st.deadLetter = persistlog.NewDeadLetterLog(cfg.DataDir)
	}
	return st, nil
}

// deadLetterSink avoids handing the queue a typed nil.
func (s *stores) deadLetterSink() recording.DeadLetter {
	if s.deadLetter == nil {
		return nil
	}
	return s.deadLetter
}

func (s *stores) Close() error {
	var errs []error
	if s.persister != nil {
		errs = append(errs, s.persister.Close())
	}
	if s.deadLetter != nil {
		errs = append(errs, s.deadLetter.Close())
	}
	return errors.Join(errs...)
}
