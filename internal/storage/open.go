package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/healthscan/healthscan/internal/database"
	"github.com/healthscan/healthscan/internal/model"
	"github.com/healthscan/healthscan/internal/repository"
)

// Store is the patient persistence contract every backend satisfies.
type Store interface {
	Create(ctx context.Context, rec *model.PatientRecord) error
	ListAll(ctx context.Context) ([]model.PatientRecord, error)
}

// Open returns a durable store with its schema in place: PostgreSQL when
// databaseURL is set, otherwise the SQLite file at sqlitePath. The returned
// close function is never nil on success.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Store, func(), error) {
	if databaseURL != "" {
		pool, err := database.Connect(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPatientRepository(pool), pool.Close, nil
	}
	if sqlitePath == "" {
		return nil, nil, errors.New("no patient store configured: set DATABASE_URL or HEALTHSCAN_SQLITE_PATH")
	}
	db, err := database.OpenSQLite(ctx, sqlitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewSQLitePatientRepository(db), func() { db.Close() }, nil
}
