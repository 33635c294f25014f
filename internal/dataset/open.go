package dataset

import (
	"context"
	"fmt"

	"github.com/duckqa/duckqa/internal/config"
	s3store "github.com/duckqa/duckqa/internal/storage/s3"
)

// OpenSource builds the source named by cfg.Dataset.Source. The returned
// close func releases any connection the source holds.
func OpenSource(ctx context.Context, cfg config.Config) (Source, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Dataset.Source {
	case config.DatasetSourceLocal, "":
		return NewLocalSource(cfg.Dataset.Dir), noop, nil
	case config.DatasetSourceS3:
		store, err := OpenObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, nil, err
		}
		return NewObjectSource(store), noop, nil
	case config.DatasetSourcePostgres:
		db, err := OpenPostgres(ctx, PostgresConfig{
			DSN:             cfg.Postgres.DSN,
			Schema:          cfg.Postgres.Schema,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresSource(db, cfg.Postgres.Schema), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown dataset source %q", cfg.Dataset.Source)
	}
}

func OpenObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (*s3store.Store, error) {
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.Endpoint,
		Region:           cfg.Region,
		Bucket:           cfg.Bucket,
		AccessKeyID:      cfg.AccessKeyID,
		SecretAccessKey:  cfg.SecretAccessKey,
		UseSSL:           cfg.UseSSL,
		Prefix:           cfg.Prefix,
		AutoCreateBucket: cfg.AutoCreateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return store, nil
}
