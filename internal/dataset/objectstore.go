package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/duckqa/duckqa/internal/schema"
	"github.com/duckqa/duckqa/internal/storage"
)

// ObjectSource downloads <Table>.parquet or <Table>.csv from an object store.
// Like LocalSource it matches names case-insensitively and prefers parquet.
type ObjectSource struct {
	store storage.ObjectStore
}

func NewObjectSource(store storage.ObjectStore) *ObjectSource {
	return &ObjectSource{store: store}
}

func (s *ObjectSource) Name() string {
	return "s3"
}

func (s *ObjectSource) Stage(ctx context.Context, tables []*schema.Table, dir string) ([]RawFile, error) {
	listed, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list table files: %w", err)
	}
	byName := make(map[string]string, len(listed))
	for _, object := range listed {
		byName[strings.ToLower(object.Key)] = object.Key
	}
	files := make([]RawFile, len(tables))
	for i, table := range tables {
		file, ok := findLocal(byName, table.Name)
		if !ok {
			return nil, fmt.Errorf("%w: no csv or parquet object for %s", ErrTableMissing, table.Name)
		}
		files[i] = file
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range files {
		g.Go(func() error {
			key := files[i].Path
			local := filepath.Join(dir, files[i].Table+"."+string(files[i].Format))
			if err := s.copyTo(gctx, key, local); err != nil {
				return err
			}
			files[i].Path = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *ObjectSource) copyTo(ctx context.Context, key, path string) error {
	reader, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		_ = out.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Upload pushes every table file found by src to store. It is the inverse of
// ObjectSource and seeds a bucket from a local directory.
func Upload(ctx context.Context, src Source, store storage.ObjectStore, tables []*schema.Table, stagingDir string) ([]storage.ObjectInfo, error) {
	files, err := src.Stage(ctx, tables, stagingDir)
	if err != nil {
		return nil, err
	}
	out := make([]storage.ObjectInfo, 0, len(files))
	for _, file := range files {
		info, err := uploadFile(ctx, store, file)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func uploadFile(ctx context.Context, store storage.ObjectStore, file RawFile) (storage.ObjectInfo, error) {
	key, err := storage.BuildTableFileKey(file.Table, string(file.Format))
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f, err := os.Open(file.Path)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("open %s: %w", file.Path, err)
	}
	defer func() { _ = f.Close() }()
	stat, err := f.Stat()
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat %s: %w", file.Path, err)
	}
	return store.Put(ctx, key, f, stat.Size(), storage.PutOptions{})
}
