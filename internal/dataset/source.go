// Package dataset pulls the raw table files from their source, converts them
// into a canonical parquet cache and swaps the query views over to it.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/duckqa/duckqa/internal/schema"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ErrTableMissing is returned when a source has no file for a registry table.
var ErrTableMissing = errors.New("table file missing")

// RawFile is one table as delivered by a source, before header mapping.
type RawFile struct {
	Table  string
	Path   string
	Format Format
}

// Source makes one raw file per table readable on local disk. Sources may
// write into dir; files they return from elsewhere are only read.
type Source interface {
	Name() string
	Stage(ctx context.Context, tables []*schema.Table, dir string) ([]RawFile, error)
}

// LocalSource reads <Table>.parquet or <Table>.csv from a directory. Parquet
// wins when both exist. Names match case-insensitively.
type LocalSource struct {
	Dir string
}

func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{Dir: dir}
}

func (s *LocalSource) Name() string {
	return "local"
}

func (s *LocalSource) Stage(ctx context.Context, tables []*schema.Table, _ string) ([]RawFile, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir %s: %w", s.Dir, err)
	}
	byName := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		byName[strings.ToLower(entry.Name())] = entry.Name()
	}

	files := make([]RawFile, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, ok := findLocal(byName, table.Name)
		if !ok {
			return nil, fmt.Errorf("%w: no csv or parquet file for %s in %s", ErrTableMissing, table.Name, s.Dir)
		}
		file.Path = filepath.Join(s.Dir, file.Path)
		files = append(files, file)
	}
	return files, nil
}

func findLocal(byName map[string]string, table string) (RawFile, bool) {
	for _, format := range []Format{FormatParquet, FormatCSV} {
		if name, ok := byName[strings.ToLower(table)+"."+string(format)]; ok {
			return RawFile{Table: table, Path: name, Format: format}, true
		}
	}
	return RawFile{}, false
}
