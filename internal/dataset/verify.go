package dataset

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/duckqa/duckqa/internal/schema"
)

// VerifyParquet checks a converted file against its table: the row count
// must equal want and every canonical column must be present.
func VerifyParquet(path string, table *schema.Table, want int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	file, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return fmt.Errorf("read parquet footer %s: %w", path, err)
	}
	if got := file.NumRows(); got != want {
		return fmt.Errorf("%s: parquet has %d rows, want %d", table.Name, got, want)
	}
	for _, column := range table.Columns {
		if _, ok := file.Schema().Lookup(column.Name); !ok {
			return fmt.Errorf("%s: parquet is missing column %s", table.Name, column.Name)
		}
	}
	return nil
}
