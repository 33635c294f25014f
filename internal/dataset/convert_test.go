package dataset

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func openTestConverter(t *testing.T) *Converter {
	t.Helper()
	converter, err := OpenConverter()
	if err != nil {
		t.Fatalf("OpenConverter() error = %v", err)
	}
	t.Cleanup(func() { _ = converter.Close() })
	return converter
}

func TestConvertMapsAliasesAndFillsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)
	converter := openTestConverter(t)
	table := mustTable(t, "Customer")

	conversion, err := converter.Convert(context.Background(), table, RawFile{
		Table:  "Customer",
		Path:   filepath.Join(dir, "Customer.csv"),
		Format: FormatCSV,
	}, dir)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if conversion.Rows != 3 {
		t.Fatalf("Rows = %d, want 3", conversion.Rows)
	}
	if !reflect.DeepEqual(conversion.Missing, []string{"address"}) {
		t.Fatalf("Missing = %v", conversion.Missing)
	}
	if !reflect.DeepEqual(conversion.Ignored, []string{"loyalty_tier"}) {
		t.Fatalf("Ignored = %v", conversion.Ignored)
	}
	if err := VerifyParquet(conversion.Path, table, 3); err != nil {
		t.Fatalf("VerifyParquet() error = %v", err)
	}

	var cid int64
	var name string
	row := converter.db.QueryRowContext(context.Background(),
		"SELECT CID, name FROM read_parquet("+quoteString(conversion.Path)+") ORDER BY CID LIMIT 1")
	if err := row.Scan(&cid, &name); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if cid != 1001 || name != "Ada Lovelace" {
		t.Fatalf("first row = %d/%q", cid, name)
	}
}

func TestConvertTurnsUncastableValuesIntoNull(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Inventory.csv"), `IID,CID,order_date,order_total
1,10,2024-01-05,n/a
2,10,not-a-date,12.5
`)
	converter := openTestConverter(t)

	conversion, err := converter.Convert(context.Background(), mustTable(t, "Inventory"), RawFile{
		Table:  "Inventory",
		Path:   filepath.Join(dir, "Inventory.csv"),
		Format: FormatCSV,
	}, dir)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	var nullTotals, nullDates int64
	row := converter.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FILTER (WHERE order_total IS NULL), COUNT(*) FILTER (WHERE order_date IS NULL) FROM read_parquet("+quoteString(conversion.Path)+")")
	if err := row.Scan(&nullTotals, &nullDates); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if nullTotals != 1 || nullDates != 1 {
		t.Fatalf("null totals/dates = %d/%d, want 1/1", nullTotals, nullDates)
	}
}

type rawPrice struct {
	PriceID int64   `parquet:"price_id"`
	SKU     string  `parquet:"sku"`
	Price   float64 `parquet:"price"`
}

func TestConvertReadsParquetInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "raw.parquet")
	f, err := os.Create(input)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writer := parquet.NewGenericWriter[rawPrice](f)
	if _, err := writer.Write([]rawPrice{{PriceID: 11, SKU: "SKU-1", Price: 40}, {PriceID: 12, SKU: "SKU-2", Price: 41.5}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	converter := openTestConverter(t)
	table := mustTable(t, "Pricelist")
	conversion, err := converter.Convert(context.Background(), table, RawFile{Table: "Pricelist", Path: input, Format: FormatParquet}, outDir)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if conversion.Rows != 2 || len(conversion.Missing) != 0 || len(conversion.Ignored) != 0 {
		t.Fatalf("conversion = %+v", conversion)
	}
	if err := VerifyParquet(conversion.Path, table, 2); err != nil {
		t.Fatalf("VerifyParquet() error = %v", err)
	}
}

func TestProjectPrefersCanonicalHeaderOverAlias(t *testing.T) {
	projection, conversion, err := project(mustTable(t, "Customer"), []string{"customer_id", "CID", "name"})
	if err != nil {
		t.Fatalf("project() error = %v", err)
	}
	if !reflect.DeepEqual(conversion.Ignored, []string{"customer_id"}) {
		t.Fatalf("Ignored = %v", conversion.Ignored)
	}
	if projection[0] != `TRY_CAST("CID" AS BIGINT) AS "CID"` {
		t.Fatalf("projection[0] = %s", projection[0])
	}
	if !strings.HasPrefix(projection[2], "CAST(NULL AS VARCHAR)") {
		t.Fatalf("projection[2] = %s", projection[2])
	}
}

func TestProjectRejectsMissingKeyColumn(t *testing.T) {
	_, _, err := project(mustTable(t, "Detail"), []string{"IID", "qty"})
	if err == nil || !strings.Contains(err.Error(), "missing key column DID") {
		t.Fatalf("project() error = %v", err)
	}
}

func TestVerifyParquetDetectsRowMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)
	converter := openTestConverter(t)
	table := mustTable(t, "Pricelist")
	conversion, err := converter.Convert(context.Background(), table, RawFile{
		Table:  "Pricelist",
		Path:   filepath.Join(dir, "Pricelist.csv"),
		Format: FormatCSV,
	}, dir)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if err := VerifyParquet(conversion.Path, table, 5); err == nil {
		t.Fatal("VerifyParquet() expected row count error")
	}
	if err := VerifyParquet(conversion.Path, mustTable(t, "Customer"), 2); err == nil {
		t.Fatal("VerifyParquet() expected missing column error")
	}
}

func TestReaderExprRejectsUnknownFormat(t *testing.T) {
	if _, err := readerExpr(RawFile{Table: "Customer", Path: "x.json", Format: "json"}); err == nil {
		t.Fatal("readerExpr() expected error")
	}
}
