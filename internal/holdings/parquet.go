package holdings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/sawpanic/arkholdings/internal/ticker"
)

const (
	parquetExt       = ".parquet"
	parquetBatchRows = 512
)

// ParquetStore reads one <TICKER>.parquet file per fund from Dir.
type ParquetStore struct {
	Dir string
}

// NewParquetStore returns a store rooted at dir.
func NewParquetStore(dir string) *ParquetStore {
	return &ParquetStore{Dir: dir}
}

func (s *ParquetStore) Backend() string { return "parquet" }

// Path returns the dataset file for t.
func (s *ParquetStore) Path(t ticker.Ticker) string {
	return filepath.Join(s.Dir, t.String()+parquetExt)
}

// Check verifies that Dir exists and is a directory.
func (s *ParquetStore) Check(ctx context.Context) error {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return fmt.Errorf("dataset directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dataset directory %s is not a directory", s.Dir)
	}
	return nil
}

// Inventory lists the dataset names present in Dir, sorted.
func (s *ParquetStore) Inventory(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), parquetExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), parquetExt))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads and decodes the whole dataset for t.
func (s *ParquetStore) Load(ctx context.Context, t ticker.Ticker) (*Dataset, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("load: %w: %q", ticker.ErrUnknownTicker, string(t))
	}
	path := s.Path(t)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(t, path)
		}
		return nil, &LoadError{Op: "open", Ticker: t, Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &LoadError{Op: "stat", Ticker: t, Path: path, Err: err}
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, &LoadError{Op: "decode", Ticker: t, Path: path, Err: err}
	}

	cols, err := resolveColumns(pf.Schema())
	if err != nil {
		return nil, &LoadError{Op: "schema", Ticker: t, Path: path, Err: err}
	}

	ds := &Dataset{Ticker: t, Rows: make([]Row, 0, pf.NumRows())}
	for _, rg := range pf.RowGroups() {
		if err := readRowGroup(ctx, rg, cols, ds); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &LoadError{Op: "read", Ticker: t, Path: path, Err: err}
		}
	}
	return ds, nil
}

// resolveColumns maps leaf column indexes to schema column names and fails if
// any required column is absent.
func resolveColumns(schema *parquet.Schema) (map[int]string, error) {
	cols := make(map[int]string, len(Columns))
	for _, name := range Columns {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		cols[leaf.ColumnIndex] = name
	}
	return cols, nil
}

func readRowGroup(ctx context.Context, rg parquet.RowGroup, cols map[int]string, ds *Dataset) error {
	rows := rg.Rows()
	defer rows.Close()

	buf := make([]parquet.Row, parquetBatchRows)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := rows.ReadRows(buf)
		for _, values := range buf[:n] {
			ds.Rows = append(ds.Rows, decodeRow(values, cols))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func decodeRow(values parquet.Row, cols map[int]string) Row {
	var row Row
	for _, v := range values {
		name, ok := cols[v.Column()]
		if !ok || v.IsNull() {
			continue
		}
		switch name {
		case ColDate:
			row.Date = decodeDate(v)
		case ColTicker:
			row.Ticker = decodeString(v)
		case ColCusip:
			row.Cusip = decodeString(v)
		case ColCompany:
			row.Company = decodeString(v)
		case ColMarketValue:
			row.MarketValue = decodeInt(v)
		case ColShares:
			row.Shares = decodeInt(v)
		case ColSharePrice:
			row.SharePrice = decodeFloat(v)
		case ColWeight:
			row.Weight = decodeFloat(v)
		}
	}
	return row
}

// decodeDate accepts DATE (days since epoch) and ISO strings. Anything it
// cannot read becomes a null date.
func decodeDate(v parquet.Value) *Date {
	switch v.Kind() {
	case parquet.Int32:
		d := DateFromDays(v.Int32())
		return &d
	case parquet.ByteArray:
		d, err := ParseDate(string(v.ByteArray()))
		if err != nil {
			return nil
		}
		return &d
	}
	return nil
}

func decodeString(v parquet.Value) *string {
	if v.Kind() != parquet.ByteArray {
		return nil
	}
	s := string(v.ByteArray())
	return &s
}

func decodeInt(v parquet.Value) *int64 {
	var i int64
	switch v.Kind() {
	case parquet.Int64:
		i = v.Int64()
	case parquet.Int32:
		i = int64(v.Int32())
	default:
		return nil
	}
	return &i
}

func decodeFloat(v parquet.Value) *float64 {
	var f float64
	switch v.Kind() {
	case parquet.Double:
		f = v.Double()
	case parquet.Float:
		f = float64(v.Float())
	default:
		return nil
	}
	return &f
}
