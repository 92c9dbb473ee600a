package holdings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/arkholdings/internal/ticker"
)

// PostgresOptions configures the connection pool of a PostgresStore.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// PostgresStore serves datasets from a holdings table keyed by fund. It is an
// alternative to the parquet corpus for deployments that ingest into Postgres.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sqlx.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(db, opts.QueryTimeout), nil
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) Backend() string { return "postgres" }

// Close releases the pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

type pgRow struct {
	Date        sql.NullTime    `db:"date"`
	Ticker      sql.NullString  `db:"ticker"`
	Cusip       sql.NullString  `db:"cusip"`
	Company     sql.NullString  `db:"company"`
	MarketValue sql.NullInt64   `db:"market_value"`
	Shares      sql.NullInt64   `db:"shares"`
	SharePrice  sql.NullFloat64 `db:"share_price"`
	Weight      sql.NullFloat64 `db:"weight"`
}

const loadQuery = `
		SELECT date, ticker, cusip, company, market_value, shares, share_price, weight
		FROM holdings
		WHERE fund = $1
		ORDER BY id`

// Load selects every row of fund t in insertion order.
func (s *PostgresStore) Load(ctx context.Context, t ticker.Ticker) (*Dataset, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("load: %w: %q", ticker.ErrUnknownTicker, string(t))
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []pgRow
	if err := s.db.SelectContext(ctx, &rows, loadQuery, t.String()); err != nil {
		return nil, &LoadError{Op: "query", Ticker: t, Err: err}
	}
	if len(rows) == 0 {
		return nil, notFound(t, "table holdings")
	}

	ds := &Dataset{Ticker: t, Rows: make([]Row, len(rows))}
	for i, r := range rows {
		ds.Rows[i] = r.toRow()
	}
	return ds, nil
}

// Inventory lists the distinct funds present in the table.
func (s *PostgresStore) Inventory(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var funds []string
	if err := s.db.SelectContext(ctx, &funds, `SELECT DISTINCT fund FROM holdings ORDER BY fund`); err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}
	return funds, nil
}

// Check pings the database.
func (s *PostgresStore) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (r pgRow) toRow() Row {
	var row Row
	if r.Date.Valid {
		d := NewDate(r.Date.Time.UTC().Date())
		row.Date = &d
	}
	row.Ticker = nullString(r.Ticker)
	row.Cusip = nullString(r.Cusip)
	row.Company = nullString(r.Company)
	if r.MarketValue.Valid {
		v := r.MarketValue.Int64
		row.MarketValue = &v
	}
	if r.Shares.Valid {
		v := r.Shares.Int64
		row.Shares = &v
	}
	if r.SharePrice.Valid {
		v := r.SharePrice.Float64
		row.SharePrice = &v
	}
	if r.Weight.Valid {
		v := r.Weight.Float64
		row.Weight = &v
	}
	return row
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
