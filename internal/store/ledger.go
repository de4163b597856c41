package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// Ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const schema = `CREATE TABLE IF NOT EXISTS mosaic_commits (
	group_key    TEXT PRIMARY KEY,
	product      TEXT NOT NULL,
	valid_time   BIGINT NOT NULL,
	levels       INTEGER NOT NULL,
	committed_at BIGINT NOT NULL
)`

// Ledger records committed group keys in a SQL database. Claiming a key and
// writing the group happen inside one transaction, which also serializes
// writers from other processes sharing the store.
type Ledger struct {
	db     *sql.DB
	driver string
}

// LedgerEntry is one committed group key.
type LedgerEntry struct {
	Key         string
	Product     string
	ValidTime   time.Time
	Levels      int
	CommittedAt time.Time
}

// OpenLedger opens and migrates the ledger database. SQLite DSNs that are
// plain paths get their parent directory created and a busy timeout set.
func OpenLedger(ctx context.Context, driver, dsn string) (*Ledger, error) {
	switch driver {
	case DriverSQLite:
		if dsn == ":memory:" {
			break
		}
		if !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create ledger dir: %w", err)
			}
			dsn = "file:" + dsn
		}
		if !strings.Contains(dsn, "busy_timeout") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(10000)"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer at a time.
		db.SetMaxOpenConns(1)
	}
	l := &Ledger{db: db, driver: driver}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping ledger: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Claim is an open ledger transaction holding one group key.
type Claim struct {
	tx  *sql.Tx
	Key string
}

// Commit makes the claim durable.
func (c *Claim) Commit() error { return c.tx.Commit() }

// Rollback releases the claim.
func (c *Claim) Rollback() error { return c.tx.Rollback() }

// Claim begins a transaction and inserts the dataset key. A key that is
// already present yields *domain.StoreConflictError. On Postgres the
// transaction also takes an advisory lock on the product so appends to one
// group are serialized across processes.
func (l *Ledger) Claim(ctx context.Context, ds domain.Dataset) (*Claim, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	if l.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ds.Name); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("lock group %s: %w", ds.Name, err)
		}
	}
	res, err := tx.ExecContext(ctx, l.rebind(
		`INSERT INTO mosaic_commits (group_key, product, valid_time, levels, committed_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (group_key) DO NOTHING`),
		ds.Key(), ds.Name, ds.ValidTime.Unix(), len(ds.Heights), domain.Now().Unix())
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claim %s: %w", ds.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if n == 0 {
		tx.Rollback()
		return nil, &domain.StoreConflictError{Key: ds.Key()}
	}
	return &Claim{tx: tx, Key: ds.Key()}, nil
}

// Entries lists the committed keys of a product ordered by valid time.
func (l *Ledger) Entries(ctx context.Context, product string) ([]LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(
		`SELECT group_key, product, valid_time, levels, committed_at
		 FROM mosaic_commits WHERE product = ? ORDER BY valid_time, group_key`), product)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e         LedgerEntry
			vt, ctime int64
		)
		if err := rows.Scan(&e.Key, &e.Product, &vt, &e.Levels, &ctime); err != nil {
			return nil, err
		}
		e.ValidTime = time.Unix(vt, 0).UTC()
		e.CommittedAt = time.Unix(ctime, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders as $n for Postgres.
func (l *Ledger) rebind(query string) string {
	if l.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
