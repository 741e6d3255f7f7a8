// Package sqlitestore keeps document collections in an embedded SQLite file.
// Documents are stored as JSON text and filtered in process.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

// Database is a SQLite file holding one table per collection.
type Database struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	created map[string]bool
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer connection keeps read-modify-write transactions serial.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &Database{db: db, path: path, created: make(map[string]bool)}, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

func (d *Database) Collection(name string) docstore.Collection {
	return &Collection{db: d, name: name, table: quoteIdent(name)}
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// EnsureCollections creates the tables backing the named collections.
func (d *Database) EnsureCollections(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := d.ensure(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) ensure(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.created[name] {
		return nil
	}
	stmt := `CREATE TABLE IF NOT EXISTS ` + quoteIdent(name) + ` (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    doc TEXT NOT NULL
)`
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	d.created[name] = true
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Collection is one SQLite table.
type Collection struct {
	db    *Database
	name  string
	table string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Count(ctx context.Context) (int64, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return 0, err
	}
	var n int64
	if err := c.db.db.QueryRowContext(ctx, `SELECT count(*) FROM `+c.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

type row struct {
	seq int64
	key string
	doc docstore.Document
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// scan walks the table in insertion order and returns matching rows, at most
// limit of them when limit > 0.
func (c *Collection) scan(ctx context.Context, db queryer, q docstore.Query, limit int) ([]row, error) {
	rows, err := db.QueryContext(ctx, `SELECT seq, key, doc FROM `+c.table+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.name, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			r    row
			text string
		)
		if err := rows.Scan(&r.seq, &r.key, &text); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.name, err)
		}
		r.doc, err = docstore.DecodeDocument([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.name, err)
		}
		if !docstore.Matches(r.doc, q) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c.name, err)
	}
	return out, nil
}

func (c *Collection) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return nil, err
	}
	rows, err := c.scan(ctx, c.db.db, q, 0)
	if err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.doc)
	}
	return docs, nil
}

func (c *Collection) FindOne(ctx context.Context, q docstore.Query) (docstore.Document, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return nil, err
	}
	rows, err := c.scan(ctx, c.db.db, q, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0].doc, nil
}

func (c *Collection) Insert(ctx context.Context, key string, doc docstore.Document) (docstore.Document, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return nil, err
	}
	data, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := c.db.db.ExecContext(ctx, `INSERT INTO `+c.table+` (key, doc) VALUES (?, ?)`, key, string(data)); err != nil {
		return nil, c.writeError("insert into", err)
	}
	return doc, nil
}

func (c *Collection) FindOneAndReplace(ctx context.Context, q docstore.Query, key string, doc docstore.Document, opts docstore.ReplaceOptions) (docstore.ReplaceResult, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return docstore.ReplaceResult{}, err
	}
	data, err := doc.Encode()
	if err != nil {
		return docstore.ReplaceResult{}, err
	}

	tx, err := c.db.db.BeginTx(ctx, nil)
	if err != nil {
		return docstore.ReplaceResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := c.scan(ctx, tx, q, 1)
	if err != nil {
		return docstore.ReplaceResult{}, err
	}

	var result docstore.ReplaceResult
	switch {
	case len(rows) == 1:
		if _, err := tx.ExecContext(ctx, `UPDATE `+c.table+` SET doc = ? WHERE seq = ?`, string(data), rows[0].seq); err != nil {
			return docstore.ReplaceResult{}, fmt.Errorf("replace in %s: %w", c.name, err)
		}
		result = docstore.ReplaceResult{Previous: rows[0].doc, Matched: true}
	case opts.Upsert:
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+c.table+` (key, doc) VALUES (?, ?)`, key, string(data)); err != nil {
			return docstore.ReplaceResult{}, c.writeError("upsert into", err)
		}
		result = docstore.ReplaceResult{Inserted: true}
	default:
		return docstore.ReplaceResult{}, nil
	}

	if err := tx.Commit(); err != nil {
		return docstore.ReplaceResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (c *Collection) Delete(ctx context.Context, q docstore.Query) (int64, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return 0, err
	}
	tx, err := c.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := c.scan(ctx, tx, q, 0)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, r := range rows {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE seq = ?`, r.seq)
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", c.name, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}

func (c *Collection) writeError(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return docstore.ErrDuplicateKey
	}
	return fmt.Errorf("%s %s: %w", op, c.name, err)
}
