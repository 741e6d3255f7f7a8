// Package pgstore keeps document collections in Postgres JSONB tables.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/fhirstore/internal/platform/docstore"
)

const uniqueViolation = "23505"

// Database hands out JSONB-backed collections sharing one pool.
type Database struct {
	pool *pgxpool.Pool
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Database {
	return &Database{pool: pool}
}

func (db *Database) Collection(name string) docstore.Collection {
	return &Collection{pool: db.pool, name: name, table: pgx.Identifier{name}.Sanitize()}
}

func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *Database) Close() error {
	db.pool.Close()
	return nil
}

// Pool exposes the underlying pool for health reporting.
func (db *Database) Pool() *pgxpool.Pool {
	return db.pool
}

// EnsureCollections creates the tables backing the named collections.
func (db *Database) EnsureCollections(ctx context.Context, names ...string) error {
	for _, name := range names {
		for _, stmt := range createStatements(name) {
			if _, err := db.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create collection %s: %w", name, err)
			}
		}
	}
	return nil
}

func createStatements(name string) []string {
	table := pgx.Identifier{name}.Sanitize()
	index := pgx.Identifier{name + "_doc_idx"}.Sanitize()
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
    key TEXT PRIMARY KEY,
    seq BIGSERIAL,
    doc JSONB NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + table + ` USING GIN (doc jsonb_path_ops)`,
	}
}

// Collection is one JSONB table.
type Collection struct {
	pool  *pgxpool.Pool
	name  string
	table string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.pool.QueryRow(ctx, `SELECT count(*) FROM `+c.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

func (c *Collection) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := selectSQL(c.table, "doc", q, "")
	if err != nil {
		return nil, err
	}
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	defer rows.Close()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		var doc docstore.Document
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.name, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c.name, err)
	}
	return docs, nil
}

func (c *Collection) FindOne(ctx context.Context, q docstore.Query) (docstore.Document, error) {
	sql, args, err := selectSQL(c.table, "doc", q, " LIMIT 1")
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	err = c.pool.QueryRow(ctx, sql, args...).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find one in %s: %w", c.name, err)
	}
	return doc, nil
}

func (c *Collection) Insert(ctx context.Context, key string, doc docstore.Document) (docstore.Document, error) {
	_, err := c.pool.Exec(ctx, `INSERT INTO `+c.table+` (key, doc) VALUES ($1, $2)`, key, map[string]interface{}(doc))
	if err != nil {
		return nil, c.writeError("insert into", err)
	}
	return doc, nil
}

func (c *Collection) FindOneAndReplace(ctx context.Context, q docstore.Query, key string, doc docstore.Document, opts docstore.ReplaceOptions) (docstore.ReplaceResult, error) {
	sql, args, err := selectSQL(c.table, "key, doc", q, " LIMIT 1 FOR UPDATE")
	if err != nil {
		return docstore.ReplaceResult{}, err
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return docstore.ReplaceResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		matchedKey string
		previous   docstore.Document
	)
	err = tx.QueryRow(ctx, sql, args...).Scan(&matchedKey, &previous)
	var result docstore.ReplaceResult
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx, `UPDATE `+c.table+` SET doc = $2 WHERE key = $1`, matchedKey, map[string]interface{}(doc)); err != nil {
			return docstore.ReplaceResult{}, fmt.Errorf("replace in %s: %w", c.name, err)
		}
		result = docstore.ReplaceResult{Previous: previous, Matched: true}
	case errors.Is(err, pgx.ErrNoRows):
		if !opts.Upsert {
			return docstore.ReplaceResult{}, nil
		}
		if _, err := tx.Exec(ctx, `INSERT INTO `+c.table+` (key, doc) VALUES ($1, $2)`, key, map[string]interface{}(doc)); err != nil {
			return docstore.ReplaceResult{}, c.writeError("upsert into", err)
		}
		result = docstore.ReplaceResult{Inserted: true}
	default:
		return docstore.ReplaceResult{}, fmt.Errorf("lock in %s: %w", c.name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return docstore.ReplaceResult{}, c.writeError("commit", err)
	}
	return result, nil
}

func (c *Collection) Delete(ctx context.Context, q docstore.Query) (int64, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}
	tag, err := c.pool.Exec(ctx, `DELETE FROM `+c.table+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", c.name, err)
	}
	return tag.RowsAffected(), nil
}

func (c *Collection) writeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return docstore.ErrDuplicateKey
	}
	return fmt.Errorf("%s %s: %w", op, c.name, err)
}

func selectSQL(table, columns string, q docstore.Query, suffix string) (string, []interface{}, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return "", nil, err
	}
	return `SELECT ` + columns + ` FROM ` + table + where + ` ORDER BY seq` + suffix, args, nil
}

func whereClause(q docstore.Query) (string, []interface{}, error) {
	pred, err := Translate(q)
	if err != nil {
		return "", nil, err
	}
	if pred.Path == "" {
		return "", nil, nil
	}
	vars, err := pred.VarsJSON()
	if err != nil {
		return "", nil, fmt.Errorf("encode path variables: %w", err)
	}
	return ` WHERE jsonb_path_exists(doc, $1::jsonpath, $2::jsonb)`, []interface{}{pred.Path, string(vars)}, nil
}
