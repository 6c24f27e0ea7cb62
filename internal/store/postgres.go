package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmgilman/go/errors"

	"ocm.software/open-component-model/pluginhub/internal/failure"
)

const schema = `CREATE TABLE IF NOT EXISTS records (
	kind       TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	version    BIGINT      NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	data       JSONB       NOT NULL,
	PRIMARY KEY (kind, name)
)`

// PostgresOptions configure the connection pool.
type PostgresOptions struct {
	DSN      string
	MaxConns int32
}

// Postgres stores records in a single PostgreSQL table.
type Postgres struct {
	DB *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// Connect opens a connection pool and makes sure the schema exists.
func Connect(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	cfg.MaxConns = 10
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	p := &Postgres{DB: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the records table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.DB.Close()
}

func (p *Postgres) Get(ctx context.Context, kind, name string) (Record, error) {
	rec := Record{Kind: kind, Name: name}
	err := p.DB.QueryRow(ctx, `SELECT version,created_at,data FROM records WHERE kind=$1 AND name=$2`, kind, name).
		Scan(&rec.Version, &rec.CreatedAt, &rec.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, failure.NotFound(kind, name)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, errors.CodeDatabase, "failed to get %s %q", kind, name)
	}
	return rec, nil
}

func (p *Postgres) List(ctx context.Context, kind string) ([]Record, error) {
	rows, err := p.DB.Query(ctx, `SELECT name,version,created_at,data FROM records WHERE kind=$1 ORDER BY name ASC`, kind)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to list %s", kind)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{Kind: kind}
		if err := rows.Scan(&rec.Name, &rec.Version, &rec.CreatedAt, &rec.Data); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to scan %s", kind)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Create(ctx context.Context, rec Record) (Record, error) {
	err := p.DB.QueryRow(ctx,
		`INSERT INTO records(kind,name,version,data) VALUES($1,$2,1,$3)
		 ON CONFLICT (kind,name) DO NOTHING
		 RETURNING version,created_at`,
		rec.Kind, rec.Name, rec.Data).
		Scan(&rec.Version, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, failure.AlreadyExists(rec.Kind, rec.Name)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, errors.CodeDatabase, "failed to create %s %q", rec.Kind, rec.Name)
	}
	return rec, nil
}

func (p *Postgres) Update(ctx context.Context, rec Record) (Record, error) {
	expected := rec.Version
	err := p.DB.QueryRow(ctx,
		`UPDATE records SET data=$3, version=version+1
		 WHERE kind=$1 AND name=$2 AND version=$4
		 RETURNING version,created_at`,
		rec.Kind, rec.Name, rec.Data, expected).
		Scan(&rec.Version, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// either the record is gone or its version moved on
		if _, getErr := p.Get(ctx, rec.Kind, rec.Name); getErr != nil {
			return Record{}, getErr
		}
		return Record{}, failure.Conflict(rec.Kind, rec.Name, expected)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, errors.CodeDatabase, "failed to update %s %q", rec.Kind, rec.Name)
	}
	return rec, nil
}
