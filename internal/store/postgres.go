package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fsa-maps/internal/db"
	"github.com/sells-group/fsa-maps/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership of
// the pool's lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id              BIGINT PRIMARY KEY,
	name            TEXT NOT NULL,
	address_1       TEXT,
	address_2       TEXT,
	address_3       TEXT,
	address_4       TEXT,
	postcode        TEXT,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	local_authority TEXT,
	pending         TEXT,
	date            TEXT,
	scheme          TEXT,
	rating_key      TEXT,
	rating_value    TEXT
);

CREATE TABLE IF NOT EXISTS metadata (
	id                BIGSERIAL PRIMARY KEY,
	download_date     TIMESTAMPTZ NOT NULL,
	source            TEXT NOT NULL,
	csv_path          TEXT NOT NULL,
	total_records     BIGINT NOT NULL DEFAULT 0,
	imported_records  BIGINT NOT NULL DEFAULT 0,
	skipped_records   BIGINT NOT NULL DEFAULT 0,
	import_duration   DOUBLE PRECISION,
	csv_last_modified TIMESTAMPTZ,
	is_current        BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_businesses_name ON businesses(name);
CREATE INDEX IF NOT EXISTS idx_businesses_lat_lng ON businesses(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_businesses_rating_value ON businesses(rating_value);
CREATE UNIQUE INDEX IF NOT EXISTS idx_metadata_one_current ON metadata(is_current) WHERE is_current;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PrepareRefresh(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin prepare")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE metadata SET is_current = false WHERE is_current`); err != nil {
		return eris.Wrap(err, "postgres: clear current metadata")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM businesses`); err != nil {
		return eris.Wrap(err, "postgres: delete businesses")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit prepare")
}

// InsertBusinesses writes one batch with COPY inside its own transaction.
func (s *PostgresStore) InsertBusinesses(ctx context.Context, batch []model.Business) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([][]any, len(batch))
	for i, b := range batch {
		rows[i] = b.Values()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.CopyFrom(ctx, tx, "businesses", model.BusinessColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: copy businesses")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

func (s *PostgresStore) InsertMetadata(ctx context.Context, m *model.Metadata) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin metadata")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if m.IsCurrent {
		if _, err := tx.Exec(ctx, `UPDATE metadata SET is_current = false WHERE is_current`); err != nil {
			return eris.Wrap(err, "postgres: demote current metadata")
		}
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO metadata (download_date, source, csv_path, total_records, imported_records,
			skipped_records, import_duration, csv_last_modified, is_current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		m.DownloadDate, string(m.Source), m.CSVPath, m.TotalRecords, m.ImportedRecords,
		m.SkippedRecords, m.ImportDuration, m.CSVLastModified, m.IsCurrent,
	).Scan(&id)
	if err != nil {
		return eris.Wrap(err, "postgres: insert metadata")
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit metadata")
	}
	m.ID = id
	return nil
}

func (s *PostgresStore) FindBusinesses(ctx context.Context, f BusinessFilter) ([]model.Business, error) {
	query := businessSelect + ` WHERE latitude >= $1 AND latitude <= $2 AND longitude >= $3 AND longitude <= $4`
	args := []any{f.minLat(), f.maxLat(), f.minLng(), f.maxLng()}

	if len(f.Ratings) > 0 {
		query += ` AND rating_value = ANY($5)`
		args = append(args, f.Ratings)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find businesses")
	}
	defer rows.Close()

	businesses := []model.Business{}
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan business")
		}
		businesses = append(businesses, b)
	}
	return businesses, eris.Wrap(rows.Err(), "postgres: find businesses iterate")
}

func (s *PostgresStore) CurrentMetadata(ctx context.Context) (*model.Metadata, error) {
	row := s.pool.QueryRow(ctx, metadataSelect+` WHERE is_current ORDER BY id DESC LIMIT 1`)
	m, err := scanPostgresMetadata(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current metadata")
	}
	return m, nil
}

func (s *PostgresStore) MetadataHistory(ctx context.Context, limit int) ([]model.Metadata, error) {
	rows, err := s.pool.Query(ctx, metadataSelect+` ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: metadata history")
	}
	defer rows.Close()

	history := []model.Metadata{}
	for rows.Next() {
		m, err := scanPostgresMetadata(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan metadata")
		}
		history = append(history, *m)
	}
	return history, eris.Wrap(rows.Err(), "postgres: metadata history iterate")
}

func scanPostgresMetadata(row scannable) (*model.Metadata, error) {
	var m model.Metadata
	var source string
	err := row.Scan(&m.ID, &m.DownloadDate, &source, &m.CSVPath, &m.TotalRecords, &m.ImportedRecords,
		&m.SkippedRecords, &m.ImportDuration, &m.CSVLastModified, &m.IsCurrent)
	if err != nil {
		return nil, err
	}
	m.Source = model.Source(source)
	return &m, nil
}
