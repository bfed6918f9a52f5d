package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fsa-maps/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied by the driver to every new connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteDSN appends a _pragma parameter for each of sqlitePragmas that dsn
// does not already set.
func sqliteDSN(dsn string) string {
	var params []string
	for _, p := range sqlitePragmas {
		name := p[:strings.IndexByte(p, '(')]
		if strings.Contains(dsn, "_pragma="+name+"(") {
			continue
		}
		params = append(params, "_pragma="+p)
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// NewSQLite opens a SQLite database at the given path. Every pooled
// connection runs in WAL mode with a busy timeout so API readers are not
// blocked by a running refresh.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: connect")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id              INTEGER PRIMARY KEY,
	name            TEXT NOT NULL,
	address_1       TEXT,
	address_2       TEXT,
	address_3       TEXT,
	address_4       TEXT,
	postcode        TEXT,
	latitude        REAL NOT NULL,
	longitude       REAL NOT NULL,
	local_authority TEXT,
	pending         TEXT,
	date            TEXT,
	scheme          TEXT,
	rating_key      TEXT,
	rating_value    TEXT
);

CREATE TABLE IF NOT EXISTS metadata (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	download_date     TEXT NOT NULL,
	source            TEXT NOT NULL,
	csv_path          TEXT NOT NULL,
	total_records     INTEGER NOT NULL DEFAULT 0,
	imported_records  INTEGER NOT NULL DEFAULT 0,
	skipped_records   INTEGER NOT NULL DEFAULT 0,
	import_duration   REAL,
	csv_last_modified TEXT,
	is_current        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_businesses_name ON businesses(name);
CREATE INDEX IF NOT EXISTS idx_businesses_lat_lng ON businesses(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_businesses_rating_value ON businesses(rating_value);
CREATE INDEX IF NOT EXISTS idx_metadata_is_current ON metadata(is_current);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PrepareRefresh clears the current flag and empties the businesses table in
// one transaction.
func (s *SQLiteStore) PrepareRefresh(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin prepare")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE metadata SET is_current = 0 WHERE is_current = 1`); err != nil {
		return eris.Wrap(err, "sqlite: clear current metadata")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM businesses`); err != nil {
		return eris.Wrap(err, "sqlite: delete businesses")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit prepare")
}

func (s *SQLiteStore) InsertBusinesses(ctx context.Context, batch []model.Business) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO businesses (`+strings.Join(model.BusinessColumns, ", ")+`) VALUES (`+placeholders(len(model.BusinessColumns))+`)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert business")
	}
	defer stmt.Close() //nolint:errcheck

	for _, b := range batch {
		if _, err := stmt.ExecContext(ctx, b.Values()...); err != nil {
			return eris.Wrapf(err, "sqlite: insert business %d", b.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

// InsertMetadata writes m and, when m is current, demotes any other current
// row in the same transaction. m.ID is set from the generated key.
func (s *SQLiteStore) InsertMetadata(ctx context.Context, m *model.Metadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin metadata")
	}
	defer tx.Rollback() //nolint:errcheck

	if m.IsCurrent {
		if _, err := tx.ExecContext(ctx, `UPDATE metadata SET is_current = 0 WHERE is_current = 1`); err != nil {
			return eris.Wrap(err, "sqlite: demote current metadata")
		}
	}

	var lastModified *string
	if m.CSVLastModified != nil {
		v := formatTime(*m.CSVLastModified)
		lastModified = &v
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (download_date, source, csv_path, total_records, imported_records,
			skipped_records, import_duration, csv_last_modified, is_current)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(m.DownloadDate), string(m.Source), m.CSVPath, m.TotalRecords, m.ImportedRecords,
		m.SkippedRecords, m.ImportDuration, lastModified, m.IsCurrent,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert metadata")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: metadata id")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit metadata")
	}
	m.ID = id
	return nil
}

func (s *SQLiteStore) FindBusinesses(ctx context.Context, f BusinessFilter) ([]model.Business, error) {
	query := businessSelect + ` WHERE latitude >= ? AND latitude <= ? AND longitude >= ? AND longitude <= ?`
	args := []any{f.minLat(), f.maxLat(), f.minLng(), f.maxLng()}

	if len(f.Ratings) > 0 {
		query += ` AND rating_value IN (` + placeholders(len(f.Ratings)) + `)`
		for _, r := range f.Ratings {
			args = append(args, r)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find businesses")
	}
	defer rows.Close()

	businesses := []model.Business{}
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan business")
		}
		businesses = append(businesses, b)
	}
	return businesses, eris.Wrap(rows.Err(), "sqlite: find businesses iterate")
}

const metadataSelect = `SELECT id, download_date, source, csv_path, total_records, imported_records,
	skipped_records, import_duration, csv_last_modified, is_current FROM metadata`

func (s *SQLiteStore) CurrentMetadata(ctx context.Context) (*model.Metadata, error) {
	row := s.db.QueryRowContext(ctx, metadataSelect+` WHERE is_current = 1 ORDER BY id DESC LIMIT 1`)
	m, err := scanSQLiteMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current metadata")
	}
	return m, nil
}

func (s *SQLiteStore) MetadataHistory(ctx context.Context, limit int) ([]model.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, metadataSelect+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: metadata history")
	}
	defer rows.Close()

	history := []model.Metadata{}
	for rows.Next() {
		m, err := scanSQLiteMetadata(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metadata")
		}
		history = append(history, *m)
	}
	return history, eris.Wrap(rows.Err(), "sqlite: metadata history iterate")
}

// helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func scanSQLiteMetadata(row scannable) (*model.Metadata, error) {
	var m model.Metadata
	var downloadDate, source string
	var lastModified sql.NullString

	err := row.Scan(&m.ID, &downloadDate, &source, &m.CSVPath, &m.TotalRecords, &m.ImportedRecords,
		&m.SkippedRecords, &m.ImportDuration, &lastModified, &m.IsCurrent)
	if err != nil {
		return nil, err
	}

	m.Source = model.Source(source)
	m.DownloadDate, err = time.Parse(time.RFC3339Nano, downloadDate)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse download_date %q", downloadDate)
	}
	if lastModified.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastModified.String)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse csv_last_modified %q", lastModified.String)
		}
		m.CSVLastModified = &t
	}
	return &m, nil
}
