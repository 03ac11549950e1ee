package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cholette-research/tract-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	scheme     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	tracts     INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tracts (
	geoid      TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	attributes TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS distances (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	geoid                TEXT NOT NULL,
	grocery_distance     REAL NOT NULL,
	nearest_grocery_id   TEXT NOT NULL DEFAULT '',
	transit_distance     REAL NOT NULL,
	nearest_transit_id   TEXT NOT NULL DEFAULT '',
	transit_stops_nearby INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS classifications (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	geoid        TEXT NOT NULL,
	scheme       TEXT NOT NULL,
	label        TEXT NOT NULL,
	matched_rule TEXT NOT NULL DEFAULT '',
	details      TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS index_rows (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	geoid      TEXT NOT NULL,
	score      REAL NOT NULL,
	quintile   INTEGER NOT NULL,
	raw        TEXT NOT NULL DEFAULT '{}',
	normalized TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS exclusions (
	run_id TEXT NOT NULL REFERENCES runs(id),
	stage  TEXT NOT NULL,
	geoid  TEXT NOT NULL,
	reason TEXT NOT NULL,
	field  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, stage, geoid)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_scheme ON runs(scheme);
CREATE INDEX IF NOT EXISTS idx_classifications_label ON classifications(label);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, scheme string) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scheme, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, scheme, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.AnalysisRun{
		ID:        id,
		Scheme:    scheme,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, tracts int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, tracts = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), tracts, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scheme, status, tracts, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, scheme, status, tracts, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Scheme != "" {
		query += ` AND scheme = ?`
		args = append(args, filter.Scheme)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer func() { _ = rows.Close() }()

	var runs []model.AnalysisRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveTracts(ctx context.Context, tracts []model.Tract) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save tracts")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tracts (geoid, name, latitude, longitude, attributes) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (geoid) DO UPDATE SET
		   name = excluded.name, latitude = excluded.latitude,
		   longitude = excluded.longitude, attributes = excluded.attributes`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save tracts")
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range tracts {
		attrs, err := json.Marshal(t.Attributes)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal attributes %s", t.GEOID)
		}
		if _, err := stmt.ExecContext(ctx, t.GEOID, t.Name, t.Latitude, t.Longitude, string(attrs)); err != nil {
			return eris.Wrapf(err, "sqlite: save tract %s", t.GEOID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save tracts")
}

func (s *SQLiteStore) ListTracts(ctx context.Context) ([]model.Tract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, name, latitude, longitude, attributes FROM tracts ORDER BY geoid`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tracts")
	}
	defer func() { _ = rows.Close() }()

	var tracts []model.Tract
	for rows.Next() {
		var t model.Tract
		var attrs string
		if err := rows.Scan(&t.GEOID, &t.Name, &t.Latitude, &t.Longitude, &attrs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tract")
		}
		if err := json.Unmarshal([]byte(attrs), &t.Attributes); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal attributes %s", t.GEOID)
		}
		tracts = append(tracts, t)
	}
	return tracts, eris.Wrap(rows.Err(), "sqlite: list tracts iterate")
}

func (s *SQLiteStore) SaveDistances(ctx context.Context, runID string, recs []model.DistanceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save distances")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO distances (run_id, geoid, grocery_distance, nearest_grocery_id,
		   transit_distance, nearest_transit_id, transit_stops_nearby)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save distances")
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, runID, r.GEOID, r.GroceryDistance, r.NearestGroceryID,
			r.TransitDistance, r.NearestTransitID, r.TransitStopsNearby); err != nil {
			return eris.Wrapf(err, "sqlite: save distance %s", r.GEOID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save distances")
}

func (s *SQLiteStore) ListDistances(ctx context.Context, runID string) ([]model.DistanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, grocery_distance, nearest_grocery_id, transit_distance,
		   nearest_transit_id, transit_stops_nearby
		 FROM distances WHERE run_id = ? ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list distances")
	}
	defer func() { _ = rows.Close() }()

	var recs []model.DistanceRecord
	for rows.Next() {
		var r model.DistanceRecord
		if err := rows.Scan(&r.GEOID, &r.GroceryDistance, &r.NearestGroceryID,
			&r.TransitDistance, &r.NearestTransitID, &r.TransitStopsNearby); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan distance")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list distances iterate")
}

func (s *SQLiteStore) SaveClassifications(ctx context.Context, runID string, rows []model.Classification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save classifications")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO classifications (run_id, geoid, scheme, label, matched_rule, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save classifications")
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range rows {
		details, err := json.Marshal(map[string]any{
			"grocery_distance_miles": c.GroceryDistance,
			"transit_distance_miles": c.TransitDistance,
			"transit_stops_nearby":   c.TransitStopsNearby,
		})
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal details %s", c.GEOID)
		}
		if _, err := stmt.ExecContext(ctx, runID, c.GEOID, c.Scheme, c.Label, c.Matched, string(details)); err != nil {
			return eris.Wrapf(err, "sqlite: save classification %s", c.GEOID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save classifications")
}

func (s *SQLiteStore) ListClassifications(ctx context.Context, runID string) ([]model.Classification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, scheme, label, matched_rule, details
		 FROM classifications WHERE run_id = ? ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list classifications")
	}
	defer func() { _ = rows.Close() }()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var details string
		if err := rows.Scan(&c.GEOID, &c.Scheme, &c.Label, &c.Matched, &details); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan classification")
		}
		var d struct {
			Grocery float64 `json:"grocery_distance_miles"`
			Transit float64 `json:"transit_distance_miles"`
			Stops   int     `json:"transit_stops_nearby"`
		}
		if err := json.Unmarshal([]byte(details), &d); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal details %s", c.GEOID)
		}
		c.GroceryDistance = d.Grocery
		c.TransitDistance = d.Transit
		c.TransitStopsNearby = d.Stops
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list classifications iterate")
}

func (s *SQLiteStore) SaveIndexRows(ctx context.Context, runID string, rows []model.VulnerabilityRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save index rows")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO index_rows (run_id, geoid, score, quintile, raw, normalized)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save index rows")
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		raw, err := json.Marshal(r.Raw)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal raw %s", r.GEOID)
		}
		norm, err := json.Marshal(r.Normalized)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal normalized %s", r.GEOID)
		}
		if _, err := stmt.ExecContext(ctx, runID, r.GEOID, r.Score, r.Quintile, string(raw), string(norm)); err != nil {
			return eris.Wrapf(err, "sqlite: save index row %s", r.GEOID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save index rows")
}

func (s *SQLiteStore) ListIndexRows(ctx context.Context, runID string) ([]model.VulnerabilityRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, score, quintile, raw, normalized
		 FROM index_rows WHERE run_id = ? ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list index rows")
	}
	defer func() { _ = rows.Close() }()

	var out []model.VulnerabilityRow
	for rows.Next() {
		var r model.VulnerabilityRow
		var raw, norm string
		if err := rows.Scan(&r.GEOID, &r.Score, &r.Quintile, &raw, &norm); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan index row")
		}
		if err := json.Unmarshal([]byte(raw), &r.Raw); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal raw %s", r.GEOID)
		}
		if err := json.Unmarshal([]byte(norm), &r.Normalized); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal normalized %s", r.GEOID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list index rows iterate")
}

func (s *SQLiteStore) SaveExclusions(ctx context.Context, runID, stage string, rows []model.ExcludedTract) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save exclusions")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO exclusions (run_id, stage, geoid, reason, field) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save exclusions")
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range rows {
		if _, err := stmt.ExecContext(ctx, runID, stage, e.GEOID, e.Reason, e.Field); err != nil {
			return eris.Wrapf(err, "sqlite: save exclusion %s", e.GEOID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save exclusions")
}

func (s *SQLiteStore) ListExclusions(ctx context.Context, runID string) ([]model.ExcludedTract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, reason, field FROM exclusions WHERE run_id = ? ORDER BY stage, geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list exclusions")
	}
	defer func() { _ = rows.Close() }()

	var out []model.ExcludedTract
	for rows.Next() {
		var e model.ExcludedTract
		if err := rows.Scan(&e.GEOID, &e.Reason, &e.Field); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exclusion")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list exclusions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var errMsg sql.NullString

	err := row.Scan(&r.ID, &r.Scheme, &r.Status, &r.Tracts, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return &r, nil
}
