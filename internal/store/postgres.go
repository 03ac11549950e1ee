package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cholette-research/tract-cli/internal/db"
	"github.com/cholette-research/tract-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Bulk rows go through the
// COPY protocol; the tract table is upserted so re-acquisition refreshes in
// place.
type PostgresStore struct {
	pool db.Pool
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
	minConns := int32(2)
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool, mainly for tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	scheme     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	tracts     INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tracts (
	geoid      TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	attributes JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS distances (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	geoid                TEXT NOT NULL,
	grocery_distance     DOUBLE PRECISION NOT NULL,
	nearest_grocery_id   TEXT NOT NULL DEFAULT '',
	transit_distance     DOUBLE PRECISION NOT NULL,
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
	details      JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS index_rows (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	geoid      TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	quintile   INTEGER NOT NULL,
	raw        JSONB NOT NULL DEFAULT '{}',
	normalized JSONB NOT NULL DEFAULT '{}',
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, scheme string) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, scheme, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, scheme, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.AnalysisRun{
		ID:        id,
		Scheme:    scheme,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, tracts int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, tracts = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), tracts, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, scheme, status, tracts, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)

	var r model.AnalysisRun
	var errMsg *string
	err := row.Scan(&r.ID, &r.Scheme, &r.Status, &r.Tracts, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT id, scheme, status, tracts, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Scheme != "" {
		args = append(args, filter.Scheme)
		query += ` AND scheme = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		var r model.AnalysisRun
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Scheme, &r.Status, &r.Tracts, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveTracts(ctx context.Context, tracts []model.Tract) error {
	rows := make([][]any, 0, len(tracts))
	for _, t := range tracts {
		attrs, err := json.Marshal(t.Attributes)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal attributes %s", t.GEOID)
		}
		rows = append(rows, []any{t.GEOID, t.Name, t.Latitude, t.Longitude, string(attrs)})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "tracts",
		Columns:      []string{"geoid", "name", "latitude", "longitude", "attributes"},
		ConflictKeys: []string{"geoid"},
	}, rows)
	return eris.Wrap(err, "postgres: save tracts")
}

func (s *PostgresStore) ListTracts(ctx context.Context) ([]model.Tract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, name, latitude, longitude, attributes FROM tracts ORDER BY geoid`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tracts")
	}
	defer rows.Close()

	var tracts []model.Tract
	for rows.Next() {
		var t model.Tract
		var attrs []byte
		if err := rows.Scan(&t.GEOID, &t.Name, &t.Latitude, &t.Longitude, &attrs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tract")
		}
		if err := json.Unmarshal(attrs, &t.Attributes); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal attributes %s", t.GEOID)
		}
		tracts = append(tracts, t)
	}
	return tracts, eris.Wrap(rows.Err(), "postgres: list tracts iterate")
}

func (s *PostgresStore) SaveDistances(ctx context.Context, runID string, recs []model.DistanceRecord) error {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []any{runID, r.GEOID, r.GroceryDistance, r.NearestGroceryID,
			r.TransitDistance, r.NearestTransitID, r.TransitStopsNearby})
	}
	_, err := db.CopyFrom(ctx, s.pool, "distances",
		[]string{"run_id", "geoid", "grocery_distance", "nearest_grocery_id",
			"transit_distance", "nearest_transit_id", "transit_stops_nearby"},
		rows)
	return eris.Wrap(err, "postgres: save distances")
}

func (s *PostgresStore) ListDistances(ctx context.Context, runID string) ([]model.DistanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, grocery_distance, nearest_grocery_id, transit_distance,
		   nearest_transit_id, transit_stops_nearby
		 FROM distances WHERE run_id = $1 ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list distances")
	}
	defer rows.Close()

	var recs []model.DistanceRecord
	for rows.Next() {
		var r model.DistanceRecord
		if err := rows.Scan(&r.GEOID, &r.GroceryDistance, &r.NearestGroceryID,
			&r.TransitDistance, &r.NearestTransitID, &r.TransitStopsNearby); err != nil {
			return nil, eris.Wrap(err, "postgres: scan distance")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list distances iterate")
}

func (s *PostgresStore) SaveClassifications(ctx context.Context, runID string, rows []model.Classification) error {
	out := make([][]any, 0, len(rows))
	for _, c := range rows {
		details, err := json.Marshal(map[string]any{
			"grocery_distance_miles": c.GroceryDistance,
			"transit_distance_miles": c.TransitDistance,
			"transit_stops_nearby":   c.TransitStopsNearby,
		})
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal details %s", c.GEOID)
		}
		out = append(out, []any{runID, c.GEOID, c.Scheme, c.Label, c.Matched, string(details)})
	}
	_, err := db.CopyFrom(ctx, s.pool, "classifications",
		[]string{"run_id", "geoid", "scheme", "label", "matched_rule", "details"},
		out)
	return eris.Wrap(err, "postgres: save classifications")
}

func (s *PostgresStore) ListClassifications(ctx context.Context, runID string) ([]model.Classification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, scheme, label, matched_rule, details
		 FROM classifications WHERE run_id = $1 ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list classifications")
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var details []byte
		if err := rows.Scan(&c.GEOID, &c.Scheme, &c.Label, &c.Matched, &details); err != nil {
			return nil, eris.Wrap(err, "postgres: scan classification")
		}
		var d struct {
			Grocery float64 `json:"grocery_distance_miles"`
			Transit float64 `json:"transit_distance_miles"`
			Stops   int     `json:"transit_stops_nearby"`
		}
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal details %s", c.GEOID)
		}
		c.GroceryDistance = d.Grocery
		c.TransitDistance = d.Transit
		c.TransitStopsNearby = d.Stops
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list classifications iterate")
}

func (s *PostgresStore) SaveIndexRows(ctx context.Context, runID string, rows []model.VulnerabilityRow) error {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		raw, err := json.Marshal(r.Raw)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal raw %s", r.GEOID)
		}
		norm, err := json.Marshal(r.Normalized)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal normalized %s", r.GEOID)
		}
		out = append(out, []any{runID, r.GEOID, r.Score, r.Quintile, string(raw), string(norm)})
	}
	_, err := db.CopyFrom(ctx, s.pool, "index_rows",
		[]string{"run_id", "geoid", "score", "quintile", "raw", "normalized"},
		out)
	return eris.Wrap(err, "postgres: save index rows")
}

func (s *PostgresStore) ListIndexRows(ctx context.Context, runID string) ([]model.VulnerabilityRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, score, quintile, raw, normalized
		 FROM index_rows WHERE run_id = $1 ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list index rows")
	}
	defer rows.Close()

	var out []model.VulnerabilityRow
	for rows.Next() {
		var r model.VulnerabilityRow
		var raw, norm []byte
		if err := rows.Scan(&r.GEOID, &r.Score, &r.Quintile, &raw, &norm); err != nil {
			return nil, eris.Wrap(err, "postgres: scan index row")
		}
		if err := json.Unmarshal(raw, &r.Raw); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal raw %s", r.GEOID)
		}
		if err := json.Unmarshal(norm, &r.Normalized); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal normalized %s", r.GEOID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list index rows iterate")
}

func (s *PostgresStore) SaveExclusions(ctx context.Context, runID, stage string, rows []model.ExcludedTract) error {
	out := make([][]any, 0, len(rows))
	for _, e := range rows {
		out = append(out, []any{runID, stage, e.GEOID, e.Reason, e.Field})
	}
	_, err := db.CopyFrom(ctx, s.pool, "exclusions",
		[]string{"run_id", "stage", "geoid", "reason", "field"},
		out)
	return eris.Wrap(err, "postgres: save exclusions")
}

func (s *PostgresStore) ListExclusions(ctx context.Context, runID string) ([]model.ExcludedTract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, reason, field FROM exclusions WHERE run_id = $1 ORDER BY stage, geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list exclusions")
	}
	defer rows.Close()

	var out []model.ExcludedTract
	for rows.Next() {
		var e model.ExcludedTract
		if err := rows.Scan(&e.GEOID, &e.Reason, &e.Field); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exclusion")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list exclusions iterate")
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*SQLiteStore)(nil)
