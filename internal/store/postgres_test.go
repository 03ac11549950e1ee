package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cholette-research/tract-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresCreateRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(pgxmock.AnyArg(), "mobility", string(model.RunStatusRunning), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "mobility")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteRunNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE runs").
		WithArgs(string(model.RunStatusComplete), 10, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", 10)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, scheme, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveDistances(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"distances"},
		[]string{"run_id", "geoid", "grocery_distance", "nearest_grocery_id",
			"transit_distance", "nearest_transit_id", "transit_stops_nearby"}).
		WillReturnResult(2)

	recs := []model.DistanceRecord{
		{GEOID: "06001010100", GroceryDistance: 0.8, TransitDistance: 0.3, TransitStopsNearby: 4},
		{GEOID: "06001010200", GroceryDistance: 1.4, TransitDistance: 0.6, TransitStopsNearby: 1},
	}
	require.NoError(t, s.SaveDistances(context.Background(), "run-1", recs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListExclusions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT geoid, reason, field FROM exclusions").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"geoid", "reason", "field"}).
			AddRow("06001010300", model.LabelIndeterminate, "grocery_distance"))

	got, err := s.ListExclusions(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "06001010300", got[0].GEOID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
