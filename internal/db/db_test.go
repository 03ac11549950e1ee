package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "tracts", []string{"geoid"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"distances"}, []string{"geoid", "grocery_distance"}).WillReturnResult(2)

	rows := [][]any{{"06001010100", 0.8}, {"06001010200", 1.4}}
	n, err := CopyFrom(context.Background(), mock, "distances", []string{"geoid", "grocery_distance"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"tracts"}, []string{"geoid"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "tracts", []string{"geoid"}, [][]any{{"06001010100"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO tracts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "tracts"}, [][]any{{"x"}})
	assert.Error(t, err)

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{
		Table: "tracts", Columns: []string{"geoid"},
	}, [][]any{{"x"}})
	assert.Error(t, err)

	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_tracts"}, []string{"geoid", "name"}).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	cfg := UpsertConfig{
		Table:        "tracts",
		Columns:      []string{"geoid", "name"},
		ConflictKeys: []string{"geoid"},
	}
	rows := [][]any{{"06001010100", "Tract 101"}, {"06001010200", "Tract 102"}}
	n, err := BulkUpsert(context.Background(), mock, cfg, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_tracts"}, []string{"geoid"}).WillReturnError(fmt.Errorf("boom"))
	mock.ExpectRollback()

	cfg := UpsertConfig{Table: "tracts", Columns: []string{"geoid"}, ConflictKeys: []string{"geoid"}}
	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"06001010100"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
}
