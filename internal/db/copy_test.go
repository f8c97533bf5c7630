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
	n, err := CopyFrom(context.TODO(), nil, "observations", []string{"x", "y"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"observations"}, []string{"x", "y"}).WillReturnResult(3)

	rows := [][]any{{-121.5, 38.6}, {-122.4, 37.8}, {-118.2, 34.1}}
	n, err := CopyFrom(context.Background(), mock, "observations", []string{"x", "y"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"observations"}, []string{"x", "y"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{-121.5, 38.6}}
	_, err = CopyFrom(context.Background(), mock, "observations", []string{"x", "y"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO observations")
	assert.NoError(t, mock.ExpectationsWereMet())
}
