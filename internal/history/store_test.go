package history

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartAndFinishRun(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartRun("freshness")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	require.NoError(t, s.FinishRun(id, StatusSuccess, 25, 3, 75, nil))

	runs, err = s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "freshness", r.Kind)
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, 25, r.SchemasFound)
	assert.Equal(t, 3, r.SchemasSkipped)
	assert.Equal(t, 75, r.RowsCollected)
	assert.Empty(t, r.Error)
	require.NotNil(t, r.FinishedAt)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
}

func TestFinishRunRecordsError(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartRun("reconcile")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(id, StatusFailed, 10, 0, 0, errors.New("sink unreachable")))

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "sink unreachable", runs[0].Error)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.StartRun("run")
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	id, err := s.StartRun("freshness")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}
