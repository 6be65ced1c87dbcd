package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/core/progress"
	"github.com/trezcool/gradebook/tests"
)

func TestMappingStore(t *testing.T) {
	db := testutil.PrepareDB(t)
	store := NewMappingStore(db)
	ctx := context.Background()

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	res, err := store.Write(ctx, testutil.Mappings(), mapping.WriteOptions{ClearExisting: true, BackupExisting: true})
	require.NoError(t, err)
	assert.Equal(t, mapping.WriteResult{Written: 2}, res, "nothing to back up yet")

	got, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Mappings(), got)

	replacement := []mapping.Mapping{{CourseName: "G2 Voyagers", Subject: "KCFS", CourseID: "700000000103", Status: mapping.StatusActive}}
	res, err = store.Write(ctx, replacement, mapping.WriteOptions{ClearExisting: true, BackupExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	_, err = uuid.Parse(res.BackupID)
	require.NoError(t, err)

	got, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, got)

	ids, err := store.Backups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.BackupID}, ids)
}

func TestMappingStore_append(t *testing.T) {
	db := testutil.PrepareDB(t)
	store := NewMappingStore(db)
	ctx := context.Background()

	for _, m := range testutil.Mappings() {
		_, err := store.Write(ctx, []mapping.Mapping{m}, mapping.WriteOptions{})
		require.NoError(t, err)
	}
	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, mapping.StatusActive, got[1].Status)
}

func TestBatchRunRecorder(t *testing.T) {
	db := testutil.PrepareDB(t)
	rec := NewBatchRunRecorder(db)
	ctx := context.Background()

	first := progress.Summary{
		ID:         uuid.New(),
		Operation:  "Create courses",
		Statistics: progress.Statistics{Total: 3, Processed: 3, Successful: 2, Failed: 1},
		Errors:     []progress.Entry{{Item: "G7 Achievers", Error: "invalid name", Timestamp: testutil.Now}},
		StartedAt:  testutil.Now,
		FinishedAt: testutil.Now.Add(3 * time.Second),
	}
	second := progress.Summary{
		ID:          uuid.New(),
		Operation:   "Add students",
		Statistics:  progress.Statistics{Total: 10, Processed: 1, Successful: 1},
		Aborted:     true,
		AbortReason: "cancelled by user",
		StartedAt:   testutil.Now.Add(time.Hour),
		FinishedAt:  testutil.Now.Add(time.Hour + time.Second),
	}
	require.NoError(t, rec.Record(ctx, first))
	require.NoError(t, rec.Record(ctx, second))

	recent, err := rec.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, second.ID, recent[0].ID)
	assert.True(t, recent[0].Aborted)
	assert.Equal(t, "cancelled by user", recent[0].AbortReason)
	assert.Empty(t, recent[0].Errors)

	assert.Equal(t, first.ID, recent[1].ID)
	assert.Equal(t, 3*time.Second, recent[1].Statistics.Duration)
	require.Len(t, recent[1].Errors, 1)
	assert.Equal(t, "invalid name", recent[1].Errors[0].Error)

	assert.Error(t, rec.Record(ctx, first), "duplicate id")
}
