package dummydb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/core/progress"
)

func TestMappingStore(t *testing.T) {
	store := NewMappingStore(Open())
	ctx := context.Background()
	first := []mapping.Mapping{{CourseName: "G1 Achievers", Subject: "LT", CourseID: "1"}}
	second := []mapping.Mapping{{CourseName: "G1 Achievers", Subject: "IT", CourseID: "2"}}

	res, err := store.Write(ctx, first, mapping.WriteOptions{ClearExisting: true, BackupExisting: true})
	require.NoError(t, err)
	assert.Equal(t, mapping.WriteResult{Written: 1}, res, "empty store: no backup")

	res, err = store.Write(ctx, second, mapping.WriteOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.BackupID)
	got, _ := store.Read(ctx)
	assert.Len(t, got, 2)

	res, err = store.Write(ctx, second, mapping.WriteOptions{ClearExisting: true, BackupExisting: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.BackupID)
	got, _ = store.Read(ctx)
	assert.Equal(t, second, got)

	backup, ok := store.Backup(res.BackupID)
	require.True(t, ok)
	assert.Equal(t, append(first, second...), backup)
	ids, _ := store.Backups(ctx)
	assert.Equal(t, []string{res.BackupID}, ids)

	got[0].CourseID = "changed"
	again, _ := store.Read(ctx)
	assert.Equal(t, "2", again[0].CourseID, "reads are copies")
}

func TestBatchRunRecorder(t *testing.T) {
	rec := NewBatchRunRecorder(Open())
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for i, op := range []string{"Create courses", "Add students", "Add teachers"} {
		require.NoError(t, rec.Record(ctx, progress.Summary{
			Operation: op,
			StartedAt: start.Add(time.Duration(i) * time.Hour),
			Successes: []progress.Entry{{Item: "x"}},
		}))
	}

	recent, err := rec.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Add teachers", recent[0].Operation)
	assert.Equal(t, "Add students", recent[1].Operation)
	assert.Nil(t, recent[0].Successes)
}
