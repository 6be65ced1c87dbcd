package sheetsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/assessment"
	"github.com/trezcool/gradebook/core/mapping"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestA1(t *testing.T) {
	assert.Equal(t, "'Course Mapping'!A2:J", A1("Course Mapping", "A2:J"))
	assert.Equal(t, "'Ms. O''Neil'!A1", A1("Ms. O'Neil", "A1"))
}

func testMappings() []mapping.Mapping {
	return []mapping.Mapping{
		{
			CourseName: "G1 Achievers", Subject: "LT", CourseID: "1", OriginalName: "G1 Achievers LT",
			Status: mapping.StatusActive, MatchType: mapping.MatchClassified, Score: 93, DiscoveredAt: testNow,
		},
		{
			CourseName: "G1 Achievers", Subject: "IT", CourseID: "3", Status: mapping.StatusActive,
			MatchType: mapping.MatchPredicted, Score: 70, Reason: "class exact match", DiscoveredAt: testNow, CleanedAt: testNow,
		},
	}
}

func TestMappingStore(t *testing.T) {
	fake := &fakeSpreadsheet{sheets: map[string][][]interface{}{"Course Mapping": nil}}
	store := NewMappingStore(newFakeClient(t, fake), "Course Mapping", core.NopLogger{})
	store.now = func() time.Time { return testNow }
	ctx := context.Background()

	res, err := store.Write(ctx, testMappings(), mapping.WriteOptions{ClearExisting: true, BackupExisting: true})
	require.NoError(t, err)
	assert.Equal(t, mapping.WriteResult{Written: 2}, res, "nothing to back up yet")

	got, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, testMappings(), got)

	extra := mapping.Mapping{CourseName: "G2 Pioneers", Subject: "KCFS", CourseID: "9", Status: mapping.StatusActive, MatchType: mapping.MatchManual, Score: 100}
	res, err = store.Write(ctx, []mapping.Mapping{extra}, mapping.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, mapping.WriteResult{Written: 1}, res)
	got, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, extra, got[2])

	res, err = store.Write(ctx, []mapping.Mapping{extra}, mapping.WriteOptions{ClearExisting: true, BackupExisting: true})
	require.NoError(t, err)
	assert.Equal(t, "Course Mapping Backup - 20260302-080000", res.BackupID)
	assert.Len(t, fake.rows(res.BackupID), 4, "header and the 3 previous mappings")

	got, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []mapping.Mapping{extra}, got)

	// a second backup in the same second collides with the first one
	_, err = store.Write(ctx, nil, mapping.WriteOptions{BackupExisting: true})
	assert.ErrorContains(t, err, "backing up mappings")

	store.now = func() time.Time { return testNow.Add(time.Hour) }
	res, err = store.Write(ctx, nil, mapping.WriteOptions{BackupExisting: true})
	require.NoError(t, err)
	ids, err := store.Backups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.BackupID, "Course Mapping Backup - 20260302-080000"}, ids)
}

func TestMappingStore_missingSheet(t *testing.T) {
	fake := &fakeSpreadsheet{sheets: map[string][][]interface{}{}}
	store := NewMappingStore(newFakeClient(t, fake), "Course Mapping", core.NopLogger{})

	_, err := store.Read(context.Background())
	assert.ErrorContains(t, err, "reading 'Course Mapping'!A2:J")
}

func TestGradebookReader(t *testing.T) {
	fake := &fakeSpreadsheet{sheets: map[string][][]interface{}{"Gradebook": {
		{"Teacher", "Subject", "Class", "Student ID", "Student Name", "F.A.1", "F.A.2", "Final"},
		{"Ms. Johnson", "lt", "G1 Achievers", "s1", "Amy", "80", "", "90"},
		{"Ms. Davis", "IT", "G3 Voyagers", "s4", "Ben"},
		{"Ms. Johnson", "LT", "G1 Achievers", "s2", "Cid", "", 75},
		{"Ms. Johnson", "LT", ""},
	}}}
	reader := NewGradebookReader(newFakeClient(t, fake), "Gradebook")

	books, err := reader.Gradebooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []assessment.Gradebook{
		{Teacher: "Ms. Johnson", Subject: "LT", ClassName: "G1 Achievers", Students: []assessment.Student{
			{ID: "s1", Name: "Amy", Scores: map[string]string{"F.A.1": "80", "Final": "90"}},
			{ID: "s2", Name: "Cid", Scores: map[string]string{"F.A.2": "75"}},
		}},
		{Teacher: "Ms. Davis", Subject: "IT", ClassName: "G3 Voyagers", Students: []assessment.Student{
			{ID: "s4", Name: "Ben", Scores: map[string]string{}},
		}},
	}, books)
}

func TestParseGradebooks_missingColumn(t *testing.T) {
	_, err := parseGradebooks([][]interface{}{{"Teacher", "Class"}})
	assert.ErrorIs(t, err, ErrMissingColumn)

	books, err := parseGradebooks(nil)
	require.NoError(t, err)
	assert.Empty(t, books)
}
