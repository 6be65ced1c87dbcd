package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/gradebook/core/progress"
)

type batchRunRecorder struct {
	db *batchRunTable
}

var _ progress.Recorder = (*batchRunRecorder)(nil)

func NewBatchRunRecorder(db *DB) *batchRunRecorder {
	return &batchRunRecorder{db: db.batchRun}
}

func (rec *batchRunRecorder) Record(_ context.Context, s progress.Summary) error {
	rec.db.Lock()
	defer rec.db.Unlock()
	s.Successes, s.Warnings = nil, nil
	rec.db.rows = append(rec.db.rows, s)
	return nil
}

func (rec *batchRunRecorder) Recent(_ context.Context, limit int) ([]progress.Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rec.db.RLock()
	rows := append([]progress.Summary(nil), rec.db.rows...)
	rec.db.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].StartedAt.After(rows[j].StartedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
