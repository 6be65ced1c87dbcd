package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/progress"
)

type batchRunRow struct {
	ID          uuid.UUID   `db:"id"`
	Operation   string      `db:"operation"`
	Total       int         `db:"total"`
	Successful  int         `db:"successful"`
	Failed      int         `db:"failed"`
	Warnings    int         `db:"warnings"`
	Aborted     bool        `db:"aborted"`
	AbortReason null.String `db:"abort_reason"`
	Errors      string      `db:"errors"` // jsonb
	StartedAt   time.Time   `db:"started_at"`
	FinishedAt  time.Time   `db:"finished_at"`
}

type batchRunRecorder struct {
	db core.DBExecutor
}

var _ progress.Recorder = (*batchRunRecorder)(nil)

func NewBatchRunRecorder(db core.DBExecutor) *batchRunRecorder {
	return &batchRunRecorder{db: db}
}

func (rec *batchRunRecorder) Record(ctx context.Context, s progress.Summary) error {
	errs := s.Errors
	if errs == nil {
		errs = []progress.Entry{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return errors.Wrap(err, "encoding batch errors")
	}
	row := batchRunRow{
		ID:          s.ID,
		Operation:   s.Operation,
		Total:       s.Statistics.Total,
		Successful:  s.Statistics.Successful,
		Failed:      s.Statistics.Failed,
		Warnings:    s.Statistics.Warnings,
		Aborted:     s.Aborted,
		AbortReason: null.NewString(s.AbortReason, s.AbortReason != ""),
		Errors:      string(errsJSON),
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
	_, err = rec.db.NamedExecContext(ctx, `INSERT INTO batch_run
		(id, operation, total, successful, failed, warnings, aborted, abort_reason, errors, started_at, finished_at)
		VALUES (:id, :operation, :total, :successful, :failed, :warnings, :aborted, :abort_reason, :errors, :started_at, :finished_at)`, row)
	return errors.Wrap(err, "inserting batch run")
}

func (rec *batchRunRecorder) Recent(ctx context.Context, limit int) ([]progress.Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []batchRunRow
	err := rec.db.SelectContext(ctx, &rows, `SELECT id, operation, total, successful, failed, warnings, aborted,
		abort_reason, errors, started_at, finished_at FROM batch_run ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "selecting batch runs")
	}

	summaries := make([]progress.Summary, 0, len(rows))
	for _, r := range rows {
		s := progress.Summary{
			ID:          r.ID,
			Operation:   r.Operation,
			Aborted:     r.Aborted,
			AbortReason: r.AbortReason.String,
			StartedAt:   r.StartedAt.UTC(),
			FinishedAt:  r.FinishedAt.UTC(),
			Statistics: progress.Statistics{
				Total:      r.Total,
				Processed:  r.Successful + r.Failed + r.Warnings,
				Successful: r.Successful,
				Failed:     r.Failed,
				Warnings:   r.Warnings,
				Duration:   r.FinishedAt.Sub(r.StartedAt),
			},
		}
		if err := json.Unmarshal([]byte(r.Errors), &s.Errors); err != nil {
			return nil, errors.Wrapf(err, "decoding errors of batch run %s", r.ID)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
