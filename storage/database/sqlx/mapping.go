// Package sqlxrepos stores the course mappings and the batch runs in PostgreSQL.
package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/mapping"
)

const mappingColumns = `course_name, subject, course_id, original_name, status, match_type, score, reason, discovered_at, cleaned_at`

type mappingRow struct {
	CourseName   string      `db:"course_name"`
	Subject      string      `db:"subject"`
	CourseID     string      `db:"course_id"`
	OriginalName null.String `db:"original_name"`
	Status       string      `db:"status"`
	MatchType    null.String `db:"match_type"`
	Score        int         `db:"score"`
	Reason       null.String `db:"reason"`
	DiscoveredAt null.Time   `db:"discovered_at"`
	CleanedAt    null.Time   `db:"cleaned_at"`
}

func toMappingRow(m mapping.Mapping) mappingRow {
	status := m.Status
	if status == "" {
		status = mapping.StatusUnknown
	}
	return mappingRow{
		CourseName:   m.CourseName,
		Subject:      m.Subject,
		CourseID:     m.CourseID,
		OriginalName: null.NewString(m.OriginalName, m.OriginalName != ""),
		Status:       status,
		MatchType:    null.NewString(string(m.MatchType), m.MatchType != ""),
		Score:        m.Score,
		Reason:       null.NewString(m.Reason, m.Reason != ""),
		DiscoveredAt: null.NewTime(m.DiscoveredAt, !m.DiscoveredAt.IsZero()),
		CleanedAt:    null.NewTime(m.CleanedAt, !m.CleanedAt.IsZero()),
	}
}

func (r mappingRow) toMapping() mapping.Mapping {
	m := mapping.Mapping{
		CourseName:   r.CourseName,
		Subject:      r.Subject,
		CourseID:     r.CourseID,
		OriginalName: r.OriginalName.String,
		Status:       r.Status,
		MatchType:    mapping.MatchType(r.MatchType.String),
		Score:        r.Score,
		Reason:       r.Reason.String,
	}
	if r.DiscoveredAt.Valid {
		m.DiscoveredAt = r.DiscoveredAt.Time.UTC()
	}
	if r.CleanedAt.Valid {
		m.CleanedAt = r.CleanedAt.Time.UTC()
	}
	return m
}

type mappingStore struct {
	db core.DB
}

var (
	_ mapping.Store        = (*mappingStore)(nil)
	_ mapping.BackupLister = (*mappingStore)(nil)
)

func NewMappingStore(db core.DB) *mappingStore {
	return &mappingStore{db: db}
}

func (s *mappingStore) Read(ctx context.Context) ([]mapping.Mapping, error) {
	var rows []mappingRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+mappingColumns+` FROM course_mapping ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "selecting mappings")
	}
	mappings := make([]mapping.Mapping, 0, len(rows))
	for _, r := range rows {
		mappings = append(mappings, r.toMapping())
	}
	return mappings, nil
}

// Write runs in one transaction: backup (copy of the current rows under a new backup id), clear
// then insert.
func (s *mappingStore) Write(ctx context.Context, mappings []mapping.Mapping, opts mapping.WriteOptions) (mapping.WriteResult, error) {
	var res mapping.WriteResult
	err := core.RunInTx(ctx, s.db, func(tx core.DBExecutor) error {
		if opts.BackupExisting {
			backupID := uuid.New()
			r, err := tx.ExecContext(ctx,
				`INSERT INTO course_mapping_backup (backup_id, `+mappingColumns+`)
				SELECT $1, `+mappingColumns+` FROM course_mapping`, backupID)
			if err != nil {
				return errors.Wrap(err, "backing up mappings")
			}
			if n, err := r.RowsAffected(); err == nil && n > 0 {
				res.BackupID = backupID.String()
			}
		}

		if opts.ClearExisting {
			if _, err := tx.ExecContext(ctx, `DELETE FROM course_mapping`); err != nil {
				return errors.Wrap(err, "clearing mappings")
			}
		}

		if len(mappings) == 0 {
			return nil
		}
		rows := make([]mappingRow, 0, len(mappings))
		for _, m := range mappings {
			rows = append(rows, toMappingRow(m))
		}
		_, err := tx.NamedExecContext(ctx, `INSERT INTO course_mapping (`+mappingColumns+`) VALUES (
			:course_name, :subject, :course_id, :original_name, :status, :match_type, :score, :reason, :discovered_at, :cleaned_at)`, rows)
		return errors.Wrap(err, "inserting mappings")
	})
	if err != nil {
		return mapping.WriteResult{}, err
	}
	res.Written = len(mappings)
	return res, nil
}

// Backups lists the backup ids, newest first.
func (s *mappingStore) Backups(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT backup_id::text FROM course_mapping_backup GROUP BY backup_id ORDER BY max(backed_up_at) DESC`)
	return ids, errors.Wrap(err, "selecting backups")
}
