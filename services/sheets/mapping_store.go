package sheetsvc

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/mapping"
)

const backupTimeFormat = "20060102-150405"

var mappingHeader = []interface{}{
	"Course Name", "Subject", "Course ID", "Original Name", "Status",
	"Match Type", "Score", "Reason", "Discovered At", "Cleaned At",
}

// MappingStore keeps the course mappings in a sheet, one mapping per row below a header row.
type MappingStore struct {
	client *Client
	sheet  string
	logger core.Logger
	now    func() time.Time
}

var (
	_ mapping.Store        = (*MappingStore)(nil)
	_ mapping.BackupLister = (*MappingStore)(nil)
)

func NewMappingStore(client *Client, sheet string, logger core.Logger) *MappingStore {
	return &MappingStore{client: client, sheet: sheet, logger: logger, now: time.Now}
}

func (s *MappingStore) Read(ctx context.Context) ([]mapping.Mapping, error) {
	rows, err := s.client.Get(ctx, A1(s.sheet, "A2:J"))
	if err != nil {
		return nil, err
	}
	mappings := make([]mapping.Mapping, 0, len(rows))
	for _, row := range rows {
		if cell(row, 0) == "" && cell(row, 2) == "" {
			continue
		}
		mappings = append(mappings, parseMapping(row))
	}
	return mappings, nil
}

func (s *MappingStore) Write(ctx context.Context, mappings []mapping.Mapping, opts mapping.WriteOptions) (mapping.WriteResult, error) {
	var res mapping.WriteResult
	if opts.BackupExisting {
		id, err := s.backup(ctx)
		if err != nil {
			return res, errors.Wrap(err, "backing up mappings")
		}
		res.BackupID = id
	}

	rows := make([][]interface{}, 0, len(mappings)+1)
	if opts.ClearExisting {
		if err := s.client.Clear(ctx, A1(s.sheet, "A:J")); err != nil {
			return res, err
		}
		rows = append(rows, mappingHeader)
		for _, m := range mappings {
			rows = append(rows, mappingRow(m))
		}
		if err := s.client.Update(ctx, A1(s.sheet, "A1"), rows); err != nil {
			return res, err
		}
	} else if len(mappings) > 0 {
		for _, m := range mappings {
			rows = append(rows, mappingRow(m))
		}
		if err := s.client.Append(ctx, A1(s.sheet, "A:J"), rows); err != nil {
			return res, err
		}
	}

	res.Written = len(mappings)
	s.logger.Info(fmt.Sprintf("sheets: %d mappings written to %s", res.Written, s.sheet))
	return res, nil
}

// backup copies the current rows to a new "<sheet> Backup - <timestamp>" sheet. Nothing is copied
// (and "" returned) when the sheet holds no mapping.
func (s *MappingStore) backup(ctx context.Context) (string, error) {
	rows, err := s.client.Get(ctx, A1(s.sheet, "A:J"))
	if err != nil {
		return "", err
	}
	if len(rows) <= 1 {
		return "", nil
	}

	title := s.backupPrefix() + s.now().Format(backupTimeFormat)
	if err := s.client.AddSheet(ctx, title); err != nil {
		return "", err
	}
	if err := s.client.Update(ctx, A1(title, "A1"), rows); err != nil {
		return "", err
	}
	s.logger.Info(fmt.Sprintf("sheets: %d rows backed up to %s", len(rows)-1, title))
	return title, nil
}

func (s *MappingStore) backupPrefix() string { return s.sheet + " Backup - " }

// Backups lists the backup sheets, newest first.
func (s *MappingStore) Backups(ctx context.Context) ([]string, error) {
	titles, err := s.client.SheetTitles(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, t := range titles {
		if strings.HasPrefix(t, s.backupPrefix()) {
			ids = append(ids, t)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func mappingRow(m mapping.Mapping) []interface{} {
	return []interface{}{
		m.CourseName, m.Subject, m.CourseID, m.OriginalName, m.Status,
		string(m.MatchType), m.Score, m.Reason, formatTime(m.DiscoveredAt), formatTime(m.CleanedAt),
	}
}

func parseMapping(row []interface{}) mapping.Mapping {
	return mapping.Mapping{
		CourseName:   cell(row, 0),
		Subject:      cell(row, 1),
		CourseID:     cell(row, 2),
		OriginalName: cell(row, 3),
		Status:       cell(row, 4),
		MatchType:    mapping.MatchType(cell(row, 5)),
		Score:        parseScore(cell(row, 6)),
		Reason:       cell(row, 7),
		DiscoveredAt: parseTime(cell(row, 8)),
		CleanedAt:    parseTime(cell(row, 9)),
	}
}

func parseScore(s string) int {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(math.Round(f))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
