package dummydb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/gradebook/core/mapping"
)

type mappingStore struct {
	db *mappingTable
}

var (
	_ mapping.Store        = (*mappingStore)(nil)
	_ mapping.BackupLister = (*mappingStore)(nil)
)

func NewMappingStore(db *DB) *mappingStore {
	return &mappingStore{db: db.mapping}
}

func (s *mappingStore) Read(context.Context) ([]mapping.Mapping, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return append([]mapping.Mapping(nil), s.db.rows...), nil
}

func (s *mappingStore) Write(_ context.Context, mappings []mapping.Mapping, opts mapping.WriteOptions) (mapping.WriteResult, error) {
	s.db.Lock()
	defer s.db.Unlock()

	var res mapping.WriteResult
	if opts.BackupExisting && len(s.db.rows) > 0 {
		res.BackupID = uuid.NewString()
		s.db.backups[res.BackupID] = append([]mapping.Mapping(nil), s.db.rows...)
		s.db.order = append(s.db.order, res.BackupID)
	}
	if opts.ClearExisting {
		s.db.rows = nil
	}
	s.db.rows = append(s.db.rows, mappings...)
	res.Written = len(mappings)
	return res, nil
}

// Backup returns the mappings saved under a backup id.
func (s *mappingStore) Backup(id string) ([]mapping.Mapping, bool) {
	s.db.RLock()
	defer s.db.RUnlock()
	rows, ok := s.db.backups[id]
	return rows, ok
}

// Backups lists the backup ids, newest first.
func (s *mappingStore) Backups(context.Context) ([]string, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	ids := make([]string, 0, len(s.db.order))
	for i := len(s.db.order) - 1; i >= 0; i-- {
		ids = append(ids, s.db.order[i])
	}
	return ids, nil
}
