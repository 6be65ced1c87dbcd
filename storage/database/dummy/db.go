// Package dummydb keeps the mappings and batch runs in memory, for local runs and tests.
package dummydb

import (
	"sync"

	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/core/progress"
)

type (
	DB struct {
		mapping  *mappingTable
		batchRun *batchRunTable
	}

	mappingTable struct {
		sync.RWMutex
		rows    []mapping.Mapping
		backups map[string][]mapping.Mapping
		order   []string // backup ids, oldest first
	}

	batchRunTable struct {
		sync.RWMutex
		rows []progress.Summary
	}
)

func Open() *DB {
	return &DB{
		mapping:  &mappingTable{backups: make(map[string][]mapping.Mapping)},
		batchRun: &batchRunTable{},
	}
}
