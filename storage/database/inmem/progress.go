package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/coursekit/core/progress"
)

type progressRepository struct {
	db *progressTable
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db *DB) *progressRepository {
	return &progressRepository{db: db.progress}
}

func (repo *progressRepository) CreateRecordIfNotExists(_ context.Context, r progress.Record) (progress.Record, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := progressKey{userID: r.UserID, module: r.ModuleSlug, lesson: r.LessonSlug}
	if rec, ok := repo.db.table[key]; ok {
		return rec, false, nil
	}
	repo.db.table[key] = r
	return r, true, nil
}

func (repo *progressRepository) QueryRecords(_ context.Context, userID string) ([]progress.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	recs := make([]progress.Record, 0)
	for k, r := range repo.db.table {
		if k.userID == userID {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CompletedAt.Before(recs[j].CompletedAt) })
	return recs, nil
}
