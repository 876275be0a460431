package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/coursekit/core/notebook"
)

type notebookRepository struct {
	db *notebookTable
}

var _ notebook.Repository = (*notebookRepository)(nil) // interface compliance check

func NewNotebookRepository(db *DB) *notebookRepository {
	return &notebookRepository{db: db.notebook}
}

func (repo *notebookRepository) CreateEntry(ctx context.Context, e notebook.Entry) (notebook.Entry, error) {
	if err := ctx.Err(); err != nil {
		return notebook.Entry{}, err
	}
	repo.db.Lock()
	defer repo.db.Unlock()

	e.Data = append([]byte(nil), e.Data...)
	repo.db.table[e.ID] = e
	return e, nil
}

func (repo *notebookRepository) GetEntry(_ context.Context, userID, id string) (notebook.Entry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	e, ok := repo.db.table[id]
	if !ok || e.UserID != userID {
		return notebook.Entry{}, notebook.ErrNotFound
	}
	e.Data = append([]byte(nil), e.Data...)
	return e, nil
}

func (repo *notebookRepository) QueryEntries(ctx context.Context, userID string) ([]notebook.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.RLock()
	defer repo.db.RUnlock()

	entries := make([]notebook.Entry, 0)
	for _, e := range repo.db.table {
		if e.UserID == userID {
			e.Data = append([]byte(nil), e.Data...)
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (repo *notebookRepository) CountEntries(_ context.Context, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, e := range repo.db.table {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (repo *notebookRepository) DeleteEntry(_ context.Context, userID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if e, ok := repo.db.table[id]; !ok || e.UserID != userID {
		return notebook.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
