package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core/notebook"
)

const notebookColumns = `id, user_id, name, content_type, size, module_slug, data, created_at`

type notebookRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Name        string    `db:"name"`
	ContentType string    `db:"content_type"`
	Size        int64     `db:"size"`
	ModuleSlug  string    `db:"module_slug"`
	Data        []byte    `db:"data"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r notebookRow) entry() notebook.Entry {
	return notebook.Entry{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		ContentType: r.ContentType,
		Size:        r.Size,
		ModuleSlug:  r.ModuleSlug,
		Data:        r.Data,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type notebookRepository struct {
	db sqlx.ExtContext
}

var _ notebook.Repository = (*notebookRepository)(nil) // interface compliance check

func NewNotebookRepository(db sqlx.ExtContext) *notebookRepository {
	return &notebookRepository{db: db}
}

func (repo *notebookRepository) CreateEntry(ctx context.Context, e notebook.Entry) (notebook.Entry, error) {
	q, args, err := named(`
		INSERT INTO notebook_entries (`+notebookColumns+`)
		VALUES (:id, :user_id, :name, :content_type, :size, :module_slug, :data, :created_at)`,
		notebookRow{
			ID: e.ID, UserID: e.UserID, Name: e.Name, ContentType: e.ContentType, Size: e.Size,
			ModuleSlug: e.ModuleSlug, Data: e.Data, CreatedAt: e.CreatedAt.UTC(),
		})
	if err != nil {
		return notebook.Entry{}, err
	}
	if _, err = repo.db.ExecContext(ctx, q, args...); err != nil {
		return notebook.Entry{}, errors.Wrap(err, "inserting notebook entry")
	}
	return e, nil
}

func (repo *notebookRepository) GetEntry(ctx context.Context, userID, id string) (notebook.Entry, error) {
	if !validID(id) || !validID(userID) {
		return notebook.Entry{}, notebook.ErrNotFound
	}
	var row notebookRow
	err := sqlx.GetContext(ctx, repo.db, &row,
		`SELECT `+notebookColumns+` FROM notebook_entries WHERE id = $1 AND user_id = $2`, id, userID)
	if err == sql.ErrNoRows {
		return notebook.Entry{}, notebook.ErrNotFound
	}
	if err != nil {
		return notebook.Entry{}, errors.Wrap(err, "getting notebook entry")
	}
	return row.entry(), nil
}

func (repo *notebookRepository) QueryEntries(ctx context.Context, userID string) ([]notebook.Entry, error) {
	if !validID(userID) {
		return []notebook.Entry{}, nil
	}
	var rows []notebookRow
	err := sqlx.SelectContext(ctx, repo.db, &rows,
		`SELECT `+notebookColumns+` FROM notebook_entries WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying notebook entries")
	}
	entries := make([]notebook.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (repo *notebookRepository) CountEntries(ctx context.Context, userID string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	var n int
	err := sqlx.GetContext(ctx, repo.db, &n, `SELECT count(*) FROM notebook_entries WHERE user_id = $1`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "counting notebook entries")
	}
	return n, nil
}

func (repo *notebookRepository) DeleteEntry(ctx context.Context, userID, id string) error {
	if !validID(id) || !validID(userID) {
		return notebook.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM notebook_entries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "deleting notebook entry")
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notebook.ErrNotFound
	}
	return nil
}
