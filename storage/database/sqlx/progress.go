package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core/progress"
)

type progressRow struct {
	UserID      string    `db:"user_id"`
	ModuleSlug  string    `db:"module_slug"`
	LessonSlug  string    `db:"lesson_slug"`
	CompletedAt time.Time `db:"completed_at"`
}

func (r progressRow) record() progress.Record {
	return progress.Record{UserID: r.UserID, ModuleSlug: r.ModuleSlug, LessonSlug: r.LessonSlug, CompletedAt: r.CompletedAt.UTC()}
}

type progressRepository struct {
	db sqlx.ExtContext
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db sqlx.ExtContext) *progressRepository {
	return &progressRepository{db: db}
}

func (repo *progressRepository) CreateRecordIfNotExists(ctx context.Context, r progress.Record) (progress.Record, bool, error) {
	var row progressRow
	err := sqlx.GetContext(ctx, repo.db, &row, `
		INSERT INTO lesson_progress (user_id, module_slug, lesson_slug, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, module_slug, lesson_slug) DO NOTHING
		RETURNING user_id, module_slug, lesson_slug, completed_at`,
		r.UserID, r.ModuleSlug, r.LessonSlug, r.CompletedAt.UTC())
	if err == nil {
		return row.record(), true, nil
	}
	if err != sql.ErrNoRows {
		return progress.Record{}, false, errors.Wrap(err, "inserting progress record")
	}

	err = sqlx.GetContext(ctx, repo.db, &row, `
		SELECT user_id, module_slug, lesson_slug, completed_at FROM lesson_progress
		WHERE user_id = $1 AND module_slug = $2 AND lesson_slug = $3`,
		r.UserID, r.ModuleSlug, r.LessonSlug)
	if err != nil {
		return progress.Record{}, false, errors.Wrap(err, "finding progress record")
	}
	return row.record(), false, nil
}

func (repo *progressRepository) QueryRecords(ctx context.Context, userID string) ([]progress.Record, error) {
	if !validID(userID) {
		return []progress.Record{}, nil
	}
	var rows []progressRow
	err := sqlx.SelectContext(ctx, repo.db, &rows, `
		SELECT user_id, module_slug, lesson_slug, completed_at FROM lesson_progress
		WHERE user_id = $1 ORDER BY completed_at`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying progress records")
	}
	recs := make([]progress.Record, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.record())
	}
	return recs, nil
}
