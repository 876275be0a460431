package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core/chat"
)

type chatUsageRow struct {
	UserID string `db:"user_id"`
	Period string `db:"period"`
	Count  int    `db:"count"`
}

func (r chatUsageRow) usage() chat.Usage {
	return chat.Usage{UserID: r.UserID, Period: r.Period, Count: r.Count}
}

type chatUsageRepository struct {
	db sqlx.ExtContext
}

var _ chat.UsageRepository = (*chatUsageRepository)(nil) // interface compliance check

func NewChatUsageRepository(db sqlx.ExtContext) *chatUsageRepository {
	return &chatUsageRepository{db: db}
}

func (repo *chatUsageRepository) IncrementUsage(ctx context.Context, userID, period string) (chat.Usage, error) {
	if !validID(userID) {
		return chat.Usage{}, errors.Errorf("invalid user id %q", userID)
	}
	var row chatUsageRow
	err := sqlx.GetContext(ctx, repo.db, &row, `
		INSERT INTO chat_usage (user_id, period, count, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (user_id, period) DO UPDATE SET count = chat_usage.count + 1, updated_at = now()
		RETURNING user_id, period, count`,
		userID, period)
	if err != nil {
		return chat.Usage{}, errors.Wrap(err, "incrementing chat usage")
	}
	return row.usage(), nil
}

func (repo *chatUsageRepository) GetUsage(ctx context.Context, userID, period string) (chat.Usage, error) {
	empty := chat.Usage{UserID: userID, Period: period}
	if !validID(userID) {
		return empty, nil
	}
	var row chatUsageRow
	err := sqlx.GetContext(ctx, repo.db, &row, `
		SELECT user_id, period, count FROM chat_usage WHERE user_id = $1 AND period = $2`,
		userID, period)
	if err == sql.ErrNoRows {
		return empty, nil
	}
	if err != nil {
		return chat.Usage{}, errors.Wrap(err, "getting chat usage")
	}
	return row.usage(), nil
}
