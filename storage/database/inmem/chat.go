package inmemdb

import (
	"context"

	"github.com/trezcool/coursekit/core/chat"
)

type chatUsageRepository struct {
	db *chatUsageTable
}

var _ chat.UsageRepository = (*chatUsageRepository)(nil) // interface compliance check

func NewChatUsageRepository(db *DB) *chatUsageRepository {
	return &chatUsageRepository{db: db.usage}
}

func (repo *chatUsageRepository) IncrementUsage(_ context.Context, userID, period string) (chat.Usage, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := chatUsageKey{userID: userID, period: period}
	u := repo.db.table[key]
	u.UserID, u.Period = userID, period
	u.Count++
	repo.db.table[key] = u
	return u, nil
}

func (repo *chatUsageRepository) GetUsage(_ context.Context, userID, period string) (chat.Usage, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if u, ok := repo.db.table[chatUsageKey{userID: userID, period: period}]; ok {
		return u, nil
	}
	return chat.Usage{UserID: userID, Period: period}, nil
}
