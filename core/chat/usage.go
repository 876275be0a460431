package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
)

const periodLayout = "2006-01"

var ErrUsageLimitReached = errors.New("monthly AI chat limit reached")

// Usage is the number of questions a user asked during a calendar month (UTC).
type Usage struct {
	UserID string `json:"-"`
	Period string `json:"period"` // YYYY-MM
	Count  int    `json:"count"`
	Limit  int    `json:"limit,omitempty"`
}

func (u Usage) Remaining() int {
	if u.Limit <= 0 {
		return -1
	}
	if left := u.Limit - u.Count; left > 0 {
		return left
	}
	return 0
}

type UsageRepository interface {
	// IncrementUsage atomically adds one question to the (userID, period) counter and returns it.
	IncrementUsage(ctx context.Context, userID, period string) (Usage, error)
	GetUsage(ctx context.Context, userID, period string) (Usage, error)
}

func currentPeriod() string {
	return core.NowFunc().UTC().Format(periodLayout)
}

// PeriodEnd is the first instant of the month following period.
func PeriodEnd(period string) (time.Time, error) {
	start, err := time.Parse(periodLayout, period)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parsing usage period")
	}
	return start.AddDate(0, 1, 0), nil
}

// Usage reports the current month usage of userID.
func (svc *Service) Usage(ctx context.Context, userID string) (Usage, error) {
	u, err := svc.usage.GetUsage(ctx, userID, currentPeriod())
	if err != nil {
		return Usage{}, errors.Wrap(err, "getting chat usage")
	}
	u.Limit = svc.monthlyLimit
	return u, nil
}

// consume counts one question against the monthly limit. The counter is incremented before the
// check so concurrent requests cannot overshoot it; rejected questions are counted too.
func (svc *Service) consume(ctx context.Context, userID string) (Usage, error) {
	u, err := svc.usage.IncrementUsage(ctx, userID, currentPeriod())
	if err != nil {
		return Usage{}, errors.Wrap(err, "counting chat usage")
	}
	u.Limit = svc.monthlyLimit
	if svc.monthlyLimit > 0 && u.Count > svc.monthlyLimit {
		return u, ErrUsageLimitReached
	}
	return u, nil
}
