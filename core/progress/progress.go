package progress

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
)

var (
	// errors
	ErrLessonLocked     = errors.New("lesson is locked for the current access tier")
	ErrNotAuthenticated = errors.New("progress is only tracked for signed in users")
)

// Record marks one lesson as completed by a user. It is unique on (UserID, ModuleSlug, LessonSlug).
type Record struct {
	UserID      string    `json:"user_id"`
	ModuleSlug  string    `json:"module"`
	LessonSlug  string    `json:"lesson"`
	CompletedAt time.Time `json:"completed_at"` // UTC
}

type Repository interface {
	// CreateRecordIfNotExists keeps the first completion time of a lesson.
	CreateRecordIfNotExists(ctx context.Context, r Record) (rec Record, created bool, err error)
	QueryRecords(ctx context.Context, userID string) ([]Record, error)
}

type (
	ModuleSummary struct {
		Slug      string `json:"slug"`
		Title     string `json:"title"`
		Completed int    `json:"completed"`
		Total     int    `json:"total"`
		Percent   int    `json:"percent"`
	}

	Summary struct {
		Modules   []ModuleSummary `json:"modules"`
		Completed int             `json:"completed"`
		Total     int             `json:"total"`
		Percent   int             `json:"percent"`
	}
)

func (s Summary) IsComplete() bool { return s.Total > 0 && s.Completed == s.Total }

type Service struct {
	repo Repository
	gate *access.Gate
}

func NewService(repo Repository, gate *access.Gate) *Service {
	return &Service{repo: repo, gate: gate}
}

// Complete records a lesson completion. Unknown lessons return access.ErrLessonNotFound and
// lessons locked for tier return ErrLessonLocked.
func (svc *Service) Complete(ctx context.Context, userID string, tier access.Tier, moduleSlug, lessonSlug string) (Record, bool, error) {
	if userID == "" {
		return Record{}, false, ErrNotAuthenticated
	}
	m, l, ok := svc.gate.Curriculum().Lesson(moduleSlug, lessonSlug)
	if !ok {
		return Record{}, false, access.ErrLessonNotFound
	}
	if !svc.gate.IsLessonAccessible(m.Slug, tier) {
		return Record{}, false, ErrLessonLocked
	}

	rec, created, err := svc.repo.CreateRecordIfNotExists(ctx, Record{
		UserID:      userID,
		ModuleSlug:  m.Slug,
		LessonSlug:  l.Slug,
		CompletedAt: core.NowFunc(),
	})
	if err != nil {
		return Record{}, false, errors.Wrap(err, "recording lesson completion")
	}
	return rec, created, nil
}

// Summary counts the user's completed lessons per module. Records of lessons no longer in the
// curriculum are ignored. Percentages are rounded down.
func (svc *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	done := make(map[[2]string]struct{})
	if userID != "" {
		recs, err := svc.repo.QueryRecords(ctx, userID)
		if err != nil {
			return Summary{}, errors.Wrap(err, "querying progress records")
		}
		for _, r := range recs {
			done[[2]string{r.ModuleSlug, r.LessonSlug}] = struct{}{}
		}
	}

	curriculum := svc.gate.Curriculum()
	sum := Summary{Modules: make([]ModuleSummary, 0, len(curriculum.Modules))}
	for _, m := range curriculum.Modules {
		ms := ModuleSummary{Slug: m.Slug, Title: m.Title, Total: len(m.Lessons)}
		for _, l := range m.Lessons {
			if _, ok := done[[2]string{m.Slug, l.Slug}]; ok {
				ms.Completed++
			}
		}
		ms.Percent = percent(ms.Completed, ms.Total)
		sum.Completed += ms.Completed
		sum.Total += ms.Total
		sum.Modules = append(sum.Modules, ms)
	}
	sum.Percent = percent(sum.Completed, sum.Total)
	return sum, nil
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return n * 100 / total
}
