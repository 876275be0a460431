package access

import "github.com/pkg/errors"

var ErrLessonNotFound = errors.New("lesson not found")

type (
	LessonRef struct {
		Slug  string `json:"slug"`
		Title string `json:"title"`
	}

	ModuleView struct {
		Slug    string      `json:"slug"`
		Title   string      `json:"title"`
		Trial   bool        `json:"trial"`
		Locked  bool        `json:"locked"`
		Lessons []LessonRef `json:"lessons"`
	}

	// LessonView is what is sent to the client. Body is empty whenever Locked is set.
	LessonView struct {
		Module       string `json:"module"`
		Lesson       string `json:"lesson"`
		Title        string `json:"title"`
		Locked       bool   `json:"locked"`
		RequiredTier string `json:"required_tier,omitempty"`
		Body         string `json:"body,omitempty"`
	}
)

// Gate decides which curriculum content a tier may see.
type Gate struct {
	curriculum *Curriculum
}

func NewGate(curriculum *Curriculum) *Gate {
	return &Gate{curriculum: curriculum}
}

func (g *Gate) Curriculum() *Curriculum { return g.curriculum }

// IsModuleAccessible: TierFull sees every module, TierTrial only the trial modules and
// TierNone nothing. Unknown modules are never accessible.
func (g *Gate) IsModuleAccessible(moduleSlug string, tier Tier) bool {
	m, ok := g.curriculum.Module(moduleSlug)
	if !ok {
		return false
	}
	switch tier {
	case TierFull:
		return true
	case TierTrial:
		return m.Trial
	case TierNone:
		return false
	}
	return false
}

// IsLessonAccessible follows the access of the lesson's module.
func (g *Gate) IsLessonAccessible(moduleSlug string, tier Tier) bool {
	return g.IsModuleAccessible(moduleSlug, tier)
}

// Outline lists every module with its lock state for tier. It never carries lesson bodies.
func (g *Gate) Outline(tier Tier) []ModuleView {
	views := make([]ModuleView, 0, len(g.curriculum.Modules))
	for _, m := range g.curriculum.Modules {
		refs := make([]LessonRef, 0, len(m.Lessons))
		for _, l := range m.Lessons {
			refs = append(refs, LessonRef{Slug: l.Slug, Title: l.Title})
		}
		views = append(views, ModuleView{
			Slug:    m.Slug,
			Title:   m.Title,
			Trial:   m.Trial,
			Locked:  !g.IsModuleAccessible(m.Slug, tier),
			Lessons: refs,
		})
	}
	return views
}

// ServeLesson returns the lesson for tier, or a locked placeholder with no body when the
// tier may not see it.
func (g *Gate) ServeLesson(moduleSlug, lessonSlug string, tier Tier) (LessonView, error) {
	m, l, ok := g.curriculum.Lesson(moduleSlug, lessonSlug)
	if !ok {
		return LessonView{}, ErrLessonNotFound
	}
	view := LessonView{Module: m.Slug, Lesson: l.Slug, Title: l.Title}
	if !g.IsLessonAccessible(m.Slug, tier) {
		view.Locked = true
		view.RequiredTier = requiredTier(m).String()
		return view, nil
	}
	view.Body = l.Body
	return view, nil
}

func requiredTier(m Module) Tier {
	if m.Trial {
		return TierTrial
	}
	return TierFull
}
