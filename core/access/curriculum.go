package access

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/fs"
)

var ErrInvalidCurriculum = errors.New("invalid curriculum")

type (
	Lesson struct {
		Slug  string `yaml:"slug" json:"slug"`
		Title string `yaml:"title" json:"title"`
		Body  string `yaml:"body" json:"-"`
	}

	Module struct {
		Slug    string   `yaml:"slug" json:"slug"`
		Title   string   `yaml:"title" json:"title"`
		Trial   bool     `yaml:"trial" json:"trial"` // accessible to the trial tier
		Lessons []Lesson `yaml:"lessons" json:"lessons"`
	}

	// Curriculum is the static, ordered list of course modules.
	Curriculum struct {
		Title   string   `yaml:"title" json:"title"`
		Modules []Module `yaml:"modules" json:"modules"`

		modules map[string]int
	}
)

// LoadCurriculum reads the curriculum at path, or the embedded default when path is empty.
func LoadCurriculum(path string) (*Curriculum, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = appfs.FS.ReadFile(appfs.DefaultCurriculumPath)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading curriculum")
	}
	return ParseCurriculum(data)
}

func ParseCurriculum(data []byte) (*Curriculum, error) {
	c := new(Curriculum)
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "decoding curriculum")
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCurriculum builds a curriculum from modules, applying the same checks as ParseCurriculum.
func NewCurriculum(title string, modules ...Module) (*Curriculum, error) {
	c := &Curriculum{Title: title, Modules: modules}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Curriculum) init() error {
	if len(c.Modules) == 0 {
		return errors.Wrap(ErrInvalidCurriculum, "no modules")
	}
	c.modules = make(map[string]int, len(c.Modules))
	for i, m := range c.Modules {
		m.Slug = core.CleanString(m.Slug, true /* lower */)
		if m.Slug == "" {
			return errors.Wrapf(ErrInvalidCurriculum, "module #%d has no slug", i+1)
		}
		if _, dup := c.modules[m.Slug]; dup {
			return errors.Wrapf(ErrInvalidCurriculum, "duplicate module %q", m.Slug)
		}
		if len(m.Lessons) == 0 {
			return errors.Wrapf(ErrInvalidCurriculum, "module %q has no lessons", m.Slug)
		}
		lessons := make(map[string]struct{}, len(m.Lessons))
		for j, l := range m.Lessons {
			l.Slug = core.CleanString(l.Slug, true /* lower */)
			if l.Slug == "" {
				return errors.Wrapf(ErrInvalidCurriculum, "lesson #%d of module %q has no slug", j+1, m.Slug)
			}
			if _, dup := lessons[l.Slug]; dup {
				return errors.Wrapf(ErrInvalidCurriculum, "duplicate lesson %q in module %q", l.Slug, m.Slug)
			}
			lessons[l.Slug] = struct{}{}
			m.Lessons[j] = l
		}
		c.Modules[i] = m
		c.modules[m.Slug] = i
	}
	return nil
}

// Module looks slug up case-insensitively, ignoring surrounding spaces.
func (c *Curriculum) Module(slug string) (Module, bool) {
	i, ok := c.modules[core.CleanString(slug, true /* lower */)]
	if !ok {
		return Module{}, false
	}
	return c.Modules[i], true
}

func (c *Curriculum) Lesson(moduleSlug, lessonSlug string) (Module, Lesson, bool) {
	m, ok := c.Module(moduleSlug)
	if !ok {
		return Module{}, Lesson{}, false
	}
	lessonSlug = core.CleanString(lessonSlug, true /* lower */)
	for _, l := range m.Lessons {
		if l.Slug == lessonSlug {
			return m, l, true
		}
	}
	return Module{}, Lesson{}, false
}

func (c *Curriculum) LessonCount() int {
	var n int
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}
