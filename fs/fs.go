// Package appfs embeds the database migrations and static assets shipped with the binary.
package appfs

import "embed"

//go:embed migrations/*.sql all:assets
var FS embed.FS

// DefaultCurriculumPath is the path of the bundled curriculum inside FS.
const DefaultCurriculumPath = "assets/course/curriculum.yaml"
