package core

// DBOrdering is a single ORDER BY clause requested through the `ordering` query param.
type DBOrdering struct {
	Field     string
	Ascending bool
}

// AllowedOrderings keeps only orderings on the given fields, mapped to their column names.
func AllowedOrderings(ordering []DBOrdering, columns map[string]string) []DBOrdering {
	allowed := make([]DBOrdering, 0, len(ordering))
	for _, o := range ordering {
		if col, ok := columns[o.Field]; ok {
			allowed = append(allowed, DBOrdering{Field: col, Ascending: o.Ascending})
		}
	}
	return allowed
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
