// Package sqlxrepos implements the repositories on PostgreSQL with jmoiron/sqlx.
package sqlxrepos

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
)

const uniqueViolation = "23505"

// where accumulates AND-ed conditions with postgres positional arguments. Every ? of a
// condition refers to its single argument.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func orderBy(ordering []core.DBOrdering, columns map[string]string, fallback string) string {
	allowed := core.AllowedOrderings(ordering, columns)
	if len(allowed) == 0 {
		return " ORDER BY " + fallback
	}
	list := make([]string, 0, len(allowed))
	for _, ord := range allowed {
		list = append(list, ord.String())
	}
	return " ORDER BY " + strings.Join(list, ", ")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// validID keeps malformed ids away from uuid columns.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// named expands :name parameters of q from arg into positional ones.
func named(q string, arg interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.Named(q, arg)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args, nil
}
