package pgstore

import (
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
)

// query assembles a SELECT over tag_instances with positional arguments.
type query struct {
	conds []string
	args  []any
}

func newQuery(scope corpus.Scope) *query {
	q := &query{}
	if len(scope.DocumentIDs) > 0 {
		q.where("document_id = ANY(" + q.arg(pq.Array(scope.DocumentIDs)) + ")")
	}
	if len(scope.CollectionIDs) > 0 {
		q.where("collection_id = ANY(" + q.arg(pq.Array(scope.CollectionIDs)) + ")")
	}
	return q
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *query) where(cond string) {
	q.conds = append(q.conds, cond)
}

func (q *query) sql() string {
	var b strings.Builder
	b.WriteString(selectColumns)
	for i, c := range q.conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(c)
	}
	b.WriteString(" ORDER BY id")
	return b.String()
}
