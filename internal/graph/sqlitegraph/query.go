package sqlitegraph

import (
	"fmt"
	"strings"

	"github.com/roach88/hashcons/internal/graph"
)

// pageSize bounds how many vertex ids one page query returns.
const pageSize = 256

// vertexQuery is a compiled-on-demand vertex lookup. Pages are keyed by
// vertex id so iteration never holds a cursor open across callbacks.
type vertexQuery struct {
	label   string
	filters []graph.Filter
	index   *graph.IndexSpec
}

// compile converts the query to parameterized SQL returning (id, label)
// rows with id above after (when started is true), in ascending id order.
// Values are never interpolated.
func (q vertexQuery) compile(after int64, started bool, limit int) (string, []any, error) {
	var (
		from   string
		where  []string
		params []any
	)

	if q.index != nil {
		entry, err := graph.FilterEntry(*q.index, q.filters)
		if err != nil {
			return "", nil, fmt.Errorf("compile: %w", err)
		}
		from = "index_entries ie JOIN vertices v ON v.id = ie.vertex_id"
		where = append(where, "ie.index_name = ?", "ie.entry = ?")
		params = append(params, q.index.Name, entry)
	} else {
		from = "vertices v"
		for _, f := range q.filters {
			enc, err := graph.EncodeValue(f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("compile filter %q: %w", f.Key, err)
			}
			where = append(where, "EXISTS (SELECT 1 FROM properties p WHERE p.vertex_id = v.id AND p.key = ? AND p.value = ?)")
			params = append(params, f.Key, enc)
		}
	}

	if q.label != "" {
		where = append(where, "v.label = ?")
		params = append(params, q.label)
	}
	if started {
		where = append(where, "v.id > ?")
		params = append(params, after)
	}

	var whereClause string
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	sql := fmt.Sprintf("SELECT v.id, v.label FROM %s%s ORDER BY v.id ASC LIMIT ?", from, whereClause)
	params = append(params, limit)
	return sql, params, nil
}

// coveringIndex returns the declared index answering label+filters exactly.
func coveringIndex(indexes []graph.IndexSpec, label string, filters []graph.Filter) *graph.IndexSpec {
	if len(filters) == 0 {
		return nil
	}
	for i := range indexes {
		if indexes[i].Covers(label, filters) {
			return &indexes[i]
		}
	}
	return nil
}
