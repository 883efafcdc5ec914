package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// filter accumulates WHERE conditions with positional arguments.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

// timeRange adds Since/Until bounds on col.
func (f *filter) timeRange(col string, since, until *time.Time) {
	if since != nil {
		f.add(col+" >= $%d", *since)
	}
	if until != nil {
		f.add(col+" <= $%d", *until)
	}
}

// build appends WHERE, ORDER BY and LIMIT/OFFSET clauses to base.
func (f *filter) build(base, orderBy string, opts domain.ListOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString(base)
	if len(f.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(f.conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy)

	args := f.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}
