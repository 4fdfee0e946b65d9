package validate

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/airframesio/data-differ/cmd/backend"
)

var ErrFilterSyntax = errors.New("filter is not a valid boolean expression")

// parsesFilters reports whether filters for a dialect can be checked with the
// PostgreSQL grammar. DuckDB's parser is derived from it.
func parsesFilters(dialect string) bool {
	return dialect == backend.DialectDuckDB || dialect == backend.DialectPostgres
}

// Syntax parses a filter as the WHERE clause of an otherwise empty SELECT. The filter
// must be a single expression: no extra clauses, no subqueries and nothing left over
// after the expression.
func Syntax(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}

	result, err := pg_query.Parse("SELECT 1 WHERE " + expr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFilterSyntax, err.Error())
	}
	if len(result.Stmts) != 1 {
		return fmt.Errorf("%w: multiple statements", ErrDisallowedFilter)
	}

	sel := result.Stmts[0].Stmt.GetSelectStmt()
	switch {
	case sel == nil, sel.Op != pg_query.SetOperation_SETOP_NONE:
		return fmt.Errorf("%w: not a plain expression", ErrDisallowedFilter)
	case len(sel.TargetList) != 1, len(sel.FromClause) > 0, sel.WithClause != nil, sel.IntoClause != nil,
		len(sel.GroupClause) > 0, sel.HavingClause != nil, len(sel.WindowClause) > 0,
		len(sel.SortClause) > 0, sel.LimitCount != nil, sel.LimitOffset != nil, len(sel.LockingClause) > 0:
		return fmt.Errorf("%w: clauses after the expression", ErrDisallowedFilter)
	case sel.WhereClause == nil:
		return fmt.Errorf("%w: empty expression", ErrFilterSyntax)
	}

	if containsQuery(sel.WhereClause.ProtoReflect()) {
		return fmt.Errorf("%w: subquery", ErrDisallowedFilter)
	}
	return nil
}

// containsQuery walks every message field of a parse tree node
func containsQuery(m protoreflect.Message) bool {
	switch m.Interface().(type) {
	case *pg_query.SubLink, *pg_query.SelectStmt, *pg_query.RangeSubselect:
		return true
	}

	found := false
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len() && !found; i++ {
				found = containsQuery(list.Get(i).Message())
			}
		} else {
			found = containsQuery(v.Message())
		}
		return !found
	})
	return found
}
