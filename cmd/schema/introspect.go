package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/comparison"
)

// Introspector reads source schemas from a backend
type Introspector struct {
	backend backend.Backend
	logger  *slog.Logger
}

func NewIntrospector(b backend.Backend, logger *slog.Logger) *Introspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Introspector{backend: b, logger: logger}
}

// Columns returns the ordered columns of a source. Key metadata is attached for table
// sources when the backend catalog exposes it.
func (i *Introspector) Columns(ctx context.Context, src comparison.Source) ([]Column, error) {
	cols, err := i.readColumns(ctx, src)
	if err != nil {
		return nil, err
	}
	if src.Type == comparison.SourceTable {
		i.attachKeys(ctx, src, cols)
	}
	return cols, nil
}

// readColumns releases its connection before returning, single connection backends
// need it for the key metadata query.
func (i *Introspector) readColumns(ctx context.Context, src comparison.Source) ([]Column, error) {
	query := "SELECT * FROM " + backend.SourceRef(src) + " LIMIT 0"
	rows, err := i.backend.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", src.Label(), err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types of %s: %w", src.Label(), err)
	}

	cols := make([]Column, 0, len(types))
	for _, ct := range types {
		col := Column{Name: ct.Name(), SQLType: ct.DatabaseTypeName()}
		if nullable, ok := ct.Nullable(); ok {
			col.Nullable = nullable
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

func (i *Introspector) attachKeys(ctx context.Context, src comparison.Source, cols []Column) {
	query, args, ok := i.backend.Dialect().KeyConstraintsQuery(src.SchemaName, src.TableName)
	if !ok {
		return
	}

	rows, err := i.backend.QueryContext(ctx, query, args...)
	if err != nil {
		i.logger.Debug(fmt.Sprintf("Key metadata unavailable for %s: %v", src.Label(), err))
		return
	}
	defer rows.Close()

	type constraint struct {
		kind    string
		columns []string
	}
	var order []string
	constraints := make(map[string]*constraint)
	for rows.Next() {
		var name, kind, column sql.NullString
		if err := rows.Scan(&name, &kind, &column); err != nil {
			i.logger.Debug(fmt.Sprintf("Failed to scan key metadata for %s: %v", src.Label(), err))
			return
		}
		c, exists := constraints[name.String]
		if !exists {
			c = &constraint{kind: kind.String}
			constraints[name.String] = c
			order = append(order, name.String)
		}
		c.columns = append(c.columns, column.String)
	}

	index := make(map[string]int, len(cols))
	for idx, col := range cols {
		index[col.Name] = idx
	}
	for _, name := range order {
		c := constraints[name]
		for _, colName := range c.columns {
			idx, ok := index[colName]
			if !ok {
				continue
			}
			switch {
			case c.kind == "PRIMARY KEY":
				cols[idx].PrimaryKey = true
			case len(c.columns) == 1:
				cols[idx].Unique = true
			}
		}
	}
}

// EstimateRows returns a catalog row estimate, or nil when none is available
func (i *Introspector) EstimateRows(ctx context.Context, src comparison.Source) *int64 {
	if src.Type != comparison.SourceTable {
		return nil
	}
	query, args, ok := i.backend.Dialect().RowEstimateQuery(src.SchemaName, src.TableName)
	if !ok {
		return nil
	}
	count, err := backend.QueryCount(ctx, i.backend, query, args...)
	if err != nil {
		i.logger.Debug(fmt.Sprintf("Row estimate unavailable for %s: %v", src.Label(), err))
		return nil
	}
	return &count
}

// Compare introspects both sources and compares them
func (i *Introspector) Compare(ctx context.Context, a, b comparison.Source) (*Result, error) {
	colsA, err := i.Columns(ctx, a)
	if err != nil {
		return nil, err
	}
	colsB, err := i.Columns(ctx, b)
	if err != nil {
		return nil, err
	}

	res := Compare(colsA, colsB)
	res.RowCountA = i.EstimateRows(ctx, a)
	res.RowCountB = i.EstimateRows(ctx, b)
	return res, nil
}
