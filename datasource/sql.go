package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hupe1980/agentstep/core"
)

// Querier runs a query. *pgx.Conn and *pgxpool.Pool satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Connector opens a Querier for a connection string. The returned func
// releases it.
type Connector func(ctx context.Context, connString string) (Querier, func(), error)

// ConnectPostgres opens a single pgx connection.
func ConnectPostgres(ctx context.Context, connString string) (Querier, func(), error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { _ = conn.Close(context.Background()) }, nil
}

// BindFilter rewrites every @filter@ placeholder in query as the positional
// parameter $1 and returns the arguments to pass along with it. The
// placeholder must stand where a value expression is allowed.
func BindFilter(query, filter string) (string, []any) {
	if !strings.Contains(query, core.FilterPlaceholder) {
		return query, nil
	}
	return strings.ReplaceAll(query, core.FilterPlaceholder, "$1"), []any{filter}
}

func (f *Fetcher) fetchSQL(ctx context.Context, src *core.SQLSource, filter string) (*Data, error) {
	if src.ConnectionString == "" || src.Query == "" {
		return nil, core.NewConfigError("sql source", fmt.Errorf("%w: connection string and query", core.ErrMissingArgument))
	}

	q, release, err := f.connect(ctx, src.ConnectionString)
	if err != nil {
		return nil, &core.BackendError{Backend: "sql", Message: err.Error(), Err: err}
	}
	defer release()

	query, args := BindFilter(src.Query, filter)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, &core.BackendError{Backend: "sql", Message: err.Error(), Err: err}
	}
	defer rows.Close()

	records, err := collect(rows)
	if err != nil {
		return nil, &core.BackendError{Backend: "sql", Message: err.Error(), Err: err}
	}

	out, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode sql rows: %w", err)
	}
	return &Data{Source: core.SourceSQL, Content: string(out), JSON: true}, nil
}

// collect turns every row into a column name to value map.
func collect(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	records := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, fd := range fields {
			if i < len(values) {
				record[fd.Name] = values[i]
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
