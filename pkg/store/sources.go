package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lucid-vigil/secops/pkg/types"
)

var dataSources = mapper[types.DataSource]{
	table:  "data_sources",
	entity: "data source",
	columns: []string{"id", "name", "type", "environment", "connection", "status",
		"polling_interval", "last_sync_time", "created_at", "updated_at"},
	order: "name, id",
	id:    func(v *types.DataSource) string { return v.ID },
	args: func(v *types.DataSource, now time.Time) ([]any, error) {
		conn, err := toJSON(orEmptyMap(v.Connection))
		if err != nil {
			return nil, err
		}
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.Name, string(v.Type), string(v.Environment), conn, string(v.Status),
			v.PollingInterval, nullTS(v.LastSyncTime), created, updated}, nil
	},
	scan: func(r rowScanner) (types.DataSource, error) {
		var (
			v        types.DataSource
			conn     string
			lastSync sql.NullString
			tc       timeCols
		)
		dest := []any{&v.ID, &v.Name, &v.Type, &v.Environment, &conn, &v.Status, &v.PollingInterval, &lastSync}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(conn, &v.Connection); err != nil {
			return v, err
		}
		var err error
		if v.LastSyncTime, err = parseNullTS(lastSync); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

// CreateDataSource inserts a data source.
func (s *Store) CreateDataSource(ctx context.Context, src types.DataSource) (types.DataSource, error) {
	return insert(ctx, s, dataSources, src)
}

// SaveDataSource inserts or replaces a data source.
func (s *Store) SaveDataSource(ctx context.Context, src types.DataSource) (types.DataSource, error) {
	return upsert(ctx, s, dataSources, src)
}

func (s *Store) GetDataSource(ctx context.Context, id string) (types.DataSource, error) {
	return get(ctx, s, dataSources, id)
}

// ListDataSources returns every data source, optionally limited to env.
func (s *Store) ListDataSources(ctx context.Context, env types.Environment) ([]types.DataSource, error) {
	if env == "" {
		return list(ctx, s, dataSources, "", nil)
	}
	return list(ctx, s, dataSources, "environment", string(env))
}

func (s *Store) UpdateDataSource(ctx context.Context, src types.DataSource) (types.DataSource, error) {
	return update(ctx, s, dataSources, src)
}

func (s *Store) DeleteDataSource(ctx context.Context, id string) error {
	return remove(ctx, s, dataSources, id)
}

func orEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func orEmptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
