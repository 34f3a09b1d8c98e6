package store

import (
	"context"
	"time"

	"github.com/lucid-vigil/secops/pkg/types"
)

var users = mapper[types.User]{
	table:   "users",
	entity:  "user",
	columns: []string{"id", "email", "name", "role", "permissions", "created_at", "updated_at"},
	order:   "name, id",
	id:      func(v *types.User) string { return v.ID },
	args: func(v *types.User, now time.Time) ([]any, error) {
		perms, err := toJSON(orEmptySlice(v.Permissions))
		if err != nil {
			return nil, err
		}
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.Email, v.Name, string(v.Role), perms, created, updated}, nil
	},
	scan: func(r rowScanner) (types.User, error) {
		var (
			v     types.User
			perms string
			tc    timeCols
		)
		dest := []any{&v.ID, &v.Email, &v.Name, &v.Role, &perms}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(perms, &v.Permissions); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

var dashboards = mapper[types.Dashboard]{
	table:   "dashboards",
	entity:  "dashboard",
	columns: []string{"id", "user_id", "name", "role", "is_default", "created_at", "updated_at"},
	order:   "is_default DESC, name, id",
	id:      func(v *types.Dashboard) string { return v.ID },
	args: func(v *types.Dashboard, now time.Time) ([]any, error) {
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.UserID, v.Name, string(v.Role), v.IsDefault, created, updated}, nil
	},
	scan: func(r rowScanner) (types.Dashboard, error) {
		var (
			v  types.Dashboard
			tc timeCols
		)
		dest := []any{&v.ID, &v.UserID, &v.Name, &v.Role, &v.IsDefault}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

var widgets = mapper[types.DashboardWidget]{
	table:   "dashboard_widgets",
	entity:  "dashboard widget",
	columns: []string{"id", "dashboard_id", "type", "title", "position", "config", "created_at", "updated_at"},
	order:   "created_at, id",
	id:      func(v *types.DashboardWidget) string { return v.ID },
	args: func(v *types.DashboardWidget, now time.Time) ([]any, error) {
		pos, err := toJSON(orEmptyMap(v.Position))
		if err != nil {
			return nil, err
		}
		cfg, err := toJSON(orEmptyMap(v.Config))
		if err != nil {
			return nil, err
		}
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.DashboardID, v.Type, v.Title, pos, cfg, created, updated}, nil
	},
	scan: func(r rowScanner) (types.DashboardWidget, error) {
		var (
			v        types.DashboardWidget
			pos, cfg string
			tc       timeCols
		)
		dest := []any{&v.ID, &v.DashboardID, &v.Type, &v.Title, &pos, &cfg}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(pos, &v.Position); err != nil {
			return v, err
		}
		if err := fromJSON(cfg, &v.Config); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

func (s *Store) CreateUser(ctx context.Context, u types.User) (types.User, error) {
	return insert(ctx, s, users, u)
}

func (s *Store) GetUser(ctx context.Context, id string) (types.User, error) {
	return get(ctx, s, users, id)
}

func (s *Store) ListUsers(ctx context.Context) ([]types.User, error) {
	return list(ctx, s, users, "", nil)
}

func (s *Store) UpdateUser(ctx context.Context, u types.User) (types.User, error) {
	return update(ctx, s, users, u)
}

// DeleteUser removes the user with their dashboards.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return remove(ctx, s, users, id)
}

func (s *Store) CreateDashboard(ctx context.Context, d types.Dashboard) (types.Dashboard, error) {
	return insert(ctx, s, dashboards, d)
}

func (s *Store) GetDashboard(ctx context.Context, id string) (types.Dashboard, error) {
	return get(ctx, s, dashboards, id)
}

// ListDashboards returns a user's dashboards, the default first.
func (s *Store) ListDashboards(ctx context.Context, userID string) ([]types.Dashboard, error) {
	return list(ctx, s, dashboards, "user_id", userID)
}

func (s *Store) UpdateDashboard(ctx context.Context, d types.Dashboard) (types.Dashboard, error) {
	return update(ctx, s, dashboards, d)
}

func (s *Store) DeleteDashboard(ctx context.Context, id string) error {
	return remove(ctx, s, dashboards, id)
}

func (s *Store) CreateWidget(ctx context.Context, w types.DashboardWidget) (types.DashboardWidget, error) {
	return insert(ctx, s, widgets, w)
}

func (s *Store) GetWidget(ctx context.Context, id string) (types.DashboardWidget, error) {
	return get(ctx, s, widgets, id)
}

func (s *Store) ListWidgets(ctx context.Context, dashboardID string) ([]types.DashboardWidget, error) {
	return list(ctx, s, widgets, "dashboard_id", dashboardID)
}

func (s *Store) UpdateWidget(ctx context.Context, w types.DashboardWidget) (types.DashboardWidget, error) {
	return update(ctx, s, widgets, w)
}

func (s *Store) DeleteWidget(ctx context.Context, id string) error {
	return remove(ctx, s, widgets, id)
}
