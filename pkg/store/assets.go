package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lucid-vigil/secops/pkg/types"
)

var assets = mapper[types.Asset]{
	table:  "assets",
	entity: "asset",
	columns: []string{"id", "name", "type", "environment", "ip_address", "criticality",
		"owner", "location", "tags", "created_at", "updated_at"},
	order: "name, id",
	id:    func(v *types.Asset) string { return v.ID },
	args: func(v *types.Asset, now time.Time) ([]any, error) {
		tags, err := toJSON(orEmptySlice(v.Tags))
		if err != nil {
			return nil, err
		}
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.Name, v.Type, string(v.Environment), v.IPAddress, string(v.Criticality),
			v.Owner, v.Location, tags, created, updated}, nil
	},
	scan: func(r rowScanner) (types.Asset, error) {
		var (
			v    types.Asset
			tags string
			tc   timeCols
		)
		dest := []any{&v.ID, &v.Name, &v.Type, &v.Environment, &v.IPAddress, &v.Criticality,
			&v.Owner, &v.Location, &tags}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(tags, &v.Tags); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

var vulnerabilities = mapper[types.Vulnerability]{
	table:  "vulnerabilities",
	entity: "vulnerability",
	columns: []string{"id", "asset_id", "cve", "title", "severity", "cvss", "status",
		"detected_at", "created_at", "updated_at"},
	order: "detected_at DESC, id",
	id:    func(v *types.Vulnerability) string { return v.ID },
	args: func(v *types.Vulnerability, now time.Time) ([]any, error) {
		if v.DetectedAt.IsZero() {
			v.DetectedAt = now
		}
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.AssetID, v.CVE, v.Title, string(v.Severity), v.CVSS, v.Status,
			ts(v.DetectedAt), created, updated}, nil
	},
	scan: func(r rowScanner) (types.Vulnerability, error) {
		var (
			v        types.Vulnerability
			detected string
			tc       timeCols
		)
		dest := []any{&v.ID, &v.AssetID, &v.CVE, &v.Title, &v.Severity, &v.CVSS, &v.Status, &detected}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		var err error
		if v.DetectedAt, err = parseTS(detected); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

var patches = mapper[types.Patch]{
	table:  "patches",
	entity: "patch",
	columns: []string{"id", "asset_id", "name", "version", "status", "released_at", "applied_at",
		"created_at", "updated_at"},
	order: "name, id",
	id:    func(v *types.Patch) string { return v.ID },
	args: func(v *types.Patch, now time.Time) ([]any, error) {
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.AssetID, v.Name, v.Version, v.Status, nullTS(v.ReleasedAt), nullTS(v.AppliedAt),
			created, updated}, nil
	},
	scan: func(r rowScanner) (types.Patch, error) {
		var (
			v                 types.Patch
			released, applied sql.NullString
			tc                timeCols
		)
		dest := []any{&v.ID, &v.AssetID, &v.Name, &v.Version, &v.Status, &released, &applied}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		var err error
		if v.ReleasedAt, err = parseNullTS(released); err != nil {
			return v, err
		}
		if v.AppliedAt, err = parseNullTS(applied); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

var configurations = mapper[types.Configuration]{
	table:   "configurations",
	entity:  "configuration",
	columns: []string{"id", "asset_id", "name", "settings", "compliant", "created_at", "updated_at"},
	order:   "name, id",
	id:      func(v *types.Configuration) string { return v.ID },
	args: func(v *types.Configuration, now time.Time) ([]any, error) {
		settings, err := toJSON(orEmptyMap(v.Settings))
		if err != nil {
			return nil, err
		}
		created, updated := stamp(&v.CreatedAt, &v.UpdatedAt, now)
		return []any{v.ID, v.AssetID, v.Name, settings, v.Compliant, created, updated}, nil
	},
	scan: func(r rowScanner) (types.Configuration, error) {
		var (
			v        types.Configuration
			settings string
			tc       timeCols
		)
		dest := []any{&v.ID, &v.AssetID, &v.Name, &settings, &v.Compliant}
		if err := r.Scan(append(dest, tc.dest()...)...); err != nil {
			return v, err
		}
		if err := fromJSON(settings, &v.Settings); err != nil {
			return v, err
		}
		return v, tc.into(&v.CreatedAt, &v.UpdatedAt)
	},
}

func (s *Store) CreateAsset(ctx context.Context, a types.Asset) (types.Asset, error) {
	return insert(ctx, s, assets, a)
}

func (s *Store) GetAsset(ctx context.Context, id string) (types.Asset, error) {
	return get(ctx, s, assets, id)
}

// ListAssets returns every asset, optionally limited to env.
func (s *Store) ListAssets(ctx context.Context, env types.Environment) ([]types.Asset, error) {
	if env == "" {
		return list(ctx, s, assets, "", nil)
	}
	return list(ctx, s, assets, "environment", string(env))
}

func (s *Store) UpdateAsset(ctx context.Context, a types.Asset) (types.Asset, error) {
	return update(ctx, s, assets, a)
}

// DeleteAsset removes the asset with its vulnerabilities, patches and
// configurations.
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	return remove(ctx, s, assets, id)
}

func (s *Store) CreateVulnerability(ctx context.Context, v types.Vulnerability) (types.Vulnerability, error) {
	return insert(ctx, s, vulnerabilities, v)
}

func (s *Store) GetVulnerability(ctx context.Context, id string) (types.Vulnerability, error) {
	return get(ctx, s, vulnerabilities, id)
}

// ListVulnerabilities returns an asset's vulnerabilities, newest first.
func (s *Store) ListVulnerabilities(ctx context.Context, assetID string) ([]types.Vulnerability, error) {
	return list(ctx, s, vulnerabilities, "asset_id", assetID)
}

func (s *Store) UpdateVulnerability(ctx context.Context, v types.Vulnerability) (types.Vulnerability, error) {
	return update(ctx, s, vulnerabilities, v)
}

func (s *Store) DeleteVulnerability(ctx context.Context, id string) error {
	return remove(ctx, s, vulnerabilities, id)
}

func (s *Store) CreatePatch(ctx context.Context, p types.Patch) (types.Patch, error) {
	return insert(ctx, s, patches, p)
}

func (s *Store) GetPatch(ctx context.Context, id string) (types.Patch, error) {
	return get(ctx, s, patches, id)
}

func (s *Store) ListPatches(ctx context.Context, assetID string) ([]types.Patch, error) {
	return list(ctx, s, patches, "asset_id", assetID)
}

func (s *Store) UpdatePatch(ctx context.Context, p types.Patch) (types.Patch, error) {
	return update(ctx, s, patches, p)
}

func (s *Store) DeletePatch(ctx context.Context, id string) error {
	return remove(ctx, s, patches, id)
}

func (s *Store) CreateConfiguration(ctx context.Context, c types.Configuration) (types.Configuration, error) {
	return insert(ctx, s, configurations, c)
}

func (s *Store) GetConfiguration(ctx context.Context, id string) (types.Configuration, error) {
	return get(ctx, s, configurations, id)
}

func (s *Store) ListConfigurations(ctx context.Context, assetID string) ([]types.Configuration, error) {
	return list(ctx, s, configurations, "asset_id", assetID)
}

func (s *Store) UpdateConfiguration(ctx context.Context, c types.Configuration) (types.Configuration, error) {
	return update(ctx, s, configurations, c)
}

func (s *Store) DeleteConfiguration(ctx context.Context, id string) error {
	return remove(ctx, s, configurations, id)
}
