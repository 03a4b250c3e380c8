package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

var ErrTenantNotFound = errors.New("catalog: tenant not found")

// ErrTenantExists is returned by CreateTenant when the slug is already
// taken.
var ErrTenantExists = errors.New("catalog: tenant already exists")

// CreateTenant inserts a new tenant row. The core never hard-deletes a
// tenant (spec.md §3).
func (s *Store) CreateTenant(ctx context.Context, t Tenant) error {
	const q = `
		INSERT INTO tenants (slug, display_name, api_key, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (slug) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q, t.Slug, t.DisplayName, t.APIKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantExists
	}
	return nil
}

// BootstrapAdminTenant ensures the reserved "admin" tenant exists with
// apiKey as its credential, creating it on first boot and repointing its
// key on every subsequent boot so rotating ADMIN_API_KEY takes effect
// without a manual migration.
func (s *Store) BootstrapAdminTenant(ctx context.Context, apiKey string) error {
	const q = `
		INSERT INTO tenants (slug, display_name, api_key, created_at)
		VALUES ('admin', 'Administrator', $1, now())
		ON CONFLICT (slug) DO UPDATE SET api_key = EXCLUDED.api_key`
	_, err := s.pool.Exec(ctx, q, apiKey)
	return err
}

// TenantByAPIKey resolves an API key to its owning tenant. This backs the
// single indexed lookup the Auth/Tenant Resolver (§4.J) performs on every
// request.
func (s *Store) TenantByAPIKey(ctx context.Context, apiKey string) (Tenant, error) {
	const q = `SELECT slug, display_name, api_key, created_at FROM tenants WHERE api_key = $1`
	var t Tenant
	err := s.pool.QueryRow(ctx, q, apiKey).Scan(&t.Slug, &t.DisplayName, &t.APIKey, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// TenantBySlug looks a tenant up by its primary key.
func (s *Store) TenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	const q = `SELECT slug, display_name, api_key, created_at FROM tenants WHERE slug = $1`
	var t Tenant
	err := s.pool.QueryRow(ctx, q, slug).Scan(&t.Slug, &t.DisplayName, &t.APIKey, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// ListTenants backs GET /admin/tenants.
func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug, display_name, api_key, created_at FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.Slug, &t.DisplayName, &t.APIKey, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
