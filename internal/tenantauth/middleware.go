// Package tenantauth implements an echo middleware that authenticates
// X-API-Key / Bearer credentials against the catalog and sets
// tenant_slug in request state, backed by a database lookup with an
// LRU cache in front of it.
package tenantauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ragserver/internal/catalog"
)

// tenantSlugKey is the echo context key every downstream handler reads
// from, never from client-supplied request bodies (spec.md §4.K).
const tenantSlugKey = "tenant_slug"

// AdminSlug is the reserved tenant slug that gates admin endpoints.
const AdminSlug = "admin"

// ErrNoCredentials and ErrUnknownKey are AuthErrors (spec.md §7).
var (
	ErrNoCredentials = errors.New("tenantauth: no credentials presented")
	ErrUnknownKey    = errors.New("tenantauth: unknown api key")
)

// TenantLookup resolves an API key to a Tenant; *catalog.Store satisfies
// it via TenantByAPIKey.
type TenantLookup interface {
	TenantByAPIKey(ctx context.Context, apiKey string) (catalog.Tenant, error)
}

// Resolver authenticates requests and caches api_key → Tenant lookups,
// since every request pays this cost (spec.md §4.J: "single indexed
// lookup... keys are treated as opaque").
type Resolver struct {
	lookup TenantLookup
	cache  *lru.Cache[string, catalog.Tenant]
}

// New builds a Resolver with an LRU cache of the given size.
func New(lookup TenantLookup, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, catalog.Tenant](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{lookup: lookup, cache: cache}, nil
}

// Authenticate resolves the credential carried by req, used directly by
// tests and by the Middleware below.
func (r *Resolver) Authenticate(ctx context.Context, apiKey string) (catalog.Tenant, error) {
	if apiKey == "" {
		return catalog.Tenant{}, ErrNoCredentials
	}
	if t, ok := r.cache.Get(apiKey); ok {
		return t, nil
	}
	t, err := r.lookup.TenantByAPIKey(ctx, apiKey)
	if err != nil {
		return catalog.Tenant{}, ErrUnknownKey
	}
	r.cache.Add(apiKey, t)
	return t, nil
}

// Middleware extracts X-API-Key or "Authorization: Bearer <key>",
// authenticates it, and stores tenant_slug in echo's request state.
func (r *Resolver) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := extractKey(c.Request())
			tenant, err := r.Authenticate(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
			}
			c.Set(tenantSlugKey, tenant.Slug)
			return next(c)
		}
	}
}

// RequireAdmin gates admin-only endpoints (spec.md §4.J: "reserved
// slug admin gates admin endpoints"); it must run after Middleware.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if TenantSlug(c) != AdminSlug {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "admin access required"})
		}
		return next(c)
	}
}

// TenantSlug reads the authenticated tenant_slug set by Middleware.
func TenantSlug(c echo.Context) string {
	slug, _ := c.Get(tenantSlugKey).(string)
	return slug
}

func extractKey(req *http.Request) string {
	if key := req.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
