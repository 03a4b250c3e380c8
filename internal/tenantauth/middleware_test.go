package tenantauth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragserver/internal/catalog"
	"github.com/fyrsmithlabs/ragserver/internal/tenantauth"
)

type fakeLookup struct {
	byKey map[string]catalog.Tenant
}

func (f *fakeLookup) TenantByAPIKey(ctx context.Context, apiKey string) (catalog.Tenant, error) {
	t, ok := f.byKey[apiKey]
	if !ok {
		return catalog.Tenant{}, catalog.ErrTenantNotFound
	}
	return t, nil
}

func TestResolver_Authenticate_UnknownKey(t *testing.T) {
	r, err := tenantauth.New(&fakeLookup{byKey: map[string]catalog.Tenant{}}, 10)
	require.NoError(t, err)

	_, err = r.Authenticate(context.Background(), "nope")
	require.ErrorIs(t, err, tenantauth.ErrUnknownKey)
}

func TestResolver_Authenticate_NoCredentials(t *testing.T) {
	r, err := tenantauth.New(&fakeLookup{byKey: map[string]catalog.Tenant{}}, 10)
	require.NoError(t, err)

	_, err = r.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, tenantauth.ErrNoCredentials)
}

func TestResolver_Authenticate_CachesSuccessfulLookup(t *testing.T) {
	lk := &fakeLookup{byKey: map[string]catalog.Tenant{"key-1": {Slug: "acme"}}}
	r, err := tenantauth.New(lk, 10)
	require.NoError(t, err)

	tenant, err := r.Authenticate(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, "acme", tenant.Slug)

	delete(lk.byKey, "key-1")
	tenant, err = r.Authenticate(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, "acme", tenant.Slug)
}

func TestMiddleware_ExtractsAPIKeyHeader(t *testing.T) {
	lk := &fakeLookup{byKey: map[string]catalog.Tenant{"key-1": {Slug: "acme"}}}
	r, err := tenantauth.New(lk, 10)
	require.NoError(t, err)

	e := echo.New()
	e.GET("/files", func(c echo.Context) error {
		return c.String(http.StatusOK, tenantauth.TenantSlug(c))
	}, r.Middleware())

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("X-API-Key", "key-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "acme", rec.Body.String())
}

func TestMiddleware_RejectsMissingCredentials(t *testing.T) {
	lk := &fakeLookup{byKey: map[string]catalog.Tenant{}}
	r, err := tenantauth.New(lk, 10)
	require.NoError(t, err)

	e := echo.New()
	e.GET("/files", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, r.Middleware())

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
