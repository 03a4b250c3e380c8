package catalog

import "context"

// acquiredLock holds the dedicated pool connection a tenant lock was taken
// on; Postgres advisory locks are session-scoped, so the connection must
// be held until Release is called.
type acquiredLock struct {
	release func()
	ok      bool
}

// Held reports whether the lock was actually acquired.
func (l *acquiredLock) Held() bool { return l.ok }

// Release returns the underlying connection to the pool, releasing the
// session-scoped advisory lock along with it.
func (l *acquiredLock) Release() {
	if l.release != nil {
		l.release()
	}
}

// AcquireTenantLock takes a dedicated connection from the pool and
// attempts pg_try_advisory_lock(hashtext(tenant_slug)) on it. Callers must
// call Release on the returned lock exactly once, whether or not it was
// held, to return the connection to the pool.
func (s *Store) AcquireTenantLock(ctx context.Context, tenantSlug string) (*acquiredLock, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var ok bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, tenantSlug).Scan(&ok)
	if err != nil {
		conn.Release()
		return nil, err
	}
	if !ok {
		conn.Release()
		return &acquiredLock{ok: false}, nil
	}

	return &acquiredLock{
		ok: true,
		release: func() {
			_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, tenantSlug)
			conn.Release()
		},
	}, nil
}
