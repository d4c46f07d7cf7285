package memory

import (
	"context"
	"strings"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type tenantStore struct {
	s *Store
}

func (t *tenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	tenant.Domain = strings.ToLower(strings.TrimSpace(tenant.Domain))
	for _, existing := range t.s.tenants {
		if existing.Domain == tenant.Domain {
			return storage.ErrDuplicate
		}
	}
	if _, ok := t.s.tenants[tenant.ID]; ok {
		return storage.ErrDuplicate
	}

	touch(&tenant.CreatedAt, &tenant.UpdatedAt)
	t.s.tenants[tenant.ID] = *tenant
	return nil
}

func (t *tenantStore) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	tenant, ok := t.s.tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &tenant, nil
}

func (t *tenantStore) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, tenant := range t.s.tenants {
		if tenant.Domain == domain {
			out := tenant
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}
