package memory

import (
	"context"
	"sort"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type subscriptionStore struct {
	s *Store
}

func (st *subscriptionStore) activeExists(tenantID, exceptID string) bool {
	for id, sub := range st.s.subscriptions {
		if id != exceptID && sub.TenantID == tenantID && sub.Status == models.SubscriptionActive {
			return true
		}
	}
	return false
}

func (st *subscriptionStore) Create(ctx context.Context, sub *models.Subscription) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if _, ok := st.s.subscriptions[sub.ID]; ok {
		return storage.ErrDuplicate
	}
	if sub.Status == models.SubscriptionActive && st.activeExists(sub.TenantID, sub.ID) {
		return storage.ErrDuplicate
	}

	touch(&sub.CreatedAt, &sub.UpdatedAt)
	st.s.subscriptions[sub.ID] = *sub
	return nil
}

func (st *subscriptionStore) GetActiveByTenant(ctx context.Context, tenantID string) (*models.Subscription, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	for _, sub := range st.s.subscriptions {
		if sub.TenantID == tenantID && sub.Status == models.SubscriptionActive {
			out := sub
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *subscriptionStore) Update(ctx context.Context, sub *models.Subscription) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	existing, ok := st.s.subscriptions[sub.ID]
	if !ok || existing.TenantID != sub.TenantID {
		return storage.ErrNotFound
	}
	if sub.Status == models.SubscriptionActive && st.activeExists(sub.TenantID, sub.ID) {
		return storage.ErrDuplicate
	}
	sub.CreatedAt = existing.CreatedAt
	touch(nil, &sub.UpdatedAt)
	st.s.subscriptions[sub.ID] = *sub
	return nil
}

func (st *subscriptionStore) List(ctx context.Context, tenantID string) ([]models.Subscription, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	var subs []models.Subscription
	for _, sub := range st.s.subscriptions {
		if sub.TenantID == tenantID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs, nil
}
