package memory

import (
	"context"
	"sort"
	"strings"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type userStore struct {
	s *Store
}

func (u *userStore) Create(ctx context.Context, user *models.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, existing := range u.s.users {
		if existing.TenantID == user.TenantID && existing.Email == user.Email {
			return storage.ErrDuplicate
		}
	}
	if _, ok := u.s.users[user.ID]; ok {
		return storage.ErrDuplicate
	}

	touch(&user.CreatedAt, &user.UpdatedAt)
	u.s.users[user.ID] = *user
	return nil
}

func (u *userStore) GetByID(ctx context.Context, tenantID, id string) (*models.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	user, ok := u.s.users[id]
	if !ok || user.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return &user, nil
}

func (u *userStore) GetByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range u.s.users {
		if user.TenantID == tenantID && user.Email == email {
			out := user
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (u *userStore) FindByEmail(ctx context.Context, email string) ([]models.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	var users []models.User
	for _, user := range u.s.users {
		if user.Email == email && user.Active {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (u *userStore) UpdatePassword(ctx context.Context, tenantID, id, passwordHash string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user, ok := u.s.users[id]
	if !ok || user.TenantID != tenantID {
		return storage.ErrNotFound
	}
	user.PasswordHash = passwordHash
	touch(nil, &user.UpdatedAt)
	u.s.users[id] = user
	return nil
}
