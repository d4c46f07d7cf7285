package memory

import (
	"context"
	"sort"
	"time"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type sessionStore struct {
	s *Store
}

func liveStatus(status models.SessionStatus) bool {
	return status == models.SessionActive || status == models.SessionCompleting
}

// portHeldByOther mirrors the partial unique index on live sessions per port.
func (st *sessionStore) portHeldByOther(portID, exceptID string, status models.SessionStatus) bool {
	if !liveStatus(status) {
		return false
	}
	for id, other := range st.s.sessions {
		if id != exceptID && other.PortID == portID && liveStatus(other.Status) {
			return true
		}
	}
	return false
}

func (st *sessionStore) Create(ctx context.Context, session *models.ChargingSession) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if _, ok := st.s.sessions[session.ID]; ok {
		return storage.ErrDuplicate
	}
	if st.portHeldByOther(session.PortID, session.ID, session.Status) {
		return storage.ErrDuplicate
	}

	touch(&session.CreatedAt, &session.UpdatedAt)
	st.s.sessions[session.ID] = *session
	return nil
}

func (st *sessionStore) GetByID(ctx context.Context, tenantID, id string) (*models.ChargingSession, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	session, ok := st.s.sessions[id]
	if !ok || session.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return &session, nil
}

func (st *sessionStore) LockByID(ctx context.Context, tenantID, id string) (*models.ChargingSession, error) {
	return st.GetByID(ctx, tenantID, id)
}

func (st *sessionStore) GetLiveByPort(ctx context.Context, tenantID, portID string) (*models.ChargingSession, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	for _, session := range st.s.sessions {
		if session.TenantID == tenantID && session.PortID == portID && liveStatus(session.Status) {
			out := session
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (st *sessionStore) Update(ctx context.Context, session *models.ChargingSession) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	existing, ok := st.s.sessions[session.ID]
	if !ok || existing.TenantID != session.TenantID {
		return storage.ErrNotFound
	}
	if st.portHeldByOther(session.PortID, session.ID, session.Status) {
		return storage.ErrDuplicate
	}
	session.CreatedAt = existing.CreatedAt
	touch(nil, &session.UpdatedAt)
	st.s.sessions[session.ID] = *session
	return nil
}

func (st *sessionStore) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]models.ChargingSession, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	var sessions []models.ChargingSession
	for _, session := range st.s.sessions {
		if session.TenantID == tenantID && session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return paginate(sessions, limit, offset), nil
}

func (st *sessionStore) ListSince(ctx context.Context, tenantID string, since time.Time) ([]models.ChargingSession, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	var sessions []models.ChargingSession
	for _, session := range st.s.sessions {
		if session.TenantID == tenantID && !session.StartTime.Before(since) {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

func (st *sessionStore) CountByStatus(ctx context.Context, tenantID string, statuses ...models.SessionStatus) (int, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	count := 0
	for _, session := range st.s.sessions {
		if session.TenantID != tenantID {
			continue
		}
		for _, status := range statuses {
			if session.Status == status {
				count++
				break
			}
		}
	}
	return count, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
