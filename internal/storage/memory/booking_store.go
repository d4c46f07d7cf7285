package memory

import (
	"context"
	"sort"
	"time"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type bookingStore struct {
	s *Store
}

func (b *bookingStore) Create(ctx context.Context, booking *models.Booking) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if _, ok := b.s.bookings[booking.ID]; ok {
		return storage.ErrDuplicate
	}

	touch(&booking.CreatedAt, &booking.UpdatedAt)
	b.s.bookings[booking.ID] = *booking
	return nil
}

func (b *bookingStore) GetByID(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	booking, ok := b.s.bookings[id]
	if !ok || booking.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return &booking, nil
}

func (b *bookingStore) GetHeldByPort(ctx context.Context, tenantID, portID string) (*models.Booking, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	var held *models.Booking
	for _, booking := range b.s.bookings {
		if booking.TenantID != tenantID || booking.PortID != portID || booking.Status != models.BookingReserved {
			continue
		}
		out := booking
		if held == nil || out.WindowStart.Before(held.WindowStart) {
			held = &out
		}
	}
	if held == nil {
		return nil, storage.ErrNotFound
	}
	return held, nil
}

func (b *bookingStore) Update(ctx context.Context, booking *models.Booking) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	existing, ok := b.s.bookings[booking.ID]
	if !ok || existing.TenantID != booking.TenantID {
		return storage.ErrNotFound
	}
	booking.CreatedAt = existing.CreatedAt
	touch(nil, &booking.UpdatedAt)
	b.s.bookings[booking.ID] = *booking
	return nil
}

func (b *bookingStore) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]models.Booking, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	var bookings []models.Booking
	for _, booking := range b.s.bookings {
		if booking.TenantID == tenantID && booking.UserID == userID {
			bookings = append(bookings, booking)
		}
	}
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
	return paginate(bookings, limit, offset), nil
}

func (b *bookingStore) HasOverlap(ctx context.Context, tenantID, portID string, start, end time.Time) (bool, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	for _, booking := range b.s.bookings {
		if booking.TenantID != tenantID || booking.PortID != portID || booking.Status != models.BookingReserved {
			continue
		}
		if booking.WindowStart.Before(end) && booking.WindowEnd.After(start) {
			return true, nil
		}
	}
	return false, nil
}
