package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"chargenet/internal/models"
	"chargenet/internal/storage"
)

type paymentStore struct {
	s *Store
}

// violatesSettlement mirrors the partial unique indexes on payments: one
// pending intent per (target, amount), one completed payment per target.
func (p *paymentStore) violatesSettlement(candidate models.Payment) bool {
	for id, other := range p.s.payments {
		if id == candidate.ID {
			continue
		}
		sameSession := candidate.SessionID != nil && other.SessionID != nil && *candidate.SessionID == *other.SessionID
		sameBooking := candidate.BookingID != nil && other.BookingID != nil && *candidate.BookingID == *other.BookingID
		if !sameSession && !sameBooking {
			continue
		}
		if candidate.Status == models.PaymentPending && other.Status == models.PaymentPending &&
			candidate.Amount.Equal(other.Amount) {
			return true
		}
		if candidate.Status == models.PaymentCompleted && other.Status == models.PaymentCompleted {
			return true
		}
	}
	return false
}

func (p *paymentStore) Create(ctx context.Context, payment *models.Payment) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if _, ok := p.s.payments[payment.ID]; ok {
		return storage.ErrDuplicate
	}
	if p.violatesSettlement(*payment) {
		return storage.ErrDuplicate
	}

	touch(&payment.CreatedAt, &payment.UpdatedAt)
	p.s.payments[payment.ID] = *payment
	return nil
}

func (p *paymentStore) GetByID(ctx context.Context, tenantID, id string) (*models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	payment, ok := p.s.payments[id]
	if !ok || payment.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return &payment, nil
}

func (p *paymentStore) GetByProviderRef(ctx context.Context, tenantID, providerRef string) (*models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	for _, payment := range p.s.payments {
		if payment.TenantID == tenantID && payment.ProviderRef == providerRef {
			out := payment
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (p *paymentStore) LockByID(ctx context.Context, tenantID, id string) (*models.Payment, error) {
	return p.GetByID(ctx, tenantID, id)
}

func (p *paymentStore) FindPendingBySession(ctx context.Context, tenantID, sessionID string, amount decimal.Decimal) (*models.Payment, error) {
	return p.findPending(tenantID, amount, func(payment models.Payment) bool {
		return payment.SessionID != nil && *payment.SessionID == sessionID
	})
}

func (p *paymentStore) FindPendingByBooking(ctx context.Context, tenantID, bookingID string, amount decimal.Decimal) (*models.Payment, error) {
	return p.findPending(tenantID, amount, func(payment models.Payment) bool {
		return payment.BookingID != nil && *payment.BookingID == bookingID
	})
}

func (p *paymentStore) findPending(tenantID string, amount decimal.Decimal, match func(models.Payment) bool) (*models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	for _, payment := range p.s.payments {
		if payment.TenantID == tenantID && payment.Status == models.PaymentPending &&
			payment.Amount.Equal(amount) && match(payment) {
			out := payment
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (p *paymentStore) Update(ctx context.Context, payment *models.Payment) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	existing, ok := p.s.payments[payment.ID]
	if !ok || existing.TenantID != payment.TenantID {
		return storage.ErrNotFound
	}
	if p.violatesSettlement(*payment) {
		return storage.ErrDuplicate
	}
	payment.CreatedAt = existing.CreatedAt
	touch(nil, &payment.UpdatedAt)
	p.s.payments[payment.ID] = *payment
	return nil
}

func (p *paymentStore) List(ctx context.Context, tenantID string, params storage.ListPaymentsParams) ([]models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var payments []models.Payment
	for _, payment := range p.s.payments {
		if payment.TenantID != tenantID {
			continue
		}
		if params.UserID != "" && payment.UserID != params.UserID {
			continue
		}
		if params.Status != "" && payment.Status != params.Status {
			continue
		}
		payments = append(payments, payment)
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return paginate(payments, params.Limit, params.Offset), nil
}

func (p *paymentStore) ListCompletedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var payments []models.Payment
	for _, payment := range p.s.payments {
		if payment.TenantID != tenantID || payment.Status != models.PaymentCompleted || payment.CompletedAt == nil {
			continue
		}
		if payment.CompletedAt.Before(from) || !payment.CompletedAt.Before(to) {
			continue
		}
		payments = append(payments, payment)
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CompletedAt.Before(*payments[j].CompletedAt)
	})
	return payments, nil
}

func (p *paymentStore) ListStalePending(ctx context.Context, tenantID string, cutoff time.Time) ([]models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var payments []models.Payment
	for _, payment := range p.s.payments {
		if payment.TenantID == tenantID && payment.Status == models.PaymentPending &&
			payment.CreatedAt.Before(cutoff) {
			payments = append(payments, payment)
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.Before(payments[j].CreatedAt)
	})
	return payments, nil
}
