package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// energyTTL keeps daily counters around long enough to survey yesterday.
const energyTTL = 48 * time.Hour

// LiveStore mirrors hot operational state in redis so dashboard reads skip
// postgres. It is best-effort: callers treat failures as non-fatal.
type LiveStore struct {
	client *redis.Client
}

// NewLiveStore returns redis-backed live state store.
func NewLiveStore(client *redis.Client) *LiveStore {
	return &LiveStore{client: client}
}

func (s *LiveStore) portsKey(tenantID string) string {
	return fmt.Sprintf("live:ports:%s", tenantID)
}

func (s *LiveStore) sessionsKey(tenantID string) string {
	return fmt.Sprintf("live:sessions:%s", tenantID)
}

func (s *LiveStore) energyKey(tenantID string, day time.Time) string {
	return fmt.Sprintf("live:energy:%s:%s", tenantID, day.UTC().Format("2006-01-02"))
}

// SetPortStatus mirrors the current status of a port.
func (s *LiveStore) SetPortStatus(ctx context.Context, tenantID, portID, status string) error {
	return s.client.HSet(ctx, s.portsKey(tenantID), portID, status).Err()
}

// RemovePort drops a deleted port from the mirror.
func (s *LiveStore) RemovePort(ctx context.Context, tenantID, portID string) error {
	return s.client.HDel(ctx, s.portsKey(tenantID), portID).Err()
}

// PortStatusCounts returns the number of ports per status.
func (s *LiveStore) PortStatusCounts(ctx context.Context, tenantID string) (map[string]int, error) {
	statuses, err := s.client.HGetAll(ctx, s.portsKey(tenantID)).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, 8)
	for _, status := range statuses {
		counts[status]++
	}
	return counts, nil
}

// AddActiveSession records a session as live.
func (s *LiveStore) AddActiveSession(ctx context.Context, tenantID, sessionID string) error {
	return s.client.SAdd(ctx, s.sessionsKey(tenantID), sessionID).Err()
}

// RemoveActiveSession drops a session that left the live set.
func (s *LiveStore) RemoveActiveSession(ctx context.Context, tenantID, sessionID string) error {
	return s.client.SRem(ctx, s.sessionsKey(tenantID), sessionID).Err()
}

// ActiveSessionCount returns the number of live sessions.
func (s *LiveStore) ActiveSessionCount(ctx context.Context, tenantID string) (int64, error) {
	return s.client.SCard(ctx, s.sessionsKey(tenantID)).Result()
}

// AddEnergyToday accumulates delivered energy into today's counter.
func (s *LiveStore) AddEnergyToday(ctx context.Context, tenantID string, kwh float64, now time.Time) error {
	key := s.energyKey(tenantID, now)
	if err := s.client.IncrByFloat(ctx, key, kwh).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, energyTTL).Err()
}

// EnergyToday returns today's accumulated energy in kWh.
func (s *LiveStore) EnergyToday(ctx context.Context, tenantID string, now time.Time) (float64, error) {
	val, err := s.client.Get(ctx, s.energyKey(tenantID, now)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
