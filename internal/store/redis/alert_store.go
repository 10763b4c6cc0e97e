// Package redis provides a Redis-backed implementation of the alert store.
// Compare-and-set writes run as Lua scripts, which Redis executes atomically,
// giving the same per-key linearizability as the in-memory mutex.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil-go/internal/config"
	"vigil-go/internal/domain"
)

// Key prefixes for alert records in Redis.
const (
	prefixCurrent = "alert:current:"
	prefixByID    = "alert:id:"
	keyAllIDs     = "alert:ids"
)

// Script results shared with the Lua side.
const (
	resultOK       = "ok"
	resultConflict = "conflict"
	resultNotFound = "notfound"
)

// createScript inserts a new current record for a key. An existing current
// record that is still open, or a never-opened streak tracker (zero
// opened_at), rejects the create; a resolved episode is superseded but keeps
// its by-ID entry.
var createScript = redis.NewScript(`
	local cur = redis.call('GET', KEYS[1])
	if cur then
		local obj = cjson.decode(cur)
		if obj.state == 'open' or obj.state == 'acknowledged' then
			return 'conflict'
		end
		if obj.opened_at == '0001-01-01T00:00:00Z' then
			return 'conflict'
		end
	end
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('SET', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[3], ARGV[2])
	return 'ok'
`)

// updateScript applies a version-matched write to a record and, when that
// record still holds the current slot for its key, refreshes the slot too.
var updateScript = redis.NewScript(`
	local cur = redis.call('GET', KEYS[1])
	if not cur then
		return 'notfound'
	end
	local obj = cjson.decode(cur)
	if obj.version ~= tonumber(ARGV[2]) then
		return 'conflict'
	end
	redis.call('SET', KEYS[1], ARGV[1])
	local slot = redis.call('GET', KEYS[2])
	if slot then
		local slotObj = cjson.decode(slot)
		if slotObj.id == obj.id then
			redis.call('SET', KEYS[2], ARGV[1])
		end
	end
	return 'ok'
`)

// AlertStore implements store.AlertStore using Redis.
type AlertStore struct {
	client *redis.Client
}

// NewAlertStore creates a Redis-backed alert store.
func NewAlertStore(cfg *config.RedisConfig) (*AlertStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &AlertStore{client: client}, nil
}

func currentKey(dedupKey string) string {
	return prefixCurrent + dedupKey
}

func byIDKey(id string) string {
	return prefixByID + id
}

// Get retrieves the current alert record for a key.
func (s *AlertStore) Get(ctx context.Context, resourceID, ruleID string) (*domain.Alert, error) {
	data, err := s.client.Get(ctx, currentKey(domain.AlertKey(resourceID, ruleID))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return unmarshalAlert(data)
}

// GetByID retrieves any alert record by ID.
func (s *AlertStore) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	data, err := s.client.Get(ctx, byIDKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return unmarshalAlert(data)
}

// Upsert writes an alert with compare-and-set semantics.
func (s *AlertStore) Upsert(ctx context.Context, alert *domain.Alert, expectedVersion int64) (*domain.Alert, error) {
	stored := *alert

	if expectedVersion == 0 {
		stored.Version = 1
		data, err := json.Marshal(&stored)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal alert: %w", err)
		}

		result, err := createScript.Run(ctx, s.client,
			[]string{currentKey(alert.Key()), byIDKey(alert.ID), keyAllIDs},
			data, alert.ID,
		).Text()
		if err != nil {
			return nil, fmt.Errorf("failed to create alert: %w", err)
		}
		if result == resultConflict {
			return nil, domain.ErrVersionConflict
		}
		return &stored, nil
	}

	stored.Version = expectedVersion + 1
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}

	result, err := updateScript.Run(ctx, s.client,
		[]string{byIDKey(alert.ID), currentKey(alert.Key())},
		data, expectedVersion,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	switch result {
	case resultNotFound:
		return nil, domain.ErrAlertNotFound
	case resultConflict:
		return nil, domain.ErrVersionConflict
	}
	return &stored, nil
}

// ListOpen returns all currently open or acknowledged alerts.
func (s *AlertStore) ListOpen(ctx context.Context) ([]*domain.Alert, error) {
	alerts, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	var open []*domain.Alert
	for _, alert := range alerts {
		if alert.IsOpen() {
			open = append(open, alert)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].OpenedAt.After(open[j].OpenedAt)
	})
	return open, nil
}

// List returns alerts matching the filter, newest first. Streak trackers
// that never opened are excluded.
func (s *AlertStore) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	alerts, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*domain.Alert
	for _, alert := range alerts {
		if alert.OpenedAt.IsZero() {
			continue
		}
		if matchesFilter(alert, &filter) {
			matched = append(matched, alert)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OpenedAt.After(matched[j].OpenedAt)
	})
	return paginate(matched, filter.Offset, filter.Limit), nil
}

// all loads every alert record ever written.
func (s *AlertStore) all(ctx context.Context) ([]*domain.Alert, error) {
	ids, err := s.client.SMembers(ctx, keyAllIDs).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alert ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = byIDKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}

	alerts := make([]*domain.Alert, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		alert, err := unmarshalAlert([]byte(raw))
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Close closes the Redis client connection.
func (s *AlertStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func unmarshalAlert(data []byte) (*domain.Alert, error) {
	var alert domain.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	return &alert, nil
}

func matchesFilter(alert *domain.Alert, filter *domain.AlertFilter) bool {
	if filter.ResourceID != "" && alert.ResourceID != filter.ResourceID {
		return false
	}
	if filter.State != "" && alert.State != filter.State {
		return false
	}
	if filter.Severity != "" && alert.Severity != filter.Severity {
		return false
	}
	if filter.Kind != "" && alert.Kind != filter.Kind {
		return false
	}
	if !filter.Since.IsZero() && alert.OpenedAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && alert.OpenedAt.After(filter.Until) {
		return false
	}
	return true
}

func paginate(alerts []*domain.Alert, offset, limit int) []*domain.Alert {
	if offset >= len(alerts) {
		return []*domain.Alert{}
	}
	alerts = alerts[offset:]
	if limit > 0 && limit < len(alerts) {
		alerts = alerts[:limit]
	}
	return alerts
}
