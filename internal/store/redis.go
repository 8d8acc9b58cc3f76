package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pavelanni/analytics/internal/model"
)

// DefaultRedisPrefix namespaces every key the Redis store writes.
const DefaultRedisPrefix = "analytics"

// RedisStore keeps metrics in one hash per instance (field = student id,
// value = JSON row) and contract versions in a list, newest first.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) metricsKey(instanceID string) string {
	return r.prefix + ":metrics:" + instanceID
}

func (r *RedisStore) contractsKey() string {
	return r.prefix + ":contracts"
}

func (r *RedisStore) GetMetrics(ctx context.Context, instanceID, studentID string) (*model.AnalyticsMetrics, error) {
	raw, err := r.rdb.HGet(ctx, r.metricsKey(instanceID), studentID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	m, err := decodeMetrics(raw)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMetrics returns every cached row of an instance sorted by student id.
// Redis hashes carry no insertion order.
func (r *RedisStore) ListMetrics(ctx context.Context, instanceID string) ([]model.AnalyticsMetrics, error) {
	all, err := r.rdb.HGetAll(ctx, r.metricsKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	list := make([]model.AnalyticsMetrics, 0, len(all))
	for _, raw := range all {
		m, err := decodeMetrics([]byte(raw))
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StudentID < list[j].StudentID })
	return list, nil
}

func (r *RedisStore) UpsertMetrics(ctx context.Context, m model.AnalyticsMetrics) error {
	if m.Qualitative.AnswerRationale == nil {
		m.Qualitative.AnswerRationale = []string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := r.rdb.HSet(ctx, r.metricsKey(m.InstanceID), m.StudentID, raw).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (r *RedisStore) DeleteMetrics(ctx context.Context, instanceID, studentID string) (bool, error) {
	n, err := r.rdb.HDel(ctx, r.metricsKey(instanceID), studentID).Result()
	if err != nil {
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) SaveContract(ctx context.Context, c model.AnalyticsContract) (model.AnalyticsContract, error) {
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.SavedAt = &now

	raw, err := json.Marshal(c)
	if err != nil {
		return model.AnalyticsContract{}, fmt.Errorf("encode contract: %w", err)
	}
	if err := r.rdb.LPush(ctx, r.contractsKey(), raw).Err(); err != nil {
		return model.AnalyticsContract{}, fmt.Errorf("redis lpush: %w", err)
	}
	return c, nil
}

func (r *RedisStore) CurrentContract(ctx context.Context) (*model.AnalyticsContract, error) {
	raw, err := r.rdb.LIndex(ctx, r.contractsKey(), 0).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis lindex: %w", err)
	}
	var c model.AnalyticsContract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode contract: %w", err)
	}
	return &c, nil
}

func decodeMetrics(raw []byte) (model.AnalyticsMetrics, error) {
	var m model.AnalyticsMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode metrics: %w", err)
	}
	if m.Qualitative.AnswerRationale == nil {
		m.Qualitative.AnswerRationale = []string{}
	}
	return m, nil
}
