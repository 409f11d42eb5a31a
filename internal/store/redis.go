package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

const (
	redisKeyPrefix = "tgfwd:"
	redisIndexKey  = redisKeyPrefix + "rules"
	redisSeqKey    = redisKeyPrefix + "rules:seq"

	// optimistic update attempts before giving up on a contended key
	redisUpdateAttempts = 5
)

var errUpdateContended = errors.New("rule changed concurrently")

// RedisStore keeps each rule as a JSON string under tgfwd:rule:<id> and
// the set of ids under tgfwd:rules.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time

	// afterUpdateRead runs between the read and the write of UpdateRule.
	afterUpdateRead func()
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func ruleKey(id string) string { return redisKeyPrefix + "rule:" + id }

func (s *RedisStore) ListRules(ctx context.Context) ([]rules.FilterRule, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rule ids: %w", err)
	}
	result := make([]rules.FilterRule, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ruleKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	for i, v := range values {
		// index entries can outlive their value if a delete was interrupted
		data, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decodeRule(data)
		if err != nil {
			return nil, fmt.Errorf("decode rule %s: %w", ids[i], err)
		}
		result = append(result, r)
	}
	sortByID(result)
	return result, nil
}

func (s *RedisStore) GetRule(ctx context.Context, id string) (*rules.FilterRule, error) {
	data, err := s.client.Get(ctx, ruleKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", id, err)
	}
	r, err := decodeRule(data)
	if err != nil {
		return nil, fmt.Errorf("decode rule %s: %w", id, err)
	}
	return &r, nil
}

func (s *RedisStore) CreateRule(ctx context.Context, draft rules.FilterRule) (rules.FilterRule, error) {
	seq, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return rules.FilterRule{}, fmt.Errorf("allocate rule id: %w", err)
	}

	r := draft.Clone()
	r.Normalize()
	r.ID = strconv.FormatInt(seq, 10)
	r.CreatedAt = s.now().UTC()
	r.UpdatedAt = r.CreatedAt

	if err := s.write(ctx, r); err != nil {
		return rules.FilterRule{}, err
	}
	return r, nil
}

// UpdateRule replaces an existing rule. The read and the write run under
// WATCH on the rule key, so a concurrent delete makes the update fail with
// ErrNotFound instead of bringing the rule back.
func (s *RedisStore) UpdateRule(ctx context.Context, rule rules.FilterRule) (rules.FilterRule, error) {
	key := ruleKey(rule.ID)
	var updated rules.FilterRule

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get rule %s: %w", rule.ID, err)
		}
		existing, err := decodeRule(data)
		if err != nil {
			return fmt.Errorf("decode rule %s: %w", rule.ID, err)
		}
		if s.afterUpdateRead != nil {
			s.afterUpdateRead()
		}

		r := rule.Clone()
		r.Normalize()
		r.CreatedAt = existing.CreatedAt
		r.UpdatedAt = s.now().UTC()
		encoded, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode rule: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.SAdd(ctx, redisIndexKey, r.ID)
			return nil
		})
		if err != nil {
			return err
		}
		updated = r
		return nil
	}

	for attempt := 0; attempt < redisUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound):
			return rules.FilterRule{}, ErrNotFound
		default:
			return rules.FilterRule{}, fmt.Errorf("update rule %s: %w", rule.ID, err)
		}
	}
	return rules.FilterRule{}, fmt.Errorf("update rule %s: %w", rule.ID, errUpdateContended)
}

func (s *RedisStore) DeleteRule(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, ruleKey(id))
		pipe.SRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) write(ctx context.Context, r rules.FilterRule) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ruleKey(r.ID), data, 0)
		pipe.SAdd(ctx, redisIndexKey, r.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write rule %s: %w", r.ID, err)
	}
	return nil
}

func decodeRule(data string) (rules.FilterRule, error) {
	var r rules.FilterRule
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return rules.FilterRule{}, err
	}
	r.Normalize()
	return r, nil
}
