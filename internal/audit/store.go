package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	eventKeyPrefix = "audit:event:"
	recentKey      = "audit:recent"

	defaultRecentLimit = 1000
)

// Store は監査イベントを Redis に保存します。
type Store struct {
	rdb         redis.UniversalClient
	ttl         time.Duration
	recentLimit int64
}

// NewStore は Store を作成します。
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		rdb:         rdb,
		ttl:         ttl,
		recentLimit: defaultRecentLimit,
	}
}

// Save はイベントを保存し、最近のイベント一覧の先頭に追加します。
func (s *Store) Save(ctx context.Context, ev *Event) error {
	if ev == nil {
		return oops.Code("AUDIT_INVALID_EVENT").Errorf("event is nil")
	}
	if ev.ID == "" {
		return oops.Code("AUDIT_INVALID_EVENT").Errorf("event id is required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").Wrap(err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, eventKey(ev.ID), payload, s.ttl)
	pipe.LPush(ctx, recentKey, ev.ID)
	pipe.LTrim(ctx, recentKey, 0, s.recentLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("AUDIT_SAVE_FAILED").With("event_id", ev.ID).Wrap(err)
	}
	return nil
}

// Get はイベントを取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	if id == "" {
		return nil, oops.Code("AUDIT_INVALID_EVENT").Errorf("event id is required")
	}
	data, err := s.rdb.Get(ctx, eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, oops.Code("AUDIT_LOAD_FAILED").With("event_id", id).Wrap(err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, oops.Code("AUDIT_DECODE_FAILED").With("event_id", id).Wrap(err)
	}
	return &ev, nil
}

// Recent は新しい順に最大 n 件のイベントを返します。期限切れのイベントは飛ばします。
func (s *Store) Recent(ctx context.Context, n int) ([]*Event, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.LRange(ctx, recentKey, 0, int64(n)-1).Result()
	if err != nil {
		return nil, oops.Code("AUDIT_LOAD_FAILED").Wrap(err)
	}
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

func eventKey(id string) string {
	return eventKeyPrefix + id
}
