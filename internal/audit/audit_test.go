package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Hour), mr
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(KindLoginFailed, "foo", "192.0.2.1")
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, KindLoginFailed, ev.Kind)
	assert.Equal(t, "foo", ev.Username)
	assert.False(t, ev.At.IsZero())
	assert.NotEqual(t, ev.ID, NewEvent(KindLoginFailed, "foo", "192.0.2.1").ID)
}

func TestStoreSaveAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ev := NewEvent(KindLoginFailed, "foo", "192.0.2.1").WithReason(ReasonInvalidCredentials)
	require.NoError(t, store.Save(ctx, &ev))

	got, err := store.Get(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, "foo", got.Username)
	assert.Equal(t, ReasonInvalidCredentials, got.Reason)
	assert.Equal(t, time.Hour, mr.TTL(eventKey(ev.ID)))

	missing, err := store.Get(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreRecentNewestFirst(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	first := NewEvent(KindLoginFailed, "foo", "192.0.2.1")
	second := NewEvent(KindLoginSucceeded, "foo", "192.0.2.1")
	third := NewEvent(KindLogout, "foo", "192.0.2.1")
	for _, ev := range []*Event{&first, &second, &third} {
		require.NoError(t, store.Save(ctx, ev))
	}

	events, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, third.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)

	// 期限切れのイベントは一覧から除かれる
	mr.Del(eventKey(third.ID))
	events, err = store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second.ID, events[0].ID)
}

func TestStoreSaveValidation(t *testing.T) {
	store, _ := newTestStore(t)
	require.Error(t, store.Save(context.Background(), nil))
	require.Error(t, store.Save(context.Background(), &Event{}))
}

type recordingSaver struct {
	saved []*Event
	err   error
}

func (r *recordingSaver) Save(_ context.Context, ev *Event) error {
	r.saved = append(r.saved, ev)
	return r.err
}

func TestHandleRecordTask(t *testing.T) {
	saver := &recordingSaver{}
	m := newManager(saver, slog.Default())

	ev := NewEvent(KindLogout, "foo", "192.0.2.1")
	task, err := newRecordTask(ev)
	require.NoError(t, err)
	assert.Equal(t, taskTypeRecord, task.Type())

	require.NoError(t, m.handleRecordTask(context.Background(), task))
	require.Len(t, saver.saved, 1)
	assert.Equal(t, ev.ID, saver.saved[0].ID)
	assert.Equal(t, KindLogout, saver.saved[0].Kind)
}

func TestHandleRecordTaskSkipsRetryOnBadPayload(t *testing.T) {
	m := newManager(&recordingSaver{}, slog.Default())

	err := m.handleRecordTask(context.Background(), asynq.NewTask(taskTypeRecord, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = m.handleRecordTask(context.Background(), asynq.NewTask(taskTypeRecord, []byte(`{"kind":"logout"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleRecordTaskPropagatesStoreErrors(t *testing.T) {
	m := newManager(&recordingSaver{err: errors.New("redis down")}, slog.Default())
	task, err := newRecordTask(NewEvent(KindLogout, "foo", ""))
	require.NoError(t, err)

	err = m.handleRecordTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager("redis://127.0.0.1:6379/0", nil, nil)
	require.Error(t, err)

	_, err = NewManager("://bad", NewStore(nil, time.Hour), nil)
	require.Error(t, err)
}
