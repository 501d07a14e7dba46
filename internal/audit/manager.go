package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/samber/oops"
)

const (
	taskTypeRecord = "audit:record"
	queueName      = "audit"
)

type eventSaver interface {
	Save(ctx context.Context, ev *Event) error
}

// Manager はイベントの投入とワーカーによる保存を担います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  eventSaver
	logger *slog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, store *Store, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, oops.Code("AUDIT_CONFIG_INVALID").Errorf("store is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, oops.Code("AUDIT_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	manager := newManager(store, logger)
	manager.client = asynq.NewClient(opt)
	manager.server = server
	return manager, nil
}

func newManager(store eventSaver, logger *slog.Logger) *Manager {
	m := &Manager{
		mux:    asynq.NewServeMux(),
		store:  store,
		logger: logger,
	}
	m.mux.HandleFunc(taskTypeRecord, m.handleRecordTask)
	return m
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Error("audit worker stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Record はイベントをキューに投入します。
func (m *Manager) Record(ctx context.Context, ev Event) error {
	task, err := newRecordTask(ev)
	if err != nil {
		return err
	}
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return oops.Code("AUDIT_ENQUEUE_FAILED").With("event_id", ev.ID).Wrap(err)
	}
	return nil
}

func newRecordTask(ev Event) (*asynq.Task, error) {
	if ev.ID == "" {
		return nil, oops.Code("AUDIT_INVALID_EVENT").Errorf("event id is required")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, oops.Code("AUDIT_ENCODE_FAILED").Wrap(err)
	}
	return asynq.NewTask(taskTypeRecord, body, asynq.Queue(queueName)), nil
}

func (m *Manager) handleRecordTask(ctx context.Context, task *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return oops.Code("AUDIT_DECODE_FAILED").Wrapf(asynq.SkipRetry, "decode: %v", err)
	}
	if ev.ID == "" {
		return oops.Code("AUDIT_INVALID_EVENT").Wrapf(asynq.SkipRetry, "missing event id")
	}
	return m.store.Save(ctx, &ev)
}
