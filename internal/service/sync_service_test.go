package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqttcommon "fleet-telemetry/common/mqtt"
	rediscommon "fleet-telemetry/common/redis"
	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/models"
	"fleet-telemetry/internal/syncer"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[models.EntityKind]int
	fail  map[models.EntityKind]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: map[models.EntityKind]int{}, fail: map[models.EntityKind]error{}}
}

func (r *fakeRunner) SyncOnce(ctx context.Context, kind models.EntityKind) (*syncer.PassResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[kind]++
	if err := r.fail[kind]; err != nil {
		return nil, err
	}
	return &syncer.PassResult{PassID: fmt.Sprintf("%s-%d", kind, r.calls[kind]), Entity: kind, ToVersion: "v1", Written: 2}, nil
}

func (r *fakeRunner) count(kind models.EntityKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[kind]
}

type fakeMessenger struct {
	mu        sync.Mutex
	handlers  map[string]mqttcommon.MessageHandler
	published map[string][][]byte
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{handlers: map[string]mqttcommon.MessageHandler{}, published: map[string][][]byte{}}
}

func (m *fakeMessenger) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *fakeMessenger) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic] = append(m.published[topic], payload)
	return nil
}

func (m *fakeMessenger) Unsubscribe(topics ...string) error { return nil }
func (m *fakeMessenger) Disconnect()                        {}

func (m *fakeMessenger) handler(topic string) mqttcommon.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Sync.Interval = time.Hour
	cfg.Sync.MaxBackoff = 4 * time.Hour
	cfg.Sync.LockTTL = time.Minute
	cfg.Sync.EventStream = "fleet:sync:events"
	cfg.Sync.Kinds = append([]models.EntityKind(nil), models.SyncableKinds...)
	return cfg
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRunAll_RunsEveryKindAndPublishes(t *testing.T) {
	mr, client := newRedis(t)
	runner := newFakeRunner()
	messenger := newFakeMessenger()
	cfg := testConfig()
	svc := NewSyncServiceWithDeps(cfg, Deps{Runner: runner, Redis: client, Messenger: messenger}, zap.NewNop())

	results, err := svc.RunAll(context.Background(), cfg.Sync.Kinds)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, k := range models.SyncableKinds {
		assert.Equal(t, 1, runner.count(k))
		assert.Len(t, messenger.published[fmt.Sprintf(DoneTopicFormat, k)], 1)
		// 锁已释放
		assert.False(t, mr.Exists(fmt.Sprintf(lockKeyFormat, k)))
	}

	entries, err := client.XRange(context.Background(), cfg.Sync.EventStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var res syncer.PassResult
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &res))
	assert.Equal(t, "v1", res.ToVersion)
}

func TestRunAll_SkipsKindLockedByAnotherInstance(t *testing.T) {
	_, client := newRedis(t)
	runner := newFakeRunner()
	cfg := testConfig()
	svc := NewSyncServiceWithDeps(cfg, Deps{Runner: runner, Redis: client}, zap.NewNop())

	key := fmt.Sprintf(lockKeyFormat, models.EntityLogRecord)
	require.NoError(t, rediscommon.AcquireLock(context.Background(), client, key, "other-instance", time.Minute))

	results, err := svc.RunAll(context.Background(), cfg.Sync.Kinds)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 0, runner.count(models.EntityLogRecord))

	// 他人的锁不会被释放
	owner, err := client.Get(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Equal(t, "other-instance", owner)
}

func TestRunAll_FailureIsolatedAndBackedOff(t *testing.T) {
	runner := newFakeRunner()
	runner.fail[models.EntityStatusData] = &models.FetchError{Kind: models.EntityStatusData, Err: errors.New("timeout")}
	cfg := testConfig()
	svc := NewSyncServiceWithDeps(cfg, Deps{Runner: runner}, zap.NewNop())

	results, err := svc.RunAll(context.Background(), cfg.Sync.Kinds)
	require.Error(t, err)
	var fe *models.FetchError
	assert.True(t, errors.As(err, &fe))
	assert.Len(t, results, 2)

	due := svc.dueKinds(time.Now())
	assert.NotContains(t, due, models.EntityStatusData)
	assert.Contains(t, due, models.EntityLogRecord)
	assert.Contains(t, svc.dueKinds(time.Now().Add(2*time.Hour)), models.EntityStatusData)
}

func TestRunAll_JoinsErrorsOfEveryFailedKind(t *testing.T) {
	runner := newFakeRunner()
	statusErr := errors.New("status timeout")
	exceptionErr := errors.New("exception bad gateway")
	runner.fail[models.EntityStatusData] = statusErr
	runner.fail[models.EntityExceptionEvent] = exceptionErr
	cfg := testConfig()
	svc := NewSyncServiceWithDeps(cfg, Deps{Runner: runner}, zap.NewNop())

	results, err := svc.RunAll(context.Background(), cfg.Sync.Kinds)
	require.Error(t, err)
	assert.ErrorIs(t, err, statusErr)
	assert.ErrorIs(t, err, exceptionErr)
	assert.Contains(t, err.Error(), string(models.EntityStatusData))
	assert.Contains(t, err.Error(), string(models.EntityExceptionEvent))
	require.Len(t, results, 1)
	assert.Equal(t, models.EntityLogRecord, results[0].Entity)
	assert.Equal(t, 1, runner.count(models.EntityLogRecord))
}

func TestKindBackoff_DoublesUpToMax(t *testing.T) {
	b := newKindBackoff(time.Second, 5*time.Second)
	now := time.Now()
	assert.Equal(t, time.Second, b.failure(models.EntityLogRecord, now))
	assert.Equal(t, 2*time.Second, b.failure(models.EntityLogRecord, now))
	assert.Equal(t, 4*time.Second, b.failure(models.EntityLogRecord, now))
	assert.Equal(t, 5*time.Second, b.failure(models.EntityLogRecord, now))
	assert.False(t, b.ready(models.EntityLogRecord, now))

	b.success(models.EntityLogRecord)
	assert.True(t, b.ready(models.EntityLogRecord, now))
}

func TestParseTrigger(t *testing.T) {
	all := models.SyncableKinds

	kinds, err := parseTrigger([]byte("  "), all)
	require.NoError(t, err)
	assert.Equal(t, all, kinds)

	kinds, err = parseTrigger([]byte("ExceptionEvent"), all)
	require.NoError(t, err)
	assert.Equal(t, []models.EntityKind{models.EntityExceptionEvent}, kinds)

	_, err = parseTrigger([]byte("Trip"), all)
	assert.Error(t, err)
}

func TestStart_RunsOnStartupAndOnTrigger(t *testing.T) {
	runner := newFakeRunner()
	messenger := newFakeMessenger()
	cfg := testConfig()
	svc := NewSyncServiceWithDeps(cfg, Deps{Runner: runner, Messenger: messenger}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return runner.count(models.EntityLogRecord) == 1 && messenger.handler(TriggerTopic) != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, messenger.handler(TriggerTopic)(TriggerTopic, []byte("LogRecord")))
	require.Eventually(t, func() bool {
		return runner.count(models.EntityLogRecord) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, runner.count(models.EntityExceptionEvent))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	require.NoError(t, svc.Stop(context.Background()))
}

type blockingRunner struct {
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	finished atomic.Bool
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRunner) SyncOnce(ctx context.Context, kind models.EntityKind) (*syncer.PassResult, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	r.finished.Store(true)
	return &syncer.PassResult{PassID: "p1", Entity: kind, ToVersion: "v1"}, nil
}

// orderedMessenger 记录 Disconnect 时同步是否已结束
type orderedMessenger struct {
	*fakeMessenger
	runner             *blockingRunner
	disconnected       atomic.Bool
	passDoneAtShutdown atomic.Bool
}

func (m *orderedMessenger) Disconnect() {
	m.passDoneAtShutdown.Store(m.runner.finished.Load())
	m.disconnected.Store(true)
}

func startBlocked(t *testing.T) (*SyncService, *blockingRunner, *orderedMessenger, context.CancelFunc, chan error) {
	t.Helper()
	runner := newBlockingRunner()
	messenger := &orderedMessenger{fakeMessenger: newFakeMessenger(), runner: runner}
	cfg := testConfig()
	cfg.Sync.Kinds = []models.EntityKind{models.EntityLogRecord}
	svc := NewSyncServiceWithDeps(cfg, Deps{Runner: runner, Messenger: messenger}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() { startErr <- svc.Start(ctx) }()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("sync pass did not start")
	}
	return svc, runner, messenger, cancel, startErr
}

func TestStop_WaitsForInFlightPassBeforeDisconnecting(t *testing.T) {
	svc, runner, messenger, cancel, startErr := startBlocked(t)

	cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(runner.release)
	}()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, svc.Stop(stopCtx))

	assert.True(t, messenger.disconnected.Load())
	assert.True(t, messenger.passDoneAtShutdown.Load(), "connections closed while a pass was still running")
	require.NoError(t, <-startErr)
}

func TestStop_GivesUpWaitingAtDeadline(t *testing.T) {
	svc, runner, messenger, cancel, startErr := startBlocked(t)
	defer cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stopCancel()
	err := svc.Stop(stopCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, messenger.disconnected.Load())
	assert.False(t, messenger.passDoneAtShutdown.Load())

	cancel()
	close(runner.release)
	select {
	case err := <-startErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStop_WithoutStartReturnsImmediately(t *testing.T) {
	svc := NewSyncServiceWithDeps(testConfig(), Deps{Runner: newFakeRunner()}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Stop(ctx))
}
