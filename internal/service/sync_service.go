package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fleet-telemetry/common/database"
	mqttcommon "fleet-telemetry/common/mqtt"
	rediscommon "fleet-telemetry/common/redis"
	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/feed"
	"fleet-telemetry/internal/models"
	"fleet-telemetry/internal/repository"
	"fleet-telemetry/internal/syncer"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// TriggerTopic 手动触发同步（payload 为实体类型，空表示全部）
	TriggerTopic = "fleet/sync/trigger"
	// DoneTopicFormat 同步完成通知主题
	DoneTopicFormat = "fleet/sync/%s/done"

	lockKeyFormat = "fleet:sync:lock:%s"
)

// PassRunner 执行单个实体类型的一轮同步
type PassRunner interface {
	SyncOnce(ctx context.Context, kind models.EntityKind) (*syncer.PassResult, error)
}

// Messenger MQTT 订阅/发布（common/mqtt.Client 实现）
type Messenger interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// Deps 服务依赖；Redis 与 MQTT 可为空
type Deps struct {
	Runner    PassRunner
	Redis     *redis.Client
	Messenger Messenger
	DB        *sql.DB
}

// SyncService 车队遥测同步服务
type SyncService struct {
	config     *config.Config
	logger     *zap.Logger
	runner     PassRunner
	redis      *redis.Client
	messenger  Messenger
	db         *sql.DB
	instanceID string
	backoff    *kindBackoff
	triggers   chan []models.EntityKind
	stopOnce   sync.Once

	mu      sync.Mutex
	running chan struct{} // Start 运行期间非空，返回时关闭
}

// NewSyncService 创建同步服务（连接数据库、Redis、MQTT 与数据源）
func NewSyncService(cfg *config.Config, logger *zap.Logger) (*SyncService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient, err := rediscommon.Connect(context.Background(), &cfg.Redis)
	if err != nil {
		database.Close(db)
		return nil, err
	}

	var messenger Messenger
	if cfg.MQTT.Enabled() {
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			database.Close(db)
			rediscommon.Close(redisClient)
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		messenger = client
	}

	provider := feed.NewClient(feed.ClientConfig{
		BaseURL:    cfg.Feed.BaseURL,
		Path:       cfg.Feed.Path,
		Timeout:    cfg.Feed.Timeout,
		RetryCount: cfg.Feed.RetryCount,
		Credentials: feed.Credentials{
			Database:  cfg.Feed.Database,
			UserName:  cfg.Feed.UserName,
			SessionID: cfg.Feed.SessionID,
		},
	}, logger)

	store := repository.NewPostgresStore(db, logger)
	controller := syncer.NewController(store, provider, syncer.Options{
		ResultsLimit:         cfg.Feed.ResultsLimit,
		OdometerDiagnosticID: cfg.Feed.OdometerDiagnosticID,
	}, logger)

	return NewSyncServiceWithDeps(cfg, Deps{
		Runner:    controller,
		Redis:     redisClient,
		Messenger: messenger,
		DB:        db,
	}, logger), nil
}

// NewSyncServiceWithDeps 使用已创建的依赖构造服务
func NewSyncServiceWithDeps(cfg *config.Config, deps Deps, logger *zap.Logger) *SyncService {
	return &SyncService{
		config:     cfg,
		logger:     logger,
		runner:     deps.Runner,
		redis:      deps.Redis,
		messenger:  deps.Messenger,
		db:         deps.DB,
		instanceID: uuid.New().String(),
		backoff:    newKindBackoff(cfg.Sync.Interval, cfg.Sync.MaxBackoff),
		triggers:   make(chan []models.EntityKind, 8),
	}
}

// RunAll 对所有配置的实体类型各执行一轮同步（不同类型并发）
// 某个类型失败不影响其他类型；返回成功的结果和合并后的错误。
// 使用不带 context 的 errgroup.Group，一个类型出错不会取消其他类型。
func (s *SyncService) RunAll(ctx context.Context, kinds []models.EntityKind) ([]*syncer.PassResult, error) {
	var (
		mu      sync.Mutex
		results []*syncer.PassResult
		errs    []error
		g       errgroup.Group
	)

	for _, kind := range kinds {
		kind := kind
		g.Go(func() error {
			res, err := s.runKind(ctx, kind)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				err = fmt.Errorf("%s: %w", kind, err)
				errs = append(errs, err)
				return err
			}
			if res != nil {
				results = append(results, res)
			}
			return nil
		})
	}

	// Wait 只带回第一个错误，完整列表在 errs 中
	if err := g.Wait(); err != nil {
		return results, errors.Join(errs...)
	}
	return results, nil
}

// runKind 在跨进程锁保护下执行一轮同步；锁被占用时跳过（返回 nil, nil）
func (s *SyncService) runKind(ctx context.Context, kind models.EntityKind) (*syncer.PassResult, error) {
	logger := s.logger.With(zap.String("entity", string(kind)))

	if s.redis != nil {
		key := fmt.Sprintf(lockKeyFormat, kind)
		if err := rediscommon.AcquireLock(ctx, s.redis, key, s.instanceID, s.config.Sync.LockTTL); err != nil {
			if errors.Is(err, rediscommon.ErrLockHeld) {
				logger.Info("Sync already running elsewhere, skipping")
				return nil, nil
			}
			return nil, fmt.Errorf("failed to acquire sync lock for %s: %w", kind, err)
		}
		defer func() {
			// 使用独立上下文，确保取消后仍能释放锁
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rediscommon.ReleaseLock(releaseCtx, s.redis, key, s.instanceID); err != nil {
				logger.Warn("Failed to release sync lock", zap.Error(err))
			}
		}()
	}

	res, err := s.runner.SyncOnce(ctx, kind)
	if err != nil {
		wait := s.backoff.failure(kind, time.Now())
		logger.Error("Sync pass failed", zap.Error(err), zap.Duration("backoff", wait))
		return nil, err
	}
	s.backoff.success(kind)

	s.publish(ctx, res)
	return res, nil
}

// publish 将结果写入 Redis 事件流并发送 MQTT 完成通知；失败只记录日志
func (s *SyncService) publish(ctx context.Context, res *syncer.PassResult) {
	if s.redis != nil && s.config.Sync.EventStream != "" {
		if _, err := rediscommon.PublishJSONToStream(ctx, s.redis, s.config.Sync.EventStream, res); err != nil {
			s.logger.Warn("Failed to publish sync event",
				zap.String("stream", s.config.Sync.EventStream),
				zap.String("pass_id", res.PassID),
				zap.Error(err),
			)
		}
	}

	if s.messenger != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			s.logger.Warn("Failed to encode sync result", zap.Error(err))
			return
		}
		topic := fmt.Sprintf(DoneTopicFormat, res.Entity)
		if err := s.messenger.Publish(topic, s.config.MQTT.QoS, false, payload); err != nil {
			s.logger.Warn("Failed to publish sync notification",
				zap.String("topic", topic),
				zap.String("pass_id", res.PassID),
				zap.Error(err),
			)
		}
	}
}

// handleTrigger 处理 MQTT 触发消息
func (s *SyncService) handleTrigger(topic string, payload []byte) error {
	kinds, err := parseTrigger(payload, s.config.Sync.Kinds)
	if err != nil {
		return err
	}
	select {
	case s.triggers <- kinds:
		s.logger.Info("Received sync trigger", zap.String("topic", topic), zap.Any("kinds", kinds))
	default:
		s.logger.Warn("Sync trigger queue full, dropping trigger", zap.String("topic", topic))
	}
	return nil
}

// parseTrigger payload 为空表示全部已配置的类型
func parseTrigger(payload []byte, configured []models.EntityKind) ([]models.EntityKind, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return configured, nil
	}
	kind, err := models.ParseEntityKind(s)
	if err != nil {
		return nil, err
	}
	return []models.EntityKind{kind}, nil
}

// dueKinds 未处于退避期的实体类型
func (s *SyncService) dueKinds(now time.Time) []models.EntityKind {
	var due []models.EntityKind
	for _, k := range s.config.Sync.Kinds {
		if s.backoff.ready(k, now) {
			due = append(due, k)
		}
	}
	return due
}

// Start 启动服务：立即同步一次，之后按间隔轮询，同时响应 MQTT 触发
// ctx 取消后，正在进行的一轮同步结束才返回。
func (s *SyncService) Start(ctx context.Context) error {
	running := make(chan struct{})
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
	defer close(running)

	s.logger.Info("Starting fleet sync service",
		zap.String("instance_id", s.instanceID),
		zap.Duration("interval", s.config.Sync.Interval),
		zap.Any("kinds", s.config.Sync.Kinds),
		zap.Bool("mqtt_enabled", s.messenger != nil),
	)

	if s.messenger != nil {
		if err := s.messenger.Subscribe(TriggerTopic, s.config.MQTT.QoS, s.handleTrigger); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", TriggerTopic, err)
		}
	}

	s.tick(ctx, s.config.Sync.Kinds)

	ticker := time.NewTicker(s.config.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx, s.dueKinds(time.Now()))
		case kinds := <-s.triggers:
			s.tick(ctx, kinds)
		}
	}
}

func (s *SyncService) tick(ctx context.Context, kinds []models.EntityKind) {
	if len(kinds) == 0 || ctx.Err() != nil {
		return
	}
	results, err := s.RunAll(ctx, kinds)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("Sync round finished with errors", zap.Error(err))
	}
	written := 0
	for _, r := range results {
		written += r.Written
	}
	s.logger.Debug("Sync round finished",
		zap.Int("passes", len(results)),
		zap.Int("written", written),
	)
}

// Stop 停止服务并释放连接
// 若 Start 仍在运行，先等待其返回（最长到 ctx 截止），再断开 MQTT、Redis 与数据库。
func (s *SyncService) Stop(ctx context.Context) error {
	var errs []error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping fleet sync service")
		if err := s.waitRunning(ctx); err != nil {
			s.logger.Warn("Sync pass still in flight at shutdown", zap.Error(err))
			errs = append(errs, err)
		}
		if s.messenger != nil {
			if err := s.messenger.Unsubscribe(TriggerTopic); err != nil {
				errs = append(errs, err)
			}
			s.messenger.Disconnect()
		}
		if s.redis != nil {
			if err := rediscommon.Close(s.redis); err != nil {
				errs = append(errs, err)
			}
		}
		if s.db != nil {
			if err := database.Close(s.db); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// waitRunning 等待 Start 返回；Start 未被调用时立即返回
func (s *SyncService) waitRunning(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running == nil {
		return nil
	}
	select {
	case <-running:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sync service to finish: %w", ctx.Err())
	}
}
