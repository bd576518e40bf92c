package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleet-telemetry/internal/feed"
	"fleet-telemetry/internal/models"
	"fleet-telemetry/internal/repository"
	"fleet-telemetry/internal/resolver"
	"fleet-telemetry/internal/transformer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultResultsLimit 每页最多拉取的记录数
const DefaultResultsLimit = 1000

// Options 同步控制器参数
type Options struct {
	ResultsLimit int
	// OdometerDiagnosticID 里程表诊断 id；为空时通过 DiagnosticFinder 按名称查找
	OdometerDiagnosticID string
}

// PassResult 一轮同步的结果
type PassResult struct {
	PassID            string            `json:"pass_id"`
	Entity            models.EntityKind `json:"entity"`
	FromVersion       *string           `json:"from_version,omitempty"`
	ToVersion         string            `json:"to_version"`
	Fetched           int               `json:"fetched"`
	Written           int               `json:"written"`
	Rejected          int               `json:"rejected"`
	ResolvedDevices   int               `json:"resolved_devices"`
	UnresolvedDevices int               `json:"unresolved_devices"`
	StartedAt         time.Time         `json:"started_at"`
	Duration          time.Duration     `json:"duration"`
}

// Controller 同步控制器
// 每次调用 SyncOnce 处理一页：读游标 → 拉取 → 解析设备 → 标准化并写入（单事务）→ 提交后保存游标。
type Controller struct {
	store      repository.Store
	provider   feed.Provider
	diagFinder feed.DiagnosticFinder
	resolver   *resolver.DeviceResolver
	canon      *transformer.Canonicalizer
	opts       Options
	logger     *zap.Logger

	// 同一实体类型在进程内串行
	locksMu sync.Mutex
	locks   map[models.EntityKind]*sync.Mutex

	diagMu sync.Mutex
	diagID string
}

// NewController 创建同步控制器
// provider 同时实现 feed.DiagnosticFinder 时用于查找里程表诊断。
func NewController(store repository.Store, provider feed.Provider, opts Options, logger *zap.Logger) *Controller {
	if opts.ResultsLimit <= 0 {
		opts.ResultsLimit = DefaultResultsLimit
	}
	finder, _ := provider.(feed.DiagnosticFinder)
	return &Controller{
		store:      store,
		provider:   provider,
		diagFinder: finder,
		resolver:   resolver.NewDeviceResolver(provider, logger),
		canon:      transformer.NewCanonicalizer(logger),
		opts:       opts,
		logger:     logger,
		locks:      make(map[models.EntityKind]*sync.Mutex),
		diagID:     opts.OdometerDiagnosticID,
	}
}

func (c *Controller) lockFor(kind models.EntityKind) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[kind]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[kind] = mu
	}
	return mu
}

// SyncOnce 执行一轮增量同步
// 拉取失败或上下文取消返回 *models.FetchError；写入失败时游标不前进。
func (c *Controller) SyncOnce(ctx context.Context, kind models.EntityKind) (*PassResult, error) {
	if _, err := models.ParseEntityKind(string(kind)); err != nil {
		return nil, err
	}

	mu := c.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	result := &PassResult{
		PassID:    uuid.New().String(),
		Entity:    kind,
		StartedAt: time.Now().UTC(),
	}
	logger := c.logger.With(zap.String("pass_id", result.PassID), zap.String("entity", string(kind)))

	// 1. 游标
	cursor, err := c.store.GetCursor(ctx, kind)
	switch {
	case errors.Is(err, models.ErrCursorNotFound):
		logger.Info("No sync cursor yet, starting from the beginning")
	case err != nil:
		return nil, fmt.Errorf("failed to read sync cursor: %w", err)
	default:
		result.FromVersion = cursor.ToVersion
	}

	// 2. 拉取一页
	req := models.FeedRequest{
		Kind:         kind,
		FromVersion:  result.FromVersion,
		ResultsLimit: c.opts.ResultsLimit,
	}
	if kind == models.EntityStatusData {
		diagID, err := c.odometerDiagnosticID(ctx)
		if err != nil {
			return nil, &models.FetchError{Kind: kind, Err: err}
		}
		req.Search = map[string]interface{}{
			"diagnosticSearch": map[string]interface{}{"id": diagID},
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &models.FetchError{Kind: kind, Err: err}
	}
	page, err := c.provider.GetFeed(ctx, req)
	if err != nil {
		logger.Warn("Feed fetch failed, cursor unchanged", zap.Error(err))
		return nil, &models.FetchError{Kind: kind, Err: err}
	}
	result.Fetched = len(page.Records)
	result.ToVersion = page.ToVersion

	// 3. 设备解析（每页一次）
	res, err := c.resolver.Resolve(ctx, c.store, transformer.DeviceIDs(page.Records))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &models.FetchError{Kind: kind, Err: err}
		}
		return nil, fmt.Errorf("failed to resolve devices: %w", err)
	}
	result.ResolvedDevices = res.Fetched
	result.UnresolvedDevices = len(res.Unresolved)

	// 4. 标准化并在单个事务内写入
	batch, err := c.canon.Canonicalize(kind, page.Records)
	if err != nil {
		return nil, err
	}
	result.Rejected = len(batch.Rejected)
	if len(batch.Rejected) > 0 {
		logger.Warn("Skipped malformed records",
			zap.Int("rejected", len(batch.Rejected)),
			zap.Error(batch.Rejected[0]),
		)
	}

	if batch.Accepted() > 0 {
		err = c.store.WithinTx(ctx, func(tx repository.Store) error {
			return writeBatch(ctx, tx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write %s page: %w", kind, err)
		}
	}
	result.Written = batch.Accepted()

	// 5. 提交后保存游标
	if page.ToVersion == "" {
		logger.Warn("Feed returned no toVersion, cursor unchanged")
	} else if err := c.store.SaveCursor(ctx, kind, page.ToVersion); err != nil {
		return nil, fmt.Errorf("failed to save sync cursor: %w", err)
	}

	result.Duration = time.Since(result.StartedAt)
	logger.Info("Sync pass completed",
		zap.Int("fetched", result.Fetched),
		zap.Int("written", result.Written),
		zap.Int("rejected", result.Rejected),
		zap.Int("unresolved_devices", result.UnresolvedDevices),
		zap.String("to_version", result.ToVersion),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func writeBatch(ctx context.Context, tx repository.Store, batch *transformer.Batch) error {
	if len(batch.Positions) > 0 {
		if err := tx.UpsertPositions(ctx, batch.Positions); err != nil {
			return err
		}
	}
	if len(batch.Incidents) > 0 {
		if err := tx.UpsertIncidents(ctx, batch.Incidents); err != nil {
			return err
		}
	}
	if len(batch.Odometer) > 0 {
		if err := tx.UpsertOdometerSamples(ctx, batch.Odometer); err != nil {
			return err
		}
	}
	return nil
}

// odometerDiagnosticID 返回里程表诊断 id，首次查找后缓存
func (c *Controller) odometerDiagnosticID(ctx context.Context) (string, error) {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()

	if c.diagID != "" {
		return c.diagID, nil
	}
	if c.diagFinder == nil {
		return "", errors.New("odometer diagnostic id not configured and provider cannot search diagnostics")
	}

	diag, err := c.diagFinder.FindDiagnostic(ctx, "odometer")
	if err != nil {
		return "", fmt.Errorf("failed to find odometer diagnostic: %w", err)
	}
	id, _ := diag["id"].(string)
	if id == "" {
		return "", errors.New("odometer diagnostic has no id")
	}

	c.logger.Info("Using odometer diagnostic",
		zap.String("diagnostic_id", id),
		zap.Any("name", diag["name"]),
	)
	c.diagID = id
	return id, nil
}
