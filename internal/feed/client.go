package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"fleet-telemetry/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Credentials 已认证会话（获取方式不在本服务范围内）
type Credentials struct {
	Database  string `json:"database"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId"`
}

// ClientConfig 数据源客户端配置
type ClientConfig struct {
	BaseURL     string        // 如 https://my.example.com
	Path        string        // JSON-RPC 入口，默认 /apiv1
	Timeout     time.Duration // 单次请求超时
	RetryCount  int
	Credentials Credentials
}

// rpcRequest JSON-RPC 请求
type rpcRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// rpcResponse JSON-RPC 响应
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *APIError       `json:"error,omitempty"`
}

// APIError 数据源返回的业务错误
type APIError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed api error: %s (%s)", e.Message, e.Name)
}

// feedResult GetFeed 的 result 部分
type feedResult struct {
	Data      []models.RawRecord `json:"data"`
	ToVersion string             `json:"toVersion"`
}

// Client 基于 resty 的数据源客户端
type Client struct {
	httpClient  *resty.Client
	path        string
	credentials Credentials
	logger      *zap.Logger
}

// NewClient 创建数据源客户端
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	path := cfg.Path
	if path == "" {
		path = "/apiv1"
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient:  httpClient,
		path:        path,
		credentials: cfg.Credentials,
		logger:      logger,
	}
}

var (
	_ Provider         = (*Client)(nil)
	_ DiagnosticFinder = (*Client)(nil)
)

// GetFeed 增量拉取一页数据
func (c *Client) GetFeed(ctx context.Context, req models.FeedRequest) (*models.FeedPage, error) {
	params := map[string]interface{}{
		"typeName": string(req.Kind),
	}
	if req.ResultsLimit > 0 {
		params["resultsLimit"] = req.ResultsLimit
	}
	if req.FromVersion != nil && *req.FromVersion != "" {
		params["fromVersion"] = *req.FromVersion
	}
	if len(req.Search) > 0 {
		params["search"] = req.Search
	}

	var result feedResult
	if err := c.call(ctx, "GetFeed", params, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched feed page",
		zap.String("entity", string(req.Kind)),
		zap.Int("records", len(result.Data)),
		zap.String("to_version", result.ToVersion),
	)

	return &models.FeedPage{
		Records:   result.Data,
		ToVersion: result.ToVersion,
	}, nil
}

// GetDevice 按 id 查询设备
func (c *Client) GetDevice(ctx context.Context, id string) (models.RawRecord, error) {
	var devices []models.RawRecord
	params := map[string]interface{}{
		"typeName": string(models.EntityDevice),
		"search":   map[string]interface{}{"id": id},
	}
	if err := c.call(ctx, "Get", params, &devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	return devices[0], nil
}

// FindDiagnostic 查找名称包含 nameContains 的诊断项（不区分大小写，按名称排序取第一个）
func (c *Client) FindDiagnostic(ctx context.Context, nameContains string) (models.RawRecord, error) {
	var diags []models.RawRecord
	params := map[string]interface{}{
		"typeName": string(models.EntityDiagnostic),
		"search":   map[string]interface{}{"name": "%" + nameContains + "%"},
	}
	if err := c.call(ctx, "Get", params, &diags); err != nil {
		return nil, err
	}

	sort.SliceStable(diags, func(i, j int) bool {
		return diagName(diags[i]) < diagName(diags[j])
	})
	needle := strings.ToLower(nameContains)
	for _, d := range diags {
		if strings.Contains(strings.ToLower(diagName(d)), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("diagnostic %q: %w", nameContains, models.ErrNotFound)
}

func diagName(r models.RawRecord) string {
	name, _ := r["name"].(string)
	return name
}

// call 执行一次 JSON-RPC 调用，result 解码时保留数字原文（json.Number）
func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	if c.credentials.SessionID != "" || c.credentials.UserName != "" {
		params["credentials"] = c.credentials
	}

	var response rpcResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(rpcRequest{Method: method, Params: params}).
		SetResult(&response).
		Post(c.path)
	if err != nil {
		return fmt.Errorf("failed to call feed api %s: %w", method, err)
	}
	if resp.IsError() {
		c.logger.Error("Feed API returned HTTP error",
			zap.String("method", method),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("feed api %s: http status %d", method, resp.StatusCode())
	}
	if response.Error != nil {
		c.logger.Error("Feed API returned error",
			zap.String("method", method),
			zap.String("name", response.Error.Name),
			zap.String("msg", response.Error.Message),
		)
		return response.Error
	}
	if len(response.Result) == 0 || string(response.Result) == "null" {
		return fmt.Errorf("feed api %s: empty result", method)
	}

	dec := json.NewDecoder(bytes.NewReader(response.Result))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode feed api %s result: %w", method, err)
	}
	return nil
}
