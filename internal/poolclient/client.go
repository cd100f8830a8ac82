// Package poolclient は外部のプールAPI（サブスクリプション共有グループの管理API）のクライアントを提供する。
// すべてのレスポンスは検証付きのパース処理を経てドメインモデルに変換される。
package poolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/subshare/internal/metrics"
	"github.com/hitoshi/subshare/internal/model"
)

// maxResponseSize はレスポンスボディの読み取り上限。
const maxResponseSize = 4 << 20

// ErrNoToken はトークンソースがアクセストークンを返せない場合のエラー。
var ErrNoToken = errors.New("access token is not available")

// TokenSource は外部API呼び出し用のBearerトークンを提供する。
// ログインセッションの仲介は呼び出し元の責務とする。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc は関数をTokenSourceとして扱うためのアダプタ。
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token はTokenSourceインターフェースを実装する。
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// CreatePoolInput はプール作成時の入力。
type CreatePoolInput struct {
	ServiceID            string
	Name                 string
	Description          string
	EncryptedCredentials string // 暗号化済みの不透明な値。中身は解釈せずにそのまま送る
	SlotsTotal           int
	CostPerSlot          float64
}

// Client は外部プールAPIのクライアント。
// サービス情報のキャッシュはインスタンスごとに保持し、起動時に1つ生成して共有する。
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
	metrics    metrics.MetricsCollector

	mu       sync.RWMutex
	services map[string]model.ServiceInfo
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientのTimeoutがリクエスト全体のタイムアウトとなる。
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger, m metrics.MetricsCollector) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		metrics:    m,
		services:   make(map[string]model.ServiceInfo),
	}
}

// request は1回のAPI呼び出しの内容。
type request struct {
	op     string
	method string
	path   string
	body   any
	auth   bool
}

// response はステータスとボディを保持する。
type response struct {
	status int
	body   []byte
}

// do はリクエストを送信し、ステータスとボディを返す。
// 通信失敗・タイムアウトはNetworkErrorとして返す。ステータスの分類は呼び出し元が行う。
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, reader)
	if err != nil {
		return nil, model.NewNetworkError(0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Subshare/1.0")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if r.auth {
		if c.tokens == nil {
			return nil, model.NewAuthError(ErrNoToken)
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, model.NewAuthError(err)
		}
		if token == "" {
			return nil, model.NewAuthError(ErrNoToken)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordUpstreamRequest(r.op, 0, elapsed)
		c.logger.Error("プールAPIの呼び出しに失敗しました",
			slog.String("operation", r.op),
			slog.String("path", r.path),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.metrics.RecordUpstreamRequest(r.op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, model.NewNetworkError(resp.StatusCode, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("プールAPIがエラーステータスを返しました",
			slog.String("operation", r.op),
			slog.String("path", r.path),
			slog.Int("http_status", resp.StatusCode),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}

	return &response{status: resp.StatusCode, body: body}, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// upstreamError はエラーレスポンスのボディから原因メッセージを取り出す。
func upstreamError(resp *response) error {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.body, &payload); err == nil {
		if payload.Message != "" {
			return fmt.Errorf("upstream %d: %s", resp.status, payload.Message)
		}
		if payload.Error != "" {
			return fmt.Errorf("upstream %d: %s", resp.status, payload.Error)
		}
	}
	return fmt.Errorf("upstream status %d", resp.status)
}

// ListPools は掲載中のプール一覧を取得する。
// サーバーが0件を返した場合は空スライスを返す。
func (c *Client) ListPools(ctx context.Context) ([]model.Pool, error) {
	resp, err := c.do(ctx, request{op: "list_pools", method: http.MethodGet, path: "/subscriptions"})
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.status) {
		return nil, model.NewNetworkError(resp.status, upstreamError(resp))
	}
	return parsePools(resp.body)
}

// CreatePool はプールを作成する。
// オーナーのメンバーシップ（isPrimary=true）はサーバー側で作成される。
func (c *Client) CreatePool(ctx context.Context, in CreatePoolInput) (*model.Pool, error) {
	if in.ServiceID == "" {
		return nil, model.NewValidationError("サービスを指定してください", nil)
	}
	if in.SlotsTotal < minSlotsTotal {
		return nil, model.NewValidationError(fmt.Sprintf("枠数は%d以上で指定してください", minSlotsTotal), nil)
	}
	if !(in.CostPerSlot > 0) || in.CostPerSlot > maxAmount {
		return nil, model.NewValidationError("1枠あたりの料金は0より大きい値を指定してください", nil)
	}
	if strings.TrimSpace(in.EncryptedCredentials) == "" {
		return nil, model.NewValidationError("暗号化済みの認証情報を指定してください", nil)
	}

	resp, err := c.do(ctx, request{
		op:     "create_pool",
		method: http.MethodPost,
		path:   "/subscriptions",
		auth:   true,
		body: createPoolRequest{
			ServiceID:            in.ServiceID,
			Name:                 in.Name,
			Description:          in.Description,
			EncryptedCredentials: in.EncryptedCredentials,
			SlotsTotal:           in.SlotsTotal,
			CostPerSlot:          in.CostPerSlot,
		},
	})
	if err != nil {
		return nil, err
	}

	switch {
	case isSuccess(resp.status):
		return parsePool(resp.body)
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return nil, model.NewAuthError(upstreamError(resp))
	case resp.status == http.StatusBadRequest || resp.status == http.StatusUnprocessableEntity:
		verr := model.NewValidationError("サーバーが入力内容を受け付けませんでした", upstreamError(resp))
		verr.Status = resp.status
		return nil, verr
	default:
		return nil, model.NewNetworkError(resp.status, upstreamError(resp))
	}
}

// JoinPool はプールに参加する。
// 空き枠の事前確認は行わず、サーバーの409をPoolFullErrorとして返す。
func (c *Client) JoinPool(ctx context.Context, poolID string) error {
	if poolID == "" {
		return model.NewValidationError("プールIDを指定してください", nil)
	}

	resp, err := c.do(ctx, request{
		op:     "join_pool",
		method: http.MethodPost,
		path:   "/subscriptions/" + url.PathEscape(poolID) + "/join",
		auth:   true,
	})
	if err != nil {
		return err
	}

	switch {
	case isSuccess(resp.status):
		return nil
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return model.NewAuthError(upstreamError(resp))
	case resp.status == http.StatusNotFound:
		return model.NewNotFoundError("プール", poolID)
	case resp.status == http.StatusConflict:
		return model.NewPoolFullError(poolID)
	default:
		return model.NewNetworkError(resp.status, upstreamError(resp))
	}
}

// ResolveMembership はログインユーザーの指定プールにおけるメンバーシップを取得する。
// 解決できない場合はNotFoundErrorを返し、プールIDでの代用は行わない。
func (c *Client) ResolveMembership(ctx context.Context, poolID string) (*model.Membership, error) {
	if poolID == "" {
		return nil, model.NewValidationError("プールIDを指定してください", nil)
	}

	resp, err := c.do(ctx, request{
		op:     "resolve_membership",
		method: http.MethodGet,
		path:   "/subscriptions/" + url.PathEscape(poolID) + "/membership",
		auth:   true,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case isSuccess(resp.status):
		m, err := parseMembership(resp.body)
		if err != nil {
			return nil, err
		}
		if m.PoolID == "" {
			m.PoolID = poolID
		}
		if m.PoolID != poolID {
			return nil, model.NewValidationError("別のプールのメンバーシップが返されました", fmt.Errorf("want pool %s, got %s", poolID, m.PoolID))
		}
		return m, nil
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return nil, model.NewAuthError(upstreamError(resp))
	case resp.status == http.StatusNotFound:
		return nil, model.NewNotFoundError("メンバーシップ", poolID)
	default:
		return nil, model.NewNetworkError(resp.status, upstreamError(resp))
	}
}

// LeavePool はプールから脱退する。
// メンバーシップIDを専用エンドポイントで解決してからLeaveMembershipを呼ぶ。
func (c *Client) LeavePool(ctx context.Context, poolID string) error {
	m, err := c.ResolveMembership(ctx, poolID)
	if err != nil {
		return fmt.Errorf("メンバーシップの解決に失敗しました: %w", err)
	}
	return c.LeaveMembership(ctx, poolID, m.ID)
}

// LeaveMembership はメンバーシップIDを指定してプールから脱退する。
// 当月分の返金は行われない。
func (c *Client) LeaveMembership(ctx context.Context, poolID, membershipID string) error {
	if poolID == "" || membershipID == "" {
		return model.NewValidationError("プールIDとメンバーシップIDを指定してください", nil)
	}

	resp, err := c.do(ctx, request{
		op:     "leave_pool",
		method: http.MethodPost,
		path:   "/subscriptions/" + url.PathEscape(poolID) + "/leave",
		auth:   true,
		body:   leavePoolRequest{MembershipID: membershipID},
	})
	if err != nil {
		return err
	}

	switch {
	case isSuccess(resp.status):
		return nil
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return model.NewAuthError(upstreamError(resp))
	case resp.status == http.StatusNotFound:
		return model.NewNotFoundError("メンバーシップ", membershipID)
	default:
		return model.NewNetworkError(resp.status, upstreamError(resp))
	}
}

// ListUserPools はログインユーザーが所属するプールとメンバーシップの一覧を取得する。
func (c *Client) ListUserPools(ctx context.Context) ([]model.UserPool, error) {
	resp, err := c.do(ctx, request{
		op:     "list_user_pools",
		method: http.MethodGet,
		path:   "/subscriptions/mine",
		auth:   true,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case isSuccess(resp.status):
		return parseUserPools(resp.body)
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return nil, model.NewAuthError(upstreamError(resp))
	default:
		return nil, model.NewNetworkError(resp.status, upstreamError(resp))
	}
}

// ListServices は共有可能なサービスの一覧を取得する。
// 取得したサービス情報はキャッシュにも格納する。
func (c *Client) ListServices(ctx context.Context) ([]model.ServiceInfo, error) {
	resp, err := c.do(ctx, request{op: "list_services", method: http.MethodGet, path: "/subscription-services"})
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.status) {
		return nil, model.NewNetworkError(resp.status, upstreamError(resp))
	}

	services, err := parseServices(resp.body)
	if err != nil {
		return nil, err
	}
	for _, s := range services {
		c.storeService(s)
	}
	return services, nil
}
