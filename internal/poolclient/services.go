package poolclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/subshare/internal/model"
)

// サービス情報取得失敗時のプレースホルダー
const (
	PlaceholderServiceName  = "Subscription"
	PlaceholderServiceLogo  = "/static/img/service-default.svg"
	PlaceholderServiceColor = "#6366F1"
)

// PlaceholderService は取得できなかったサービスの代わりに表示するレコードを返す。
func PlaceholderService(serviceID string) model.ServiceInfo {
	return model.ServiceInfo{
		ID:         serviceID,
		Name:       PlaceholderServiceName,
		LogoURL:    PlaceholderServiceLogo,
		Color:      PlaceholderServiceColor,
		MaxMembers: defaultMaxMembers,
	}
}

// GetServiceInfo はサービス情報を取得する。
// 結果はクライアントの生存期間中キャッシュする。取得に失敗した場合は
// エラーを返さずプレースホルダーを返し、プレースホルダーはキャッシュしない。
func (c *Client) GetServiceInfo(ctx context.Context, serviceID string) model.ServiceInfo {
	if s, ok := c.cachedService(serviceID); ok {
		c.metrics.RecordServiceCache(true)
		return s
	}
	c.metrics.RecordServiceCache(false)

	if serviceID == "" {
		return PlaceholderService(serviceID)
	}

	s, err := c.fetchService(ctx, serviceID)
	if err != nil {
		c.logger.Warn("サービス情報の取得に失敗したためプレースホルダーを返します",
			slog.String("service_id", serviceID),
			slog.String("error", err.Error()),
		)
		return PlaceholderService(serviceID)
	}

	return c.storeService(*s)
}

func (c *Client) fetchService(ctx context.Context, serviceID string) (*model.ServiceInfo, error) {
	resp, err := c.do(ctx, request{
		op:     "get_service",
		method: http.MethodGet,
		path:   "/subscription-services/" + url.PathEscape(serviceID),
	})
	if err != nil {
		return nil, err
	}

	switch {
	case isSuccess(resp.status):
		s, err := parseService(resp.body)
		if err != nil {
			return nil, err
		}
		if s.ID != serviceID {
			s.ID = serviceID
		}
		return s, nil
	case resp.status == http.StatusNotFound:
		return nil, model.NewNotFoundError("サービス", serviceID)
	default:
		return nil, model.NewNetworkError(resp.status, upstreamError(resp))
	}
}

func (c *Client) cachedService(serviceID string) (model.ServiceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.services[serviceID]
	return s, ok
}

// storeService はキャッシュに格納し、格納済みの値を返す。
// 既存のエントリは上書きしない。
func (c *Client) storeService(s model.ServiceInfo) model.ServiceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.services[s.ID]; ok {
		return existing
	}
	c.services[s.ID] = s
	return s
}
