// Package logo はサービスロゴを外部から安全に取得し、同一オリジンで配信するためのキャッシュを提供する。
package logo

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/subshare/internal/metrics"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/security"
)

//go:embed default.svg
var defaultSVG []byte

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxSize    = 1 << 20
	defaultFailureTTL = 5 * time.Minute
)

// ロゴ取得結果のメトリクスラベル
const (
	ResultHit     = "hit"
	ResultFetched = "fetched"
	ResultDefault = "default"
	ResultBlocked = "blocked"
	ResultFailed  = "failed"
)

// Image は配信するロゴ画像。
type Image struct {
	Data        []byte
	ContentType string
	// IsDefault は取得に失敗しデフォルト画像を返した場合にtrue。
	IsDefault bool
}

// DefaultImage は汎用のサービスロゴを返す。
func DefaultImage() Image {
	return Image{Data: defaultSVG, ContentType: "image/svg+xml", IsDefault: true}
}

// ServiceLookup はサービスIDからロゴURLを含む表示情報を引く。
type ServiceLookup interface {
	GetServiceInfo(ctx context.Context, serviceID string) model.ServiceInfo
}

// Config はロゴ取得の設定。
type Config struct {
	Timeout    time.Duration
	MaxSize    int64
	FailureTTL time.Duration // 取得失敗を覚えておく期間
}

type failure struct {
	until time.Time
}

// Fetcher はサービスロゴの取得とキャッシュを行う。
// 取得に成功した画像はプロセス内に保持し、失敗はFailureTTLの間だけ記録する。
type Fetcher struct {
	services ServiceLookup
	guard    security.URLGuard
	client   *http.Client
	config   Config
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time

	mu       sync.RWMutex
	images   map[string]Image
	failures map[string]failure
}

// NewFetcher はFetcherを生成する。
func NewFetcher(services ServiceLookup, guard security.URLGuard, config Config, logger *slog.Logger, m metrics.MetricsCollector) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}
	if config.FailureTTL <= 0 {
		config.FailureTTL = defaultFailureTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Fetcher{
		services: services,
		guard:    guard,
		client:   guard.NewSafeClient(config.Timeout),
		config:   config,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		images:   make(map[string]Image),
		failures: make(map[string]failure),
	}
}

// Logo はサービスのロゴを返す。失敗してもエラーにせずデフォルト画像を返す。
func (f *Fetcher) Logo(ctx context.Context, serviceID string) Image {
	if img, ok := f.cached(serviceID); ok {
		f.metrics.RecordLogoFetch(ResultHit)
		return img
	}

	info := f.services.GetServiceInfo(ctx, serviceID)
	logoURL := strings.TrimSpace(info.LogoURL)
	// 相対パスは自サイトの静的ファイルを指すので取得しない
	if logoURL == "" || strings.HasPrefix(logoURL, "/") {
		f.metrics.RecordLogoFetch(ResultDefault)
		return DefaultImage()
	}

	if err := f.guard.ValidateURL(logoURL); err != nil {
		f.logger.Warn("logo url blocked",
			slog.String("service_id", serviceID),
			slog.String("url", logoURL),
			slog.String("error", err.Error()),
		)
		f.remember(serviceID, nil)
		f.metrics.RecordLogoFetch(ResultBlocked)
		return DefaultImage()
	}

	img, err := f.fetch(ctx, logoURL)
	if err != nil {
		f.logger.Warn("logo fetch failed",
			slog.String("service_id", serviceID),
			slog.String("url", logoURL),
			slog.String("error", err.Error()),
		)
		// 呼び出し元の切断は失敗として記録しない
		if ctx.Err() == nil {
			f.remember(serviceID, nil)
		}
		f.metrics.RecordLogoFetch(ResultFailed)
		return DefaultImage()
	}

	f.remember(serviceID, &img)
	f.metrics.RecordLogoFetch(ResultFetched)
	return img
}

// cached はキャッシュ済みの画像、または失敗記録中ならデフォルト画像を返す。
func (f *Fetcher) cached(serviceID string) (Image, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if img, ok := f.images[serviceID]; ok {
		return img, true
	}
	if fl, ok := f.failures[serviceID]; ok && f.now().Before(fl.until) {
		return DefaultImage(), true
	}
	return Image{}, false
}

func (f *Fetcher) remember(serviceID string, img *Image) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if img == nil {
		f.failures[serviceID] = failure{until: f.now().Add(f.config.FailureTTL)}
		return
	}
	delete(f.failures, serviceID)
	if _, exists := f.images[serviceID]; !exists {
		f.images[serviceID] = *img
	}
}

func (f *Fetcher) fetch(ctx context.Context, logoURL string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoURL, nil)
	if err != nil {
		return Image{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Subshare/1.0 LogoProxy")
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Image{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxSize+1))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxSize {
		return Image{}, fmt.Errorf("logo exceeds %d bytes", f.config.MaxSize)
	}
	if len(body) == 0 {
		return Image{}, fmt.Errorf("empty body")
	}

	contentType := imageType(resp.Header.Get("Content-Type"), body)
	if contentType == "" {
		return Image{}, fmt.Errorf("not an image: %q", resp.Header.Get("Content-Type"))
	}
	return Image{Data: body, ContentType: contentType}, nil
}

// imageType は応答ヘッダーと内容から画像のメディアタイプを決める。
// 画像と判断できない場合は空文字を返す。
func imageType(header string, body []byte) string {
	mt, _, err := mime.ParseMediaType(header)
	if err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	// Content-Typeが欠落・汎用の場合のみ内容から推定する
	if header != "" && mt != "application/octet-stream" {
		return ""
	}
	if sniffed := http.DetectContentType(body); strings.HasPrefix(sniffed, "image/") {
		mt, _, _ := mime.ParseMediaType(sniffed)
		return mt
	}
	return ""
}
