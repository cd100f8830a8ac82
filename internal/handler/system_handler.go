package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/subshare/internal/logo"
)

// HealthChecker は依存先の疎通確認を行う関数。
type HealthChecker func(ctx context.Context) error

// LogoSource はサービスロゴの取得に必要なインターフェース。
type LogoSource interface {
	Logo(ctx context.Context, serviceID string) logo.Image
}

var _ LogoSource = (*logo.Fetcher)(nil)

// SystemHandler はヘルスチェックとロゴ配信のHTTPハンドラー。
type SystemHandler struct {
	health HealthChecker
	logos  LogoSource
	logger *slog.Logger
}

// NewSystemHandler はSystemHandlerを生成する。
func NewSystemHandler(health HealthChecker, logos LogoSource, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{health: health, logos: logos, logger: logger}
}

// Health はDB疎通を確認し、200または503を返す。
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Logo はサービスロゴを返す。取得できない場合はデフォルト画像を返す。
// GET /logos/{serviceId}
func (h *SystemHandler) Logo(w http.ResponseWriter, r *http.Request) {
	img := h.logos.Logo(r.Context(), chi.URLParam(r, "serviceId"))
	writeImage(w, img)
}

// DefaultServiceLogo はサービス未設定時のロゴを返す。
// GET /static/img/service-default.svg
func DefaultServiceLogo(w http.ResponseWriter, r *http.Request) {
	writeImage(w, logo.DefaultImage())
}

// writeImage は外部から取得した画像をスクリプト実行できない形で返す。
func writeImage(w http.ResponseWriter, img logo.Image) {
	h := w.Header()
	h.Set("Content-Type", img.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(img.Data)))
	h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	h.Set("X-Content-Type-Options", "nosniff")
	if img.IsDefault {
		h.Set("Cache-Control", "public, max-age=300")
	} else {
		h.Set("Cache-Control", "public, max-age=86400")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}
