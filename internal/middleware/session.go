// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/subshare/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

type contextKey string

var userIDContextKey = contextKey("user_id")

// ErrNoUserInContext はコンテキストにログインユーザーがない場合に返る。
var ErrNoUserInContext = errors.New("user ID not found in context")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// lookupUserID はCookieのセッションを検証し、ユーザーIDを返す。
// 無効なセッションは空文字を返す。
func lookupUserID(r *http.Request, finder SessionFinder, logger *slog.Logger) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}

	session, err := finder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		logger.Error("failed to find session", slog.String("error", err.Error()))
		return ""
	}
	if session == nil {
		return ""
	}
	return session.UserID
}

// NewSessionMiddleware はAPI向けのセッション必須ミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入し、
// 未認証リクエストには統一フォーマットの401を返す。
func NewSessionMiddleware(finder SessionFinder, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := lookupUserID(r, finder, logger)
			if userID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// NewPageSessionMiddleware はダッシュボードページ向けのセッション必須ミドルウェアを返す。
// 未認証の場合はloginPathへ303でリダイレクトし、元のパスをnextクエリに載せる。
func NewPageSessionMiddleware(finder SessionFinder, loginPath string, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := lookupUserID(r, finder, logger)
			if userID == "" {
				target := loginPath + "?" + url.Values{"next": {r.URL.Path}}.Encode()
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// NewOptionalSessionMiddleware は有効なセッションがあればユーザーIDを注入し、
// なければそのまま通すミドルウェアを返す。公開ページのヘッダー表示に使う。
func NewOptionalSessionMiddleware(finder SessionFinder, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := lookupUserID(r, finder, logger); userID != "" {
				r = r.WithContext(ContextWithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUserInContext
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// 上流のロギングミドルウェアにもユーザーIDを伝える。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if h, ok := ctx.Value(holderContextKey).(*userIDHolder); ok {
		h.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

var holderContextKey = contextKey("user_id_holder")

// userIDHolder は下流で確定したユーザーIDをアクセスログに渡すための入れ物。
// 1リクエスト内の同一ゴルーチンでのみ読み書きする。
type userIDHolder struct {
	userID string
}

func contextWithHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}
