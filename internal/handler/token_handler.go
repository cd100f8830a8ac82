package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/subshare/internal/middleware"
	"github.com/hitoshi/subshare/internal/model"
)

// TokenIssuerInterface は外部API向けのトークン発行インターフェース。
type TokenIssuerInterface interface {
	Issue(userID, email string) (string, time.Time, error)
}

// TokenHandler はブラウザから外部APIを呼ぶためのベアラートークンを発行する。
type TokenHandler struct {
	issuer TokenIssuerInterface
	users  UserServiceInterface
	logger *slog.Logger
}

// NewTokenHandler はTokenHandlerを生成する。
func NewTokenHandler(issuer TokenIssuerInterface, users UserServiceInterface, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{issuer: issuer, users: users, logger: logger}
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken はログインユーザーのトークンを返す。
// GET /api/auth
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.users.Profile(r.Context(), userID)
	if err != nil {
		if model.IsCode(err, model.ErrCodeUserNotFound) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		middleware.WriteError(w, h.logger, err)
		return
	}

	token, expiresAt, err := h.issuer.Issue(p.User.ID, p.User.Email)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt.UTC()})
}
