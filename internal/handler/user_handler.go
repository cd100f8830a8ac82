package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/subshare/internal/middleware"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*user.Profile, error)
	UpdateName(ctx context.Context, userID, name string) (*model.User, error)
	Settings(ctx context.Context, userID string) (*model.UserSettings, error)
	UpdateSettings(ctx context.Context, userID string, in user.SettingsInput) (*model.UserSettings, error)
	PaymentMethods(ctx context.Context, userID string) ([]*model.PaymentMethod, error)
	AddPaymentMethod(ctx context.Context, userID string, in user.PaymentMethodInput) (*model.PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, userID, id string) error
	SetDefaultPaymentMethod(ctx context.Context, userID, id string) error
	// Withdraw はユーザーの退会処理を実行する。
	// user、identities、sessions、settings、payment_methodsを削除する。
	Withdraw(ctx context.Context, userID string) error
}

var _ UserServiceInterface = (*user.Service)(nil)

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	logger  *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type identityResponse struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

type profileResponse struct {
	userResponse
	CreatedAt  time.Time          `json:"created_at"`
	Identities []identityResponse `json:"identities"`
}

type updateNameRequest struct {
	Name string `json:"name"`
}

type settingsResponse struct {
	Currency           string `json:"currency"`
	Locale             string `json:"locale"`
	DefaultBilling     string `json:"default_billing"`
	EmailNotifications bool   `json:"email_notifications"`
}

type settingsRequest struct {
	Currency           string `json:"currency"`
	Locale             string `json:"locale"`
	DefaultBilling     string `json:"default_billing"`
	EmailNotifications bool   `json:"email_notifications"`
}

type paymentMethodResponse struct {
	ID        string    `json:"id"`
	Brand     string    `json:"brand"`
	Last4     string    `json:"last4"`
	ExpMonth  int       `json:"exp_month"`
	ExpYear   int       `json:"exp_year"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

type paymentMethodRequest struct {
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
	ExpMonth    int    `json:"exp_month"`
	ExpYear     int    `json:"exp_year"`
	MakeDefault bool   `json:"make_default"`
}

func toProfileResponse(p *user.Profile) profileResponse {
	resp := profileResponse{
		userResponse: userResponse{ID: p.User.ID, Email: p.User.Email, Name: p.User.Name},
		CreatedAt:    p.User.CreatedAt,
		Identities:   make([]identityResponse, 0, len(p.Identities)),
	}
	for _, ident := range p.Identities {
		resp.Identities = append(resp.Identities, identityResponse{Provider: ident.Provider, CreatedAt: ident.CreatedAt})
	}
	return resp
}

func toSettingsResponse(s *model.UserSettings) settingsResponse {
	return settingsResponse{
		Currency:           s.Currency,
		Locale:             s.Locale,
		DefaultBilling:     string(s.DefaultBilling),
		EmailNotifications: s.EmailNotifications,
	}
}

func toPaymentMethodResponse(pm *model.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        pm.ID,
		Brand:     pm.Brand,
		Last4:     pm.Last4,
		ExpMonth:  pm.ExpMonth,
		ExpYear:   pm.ExpYear,
		IsDefault: pm.IsDefault,
		CreatedAt: pm.CreatedAt,
	}
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// UpdateProfile は表示名を更新する。
// PUT /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateNameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	u, err := h.service.UpdateName(r.Context(), userID, req.Name)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: u.ID, Email: u.Email, Name: u.Name})
}

// Withdraw はユーザーの退会処理を実行し、セッションCookieを削除する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings はユーザー設定を返す。
// GET /api/users/me/settings
func (h *UserHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	s, err := h.service.Settings(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(s))
}

// UpdateSettings はユーザー設定を更新する。
// PUT /api/users/me/settings
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	s, err := h.service.UpdateSettings(r.Context(), userID, user.SettingsInput{
		Currency:           req.Currency,
		Locale:             req.Locale,
		DefaultBilling:     model.BillingFrequency(req.DefaultBilling),
		EmailNotifications: req.EmailNotifications,
	})
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(s))
}

// ListPaymentMethods は支払い方法の一覧を返す。
// GET /api/payment-methods
func (h *UserHandler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	methods, err := h.service.PaymentMethods(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	resp := make([]paymentMethodResponse, 0, len(methods))
	for _, pm := range methods {
		resp = append(resp, toPaymentMethodResponse(pm))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddPaymentMethod は支払い方法を追加する。
// POST /api/payment-methods
func (h *UserHandler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req paymentMethodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	pm, err := h.service.AddPaymentMethod(r.Context(), userID, user.PaymentMethodInput{
		Brand:       req.Brand,
		Last4:       req.Last4,
		ExpMonth:    req.ExpMonth,
		ExpYear:     req.ExpYear,
		MakeDefault: req.MakeDefault,
	})
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentMethodResponse(pm))
}

// DeletePaymentMethod は支払い方法を削除する。
// DELETE /api/payment-methods/{id}
func (h *UserHandler) DeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePaymentMethod(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefaultPaymentMethod は支払い方法をデフォルトにする。
// POST /api/payment-methods/{id}/default
func (h *UserHandler) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.SetDefaultPaymentMethod(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
