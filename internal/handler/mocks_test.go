package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/subshare/internal/logo"
	"github.com/hitoshi/subshare/internal/middleware"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/pool"
	"github.com/hitoshi/subshare/internal/user"
)

// --- モック定義 ---

type mockPoolService struct {
	poolsFn     func(ctx context.Context, userID string) []pool.PoolView
	myPoolsFn   func(ctx context.Context) ([]pool.MyPoolView, error)
	dashboardFn func(ctx context.Context, userID string) *pool.Dashboard
	joinFn      func(ctx context.Context, userID, poolID string) (*pool.Outcome, error)
	leaveFn     func(ctx context.Context, userID, poolID string) (*pool.Outcome, error)
	createFn    func(ctx context.Context, userID string, in pool.CreateInput) (*pool.Outcome, error)
}

func (m *mockPoolService) Pools(ctx context.Context, userID string) []pool.PoolView {
	if m.poolsFn != nil {
		return m.poolsFn(ctx, userID)
	}
	return []pool.PoolView{}
}

func (m *mockPoolService) MyPools(ctx context.Context) ([]pool.MyPoolView, error) {
	if m.myPoolsFn != nil {
		return m.myPoolsFn(ctx)
	}
	return []pool.MyPoolView{}, nil
}

func (m *mockPoolService) Dashboard(ctx context.Context, userID string) *pool.Dashboard {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx, userID)
	}
	return &pool.Dashboard{Pools: []pool.PoolView{}, MyPools: []pool.MyPoolView{}}
}

func (m *mockPoolService) Join(ctx context.Context, userID, poolID string) (*pool.Outcome, error) {
	return m.joinFn(ctx, userID, poolID)
}

func (m *mockPoolService) Leave(ctx context.Context, userID, poolID string) (*pool.Outcome, error) {
	return m.leaveFn(ctx, userID, poolID)
}

func (m *mockPoolService) Create(ctx context.Context, userID string, in pool.CreateInput) (*pool.Outcome, error) {
	return m.createFn(ctx, userID, in)
}

type mockUserService struct {
	profileFn        func(ctx context.Context, userID string) (*user.Profile, error)
	updateNameFn     func(ctx context.Context, userID, name string) (*model.User, error)
	settingsFn       func(ctx context.Context, userID string) (*model.UserSettings, error)
	updateSettingsFn func(ctx context.Context, userID string, in user.SettingsInput) (*model.UserSettings, error)
	paymentMethodsFn func(ctx context.Context, userID string) ([]*model.PaymentMethod, error)
	addPaymentFn     func(ctx context.Context, userID string, in user.PaymentMethodInput) (*model.PaymentMethod, error)
	deletePaymentFn  func(ctx context.Context, userID, id string) error
	setDefaultFn     func(ctx context.Context, userID, id string) error
	withdrawFn       func(ctx context.Context, userID string) error
}

func (m *mockUserService) Profile(ctx context.Context, userID string) (*user.Profile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	return &user.Profile{
		User:       &model.User{ID: userID, Email: userID + "@example.com", Name: "Test User"},
		Identities: []*model.Identity{},
	}, nil
}

func (m *mockUserService) UpdateName(ctx context.Context, userID, name string) (*model.User, error) {
	return m.updateNameFn(ctx, userID, name)
}

func (m *mockUserService) Settings(ctx context.Context, userID string) (*model.UserSettings, error) {
	if m.settingsFn != nil {
		return m.settingsFn(ctx, userID)
	}
	return &model.UserSettings{UserID: userID, Currency: "INR", Locale: "en-IN", DefaultBilling: model.BillingMonthly}, nil
}

func (m *mockUserService) UpdateSettings(ctx context.Context, userID string, in user.SettingsInput) (*model.UserSettings, error) {
	return m.updateSettingsFn(ctx, userID, in)
}

func (m *mockUserService) PaymentMethods(ctx context.Context, userID string) ([]*model.PaymentMethod, error) {
	if m.paymentMethodsFn != nil {
		return m.paymentMethodsFn(ctx, userID)
	}
	return []*model.PaymentMethod{}, nil
}

func (m *mockUserService) AddPaymentMethod(ctx context.Context, userID string, in user.PaymentMethodInput) (*model.PaymentMethod, error) {
	return m.addPaymentFn(ctx, userID, in)
}

func (m *mockUserService) DeletePaymentMethod(ctx context.Context, userID, id string) error {
	return m.deletePaymentFn(ctx, userID, id)
}

func (m *mockUserService) SetDefaultPaymentMethod(ctx context.Context, userID, id string) error {
	return m.setDefaultFn(ctx, userID, id)
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	return m.withdrawFn(ctx, userID)
}

type mockCatalog struct {
	listFn func(ctx context.Context) ([]model.ServiceInfo, error)
	getFn  func(ctx context.Context, id string) model.ServiceInfo
}

func (m *mockCatalog) ListServices(ctx context.Context) ([]model.ServiceInfo, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, model.NewNetworkError(503, nil)
}

func (m *mockCatalog) GetServiceInfo(ctx context.Context, id string) model.ServiceInfo {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return model.ServiceInfo{ID: id, Name: "Subscription", MaxMembers: 6}
}

type mockLogos struct {
	logoFn func(ctx context.Context, serviceID string) logo.Image
}

func (m *mockLogos) Logo(ctx context.Context, serviceID string) logo.Image {
	if m.logoFn != nil {
		return m.logoFn(ctx, serviceID)
	}
	return logo.DefaultImage()
}

type mockTokenIssuer struct {
	issueFn func(userID, email string) (string, time.Time, error)
}

func (m *mockTokenIssuer) Issue(userID, email string) (string, time.Time, error) {
	return m.issueFn(userID, email)
}

// mockSessionFinder は "valid-session" を user-1 のセッションとして扱う。
type mockSessionFinder struct{}

func (mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "valid-session" {
		return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, nil
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// decodeError は統一エラーフォーマットのレスポンスボディを読み込む。
func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (body=%q)", err, w.Body.String())
	}
	return body
}

// withUser はセッションミドルウェアを通過した状態のリクエストを作る。
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}
