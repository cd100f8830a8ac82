// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/pricing"
	"github.com/hitoshi/subshare/internal/repository"
)

const maxNameRunes = 100

var last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)

// knownBrands は受け付けるカードブランド。
var knownBrands = map[string]bool{
	"visa":       true,
	"mastercard": true,
	"amex":       true,
	"rupay":      true,
	"discover":   true,
	"jcb":        true,
	"diners":     true,
}

// Profile はプロフィール画面に表示するユーザー情報。
type Profile struct {
	User       *model.User
	Identities []*model.Identity
}

// Defaults はユーザー設定が未作成の場合に使う値。
type Defaults struct {
	Currency string
	Locale   string
}

// SettingsInput は設定更新の入力。
type SettingsInput struct {
	Currency           string
	Locale             string
	DefaultBilling     model.BillingFrequency
	EmailNotifications bool
}

// PaymentMethodInput は支払い方法追加の入力。
type PaymentMethodInput struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
	// MakeDefault がtrueなら既存のデフォルトを解除してこれをデフォルトにする。
	MakeDefault bool
}

// Service はユーザー管理のサービス層。
// プロフィール、設定、支払い方法、退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo     repository.UserRepository
	identityRepo repository.IdentityRepository
	sessionRepo  repository.SessionRepository
	settingsRepo repository.SettingsRepository
	paymentRepo  repository.PaymentMethodRepository
	defaults     Defaults
	logger       *slog.Logger
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	identityRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	settingsRepo repository.SettingsRepository,
	paymentRepo repository.PaymentMethodRepository,
	defaults Defaults,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:     userRepo,
		identityRepo: identityRepo,
		sessionRepo:  sessionRepo,
		settingsRepo: settingsRepo,
		paymentRepo:  paymentRepo,
		defaults:     defaults,
		logger:       logger,
		now:          time.Now,
	}
}

// Profile はユーザー情報と紐付くIdPの一覧を返す。
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	identities, err := s.identityRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("identityの取得に失敗しました: %w", err)
	}
	if identities == nil {
		identities = []*model.Identity{}
	}
	return &Profile{User: user, Identities: identities}, nil
}

// UpdateName は表示名を更新する。前後の空白を除き、空の名前は受け付けない。
func (s *Service) UpdateName(ctx context.Context, userID, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		return nil, model.NewInvalidRequestError()
	}

	user, err := s.userRepo.UpdateName(ctx, userID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("表示名の更新に失敗しました: %w", err)
	}
	return user, nil
}

// Settings はユーザー設定を返す。未作成の場合はデフォルト値を返す。
func (s *Service) Settings(ctx context.Context, userID string) (*model.UserSettings, error) {
	settings, err := s.settingsRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("設定の取得に失敗しました: %w", err)
	}
	if settings == nil {
		return &model.UserSettings{
			UserID:         userID,
			Currency:       s.defaults.Currency,
			Locale:         s.defaults.Locale,
			DefaultBilling: model.BillingMonthly,
		}, nil
	}
	return settings, nil
}

// UpdateSettings は入力を検証してユーザー設定を保存する。
func (s *Service) UpdateSettings(ctx context.Context, userID string, in SettingsInput) (*model.UserSettings, error) {
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if !pricing.ValidCurrency(currency) {
		return nil, model.NewInvalidSettingsError("通貨コードが不正です")
	}
	locale := strings.TrimSpace(in.Locale)
	if !pricing.ValidLocale(locale) {
		return nil, model.NewInvalidSettingsError("ロケールが不正です")
	}
	if !in.DefaultBilling.Valid() {
		return nil, model.NewInvalidSettingsError("請求サイクルはmonthlyまたはyearlyを指定してください")
	}

	settings := &model.UserSettings{
		UserID:             userID,
		Currency:           currency,
		Locale:             locale,
		DefaultBilling:     in.DefaultBilling,
		EmailNotifications: in.EmailNotifications,
		UpdatedAt:          s.now(),
	}
	if err := s.settingsRepo.Upsert(ctx, settings); err != nil {
		return nil, fmt.Errorf("設定の保存に失敗しました: %w", err)
	}
	return settings, nil
}

// PaymentMethods はユーザーの支払い方法を新しい順に返す。
func (s *Service) PaymentMethods(ctx context.Context, userID string) ([]*model.PaymentMethod, error) {
	methods, err := s.paymentRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("支払い方法の取得に失敗しました: %w", err)
	}
	if methods == nil {
		methods = []*model.PaymentMethod{}
	}
	return methods, nil
}

// AddPaymentMethod は表示用のカード情報を追加する。
// 最初に追加した支払い方法がデフォルトになる。
func (s *Service) AddPaymentMethod(ctx context.Context, userID string, in PaymentMethodInput) (*model.PaymentMethod, error) {
	if err := s.validatePaymentMethod(&in); err != nil {
		return nil, err
	}

	pm := &model.PaymentMethod{
		ID:        uuid.New().String(),
		UserID:    userID,
		Brand:     in.Brand,
		Last4:     in.Last4,
		ExpMonth:  in.ExpMonth,
		ExpYear:   in.ExpYear,
		IsDefault: in.MakeDefault,
		CreatedAt: s.now(),
	}
	if err := s.paymentRepo.Create(ctx, pm); err != nil {
		return nil, fmt.Errorf("支払い方法の追加に失敗しました: %w", err)
	}

	s.logger.Info("payment method added",
		slog.String("user_id", userID),
		slog.String("payment_method_id", pm.ID),
		slog.Bool("is_default", pm.IsDefault),
	)
	return pm, nil
}

// DeletePaymentMethod は支払い方法を削除する。
// デフォルトを削除した場合は残りのうち最も新しいものがデフォルトになる。
func (s *Service) DeletePaymentMethod(ctx context.Context, userID, id string) error {
	err := s.paymentRepo.Delete(ctx, userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewPaymentMethodNotFoundError(id)
	}
	if err != nil {
		return fmt.Errorf("支払い方法の削除に失敗しました: %w", err)
	}
	return nil
}

// SetDefaultPaymentMethod は指定の支払い方法をデフォルトにする。
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, userID, id string) error {
	err := s.paymentRepo.SetDefault(ctx, userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewPaymentMethodNotFoundError(id)
	}
	if err != nil {
		return fmt.Errorf("デフォルトの支払い方法の変更に失敗しました: %w", err)
	}
	return nil
}

// validatePaymentMethod は入力を正規化し、表示用カード情報として妥当か検証する。
// 有効期限は当月末まで有効とみなす。
func (s *Service) validatePaymentMethod(in *PaymentMethodInput) error {
	in.Brand = strings.ToLower(strings.TrimSpace(in.Brand))
	if !knownBrands[in.Brand] {
		return model.NewInvalidPaymentMethodError("カードブランドが不正です")
	}
	in.Last4 = strings.TrimSpace(in.Last4)
	if !last4Pattern.MatchString(in.Last4) {
		return model.NewInvalidPaymentMethodError("カード番号の下4桁は数字4桁で入力してください")
	}
	if in.ExpMonth < 1 || in.ExpMonth > 12 {
		return model.NewInvalidPaymentMethodError("有効期限の月は1から12で入力してください")
	}

	now := s.now()
	if in.ExpYear < now.Year() || (in.ExpYear == now.Year() && in.ExpMonth < int(now.Month())) {
		return model.NewInvalidPaymentMethodError("有効期限が切れています")
	}
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: identities, user_settings, payment_methods）
// 外部APIのプール所属はこのサーバーの管理外のため残る。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	s.logger.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 2. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	s.logger.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
