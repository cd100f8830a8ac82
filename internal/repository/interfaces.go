// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/subshare/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しない場合のエラー。
var ErrNotFound = errors.New("record not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザー、identity、デフォルト設定を同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateName は表示名を更新し、更新後のユーザーを返す。
	// 見つからない場合はErrNotFoundを返す。
	UpdateName(ctx context.Context, id, name string) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、user_settings、payment_methodsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// ListByUserID はユーザーに紐付くidentityを作成順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// SettingsRepository はユーザー設定の永続化インターフェース。
type SettingsRepository interface {
	// FindByUserID はユーザー設定を取得する。未作成の場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.UserSettings, error)
	// Upsert はユーザー設定を作成または上書きする。
	Upsert(ctx context.Context, settings *model.UserSettings) error
}

// PaymentMethodRepository は表示用カード情報の永続化インターフェース。
type PaymentMethodRepository interface {
	// ListByUserID はユーザーの支払い方法を作成日時の新しい順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.PaymentMethod, error)
	// FindByID は指定ユーザーの支払い方法を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.PaymentMethod, error)
	// Create は支払い方法を追加する。ユーザーの最初の支払い方法はデフォルトになる。
	Create(ctx context.Context, pm *model.PaymentMethod) error
	// Delete は支払い方法を削除する。デフォルトを削除した場合は
	// 残りのうち最も新しいものをデフォルトに昇格する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, userID, id string) error
	// SetDefault は指定の支払い方法をデフォルトにし、他のデフォルトを解除する。
	// 見つからない場合はErrNotFoundを返す。
	SetDefault(ctx context.Context, userID, id string) error
}
