package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/subshare/internal/model"
)

// PostgresSettingsRepo はPostgreSQLを使用したユーザー設定リポジトリ。
type PostgresSettingsRepo struct {
	db *sql.DB
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{db: db}
}

// FindByUserID はユーザー設定を取得する。未作成の場合はnilを返す。
func (r *PostgresSettingsRepo) FindByUserID(ctx context.Context, userID string) (*model.UserSettings, error) {
	s := &model.UserSettings{}
	var billing string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, currency, locale, default_billing, email_notifications, updated_at
		 FROM user_settings
		 WHERE user_id = $1`,
		userID,
	).Scan(&s.UserID, &s.Currency, &s.Locale, &billing, &s.EmailNotifications, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user settings: %w", err)
	}
	s.DefaultBilling = model.BillingFrequency(billing)
	return s, nil
}

// Upsert はユーザー設定を作成または上書きする。
// updated_atはDB側で現在時刻に設定し、settingsにも反映する。
func (r *PostgresSettingsRepo) Upsert(ctx context.Context, settings *model.UserSettings) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO user_settings (user_id, currency, locale, default_billing, email_notifications, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		     currency = EXCLUDED.currency,
		     locale = EXCLUDED.locale,
		     default_billing = EXCLUDED.default_billing,
		     email_notifications = EXCLUDED.email_notifications,
		     updated_at = EXCLUDED.updated_at
		 RETURNING updated_at`,
		settings.UserID, settings.Currency, settings.Locale, string(settings.DefaultBilling), settings.EmailNotifications,
	).Scan(&settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user settings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
