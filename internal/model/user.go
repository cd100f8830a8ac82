// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// BillingFrequency は請求サイクルを表す。
type BillingFrequency string

const (
	// BillingMonthly は月払い。
	BillingMonthly BillingFrequency = "monthly"
	// BillingYearly は年払い。分割前に10%割引が適用される。
	BillingYearly BillingFrequency = "yearly"
)

// Valid は既知の請求サイクルかどうかを返す。
func (b BillingFrequency) Valid() bool {
	return b == BillingMonthly || b == BillingYearly
}

// UserSettings はダッシュボードのユーザー設定を表す。
type UserSettings struct {
	UserID             string
	Currency           string // ISO 4217
	Locale             string // BCP 47
	DefaultBilling     BillingFrequency
	EmailNotifications bool
	UpdatedAt          time.Time
}

// PaymentMethod は表示用のカード情報を表す。
// カード番号全体は保持しない。
type PaymentMethod struct {
	ID        string
	UserID    string
	Brand     string
	Last4     string
	ExpMonth  int
	ExpYear   int
	IsDefault bool
	CreatedAt time.Time
}
