// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, pool, network, system
	Action   string // ユーザー向け対処方法
	Status   int    // 外部APIが返したHTTPステータス（不明な場合は0）
	Err      error  // 原因となったエラー（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 外部プールAPIに関するエラーコード
const (
	ErrCodeNetwork    = "NETWORK_ERROR"
	ErrCodeAuth       = "AUTH_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodePoolFull   = "POOL_FULL"
	ErrCodeNotFound   = "NOT_FOUND"
)

// サイト内部のエラーコード
const (
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodePaymentMethodNotFound   = "PAYMENT_METHOD_NOT_FOUND"
	ErrCodeInvalidSettings         = "INVALID_SETTINGS"
	ErrCodeInvalidPaymentMethod    = "INVALID_PAYMENT_METHOD"
	ErrCodeInvalidCalculatorParams = "INVALID_CALCULATOR_PARAMS"
)

// IsCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// ErrCodeOf はerrのチェーンにあるAPIErrorのコードを返す。APIErrorでない場合は空文字。
func ErrCodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewNetworkError は通信失敗または分類不能な非2xx応答のエラーを生成する。
func NewNetworkError(status int, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  "プールサービスとの通信に失敗しました。",
		Category: "network",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   status,
		Err:      cause,
	}
}

// NewAuthError はアクセストークンが取得できない、または拒否された場合のエラーを生成する。
func NewAuthError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAuth,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "ログインし直してください。",
		Status:   401,
		Err:      cause,
	}
}

// NewValidationError は送信内容または受信内容が不正な場合のエラーを生成する。
func NewValidationError(reason string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Err:      cause,
	}
}

// NewPoolFullError はプールの空き枠がない場合のエラーを生成する。
func NewPoolFullError(poolID string) *APIError {
	return &APIError{
		Code:     ErrCodePoolFull,
		Message:  fmt.Sprintf("このプールは満員です: %s", poolID),
		Category: "pool",
		Action:   "別のプールを選ぶか、新しいプールを作成してください。",
		Status:   409,
	}
}

// NewNotFoundError はプール、メンバーシップ、サービスが見つからない場合のエラーを生成する。
func NewNotFoundError(kind, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %s", kind, id),
		Category: "pool",
		Action:   "一覧を再読み込みしてください。",
		Status:   404,
	}
}

// NewUnauthorizedError はセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewPaymentMethodNotFoundError は支払い方法が見つからない場合のエラーを生成する。
func NewPaymentMethodNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentMethodNotFound,
		Message:  fmt.Sprintf("指定された支払い方法が見つかりません: %s", id),
		Category: "validation",
		Action:   "支払い方法の一覧を確認してください。",
	}
}

// NewInvalidSettingsError は設定値が不正な場合のエラーを生成する。
func NewInvalidSettingsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSettings,
		Message:  fmt.Sprintf("無効な設定です: %s", reason),
		Category: "validation",
		Action:   "通貨はISO 4217コード、請求サイクルは monthly または yearly を指定してください。",
	}
}

// NewInvalidPaymentMethodError は支払い方法の入力が不正な場合のエラーを生成する。
func NewInvalidPaymentMethodError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPaymentMethod,
		Message:  fmt.Sprintf("無効な支払い方法です: %s", reason),
		Category: "validation",
		Action:   "カード下4桁と有効期限を確認してください。",
	}
}

// NewInvalidCalculatorParamsError は料金計算パラメータが不正な場合のエラーを生成する。
func NewInvalidCalculatorParamsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCalculatorParams,
		Message:  fmt.Sprintf("無効な計算パラメータです: %s", reason),
		Category: "validation",
		Action:   "人数はサービスの上限以内で指定してください。",
	}
}
