package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/subshare/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, apiErr, false)
}

// WriteRetryableErrorResponse は再試行可能な操作の失敗をretryable付きで書き込む。
func WriteRetryableErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, apiErr, true)
}

func writeErrorBody(w http.ResponseWriter, statusCode int, apiErr *model.APIError, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		Retryable: retryable,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, internalError())
}

func internalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// StatusForError はエラーコードに対応するHTTPステータスを返す。
// APIErrorでないエラーは500とする。
func StatusForError(err error) int {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}

	switch apiErr.Code {
	case model.ErrCodeNotFound, model.ErrCodeUserNotFound, model.ErrCodePaymentMethodNotFound:
		return http.StatusNotFound
	case model.ErrCodePoolFull:
		return http.StatusConflict
	case model.ErrCodeAuth, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeValidation:
		// 外部APIの422はそのまま伝える
		if apiErr.Status == http.StatusUnprocessableEntity {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidSettings,
		model.ErrCodeInvalidPaymentMethod, model.ErrCodeInvalidCalculatorParams:
		return http.StatusBadRequest
	case model.ErrCodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はエラーをHTTPステータスに対応付けて統一フォーマットで書き込む。
// 500系は原因をログに記録し、レスポンスには一般的な内容のみ返す。
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	writeError(w, logger, err, false)
}

// WriteRetryableError はWriteErrorと同じ対応付けでretryable付きのレスポンスを書き込む。
func WriteRetryableError(w http.ResponseWriter, logger *slog.Logger, err error) {
	writeError(w, logger, err, true)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error, retryable bool) {
	if logger == nil {
		logger = slog.Default()
	}

	status := StatusForError(err)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeErrorBody(w, http.StatusInternalServerError, internalError(), retryable)
		return
	}

	if status >= http.StatusInternalServerError {
		logger.Error("upstream request failed",
			slog.String("code", apiErr.Code),
			slog.Int("upstream_status", apiErr.Status),
			slog.String("error", err.Error()),
		)
	}
	writeErrorBody(w, status, apiErr, retryable)
}
