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
	Category string // カテゴリ: auth, validation, tenant, oauth, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（ログ用、レスポンスには含めない）
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

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeAuthentication    = "AUTHENTICATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeContentTooLong    = "CONTENT_TOO_LONG"
	ErrCodeAccountMissing    = "ACCOUNT_MISSING"
	ErrCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	ErrCodeInvalidToken      = "INVALID_CONFIRMATION_TOKEN"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeInsufficientScope = "INSUFFICIENT_SCOPE"
)

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryAuth       = "auth"
	CategoryContent    = "content"
	CategorySystem     = "system"
)

// ErrNotFound は識別子に対応するレコードが存在しないことを表す。
// 境界では認証失敗と同じ汎用的な拒否として扱う。
var ErrNotFound = errors.New("not found")

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewAuthenticationError は認証失敗エラーを生成する。
// 識別子の存在有無を明かさないよう、メッセージは常に同一とする。
func NewAuthenticationError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAuthentication,
		Message:  "認証に失敗しました。",
		Category: CategoryAuth,
		Action:   "認証情報を確認して再度お試しください。",
		Err:      cause,
	}
}

// NewUnexpectedError は想定外の内部エラーを生成する。
func NewUnexpectedError(cause error) *APIError {
	return &APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewContentTooLongError は投稿本文の文字数超過エラーを生成する。
func NewContentTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeContentTooLong,
		Message:  fmt.Sprintf("投稿は%d文字以内で入力してください。", max),
		Category: CategoryContent,
		Action:   "本文を短くしてください。",
	}
}

// NewAccountMissingError はユーザーに紐づくアカウントが無い場合のエラーを生成する。
func NewAccountMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountMissing,
		Message:  "ユーザーに紐づくアカウントがありません。",
		Category: CategoryContent,
		Action:   "管理者に問い合わせてください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryValidation,
		Action:   "別のメールアドレスを使用してください。",
	}
}

// NewInvalidConfirmationTokenError は確認トークンが無効な場合のエラーを生成する。
func NewInvalidConfirmationTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "確認トークンが無効です。",
		Category: CategoryAuth,
		Action:   "確認メールのリンクを再度開いてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewInsufficientScopeError はアクセストークンのスコープ不足エラーを生成する。
func NewInsufficientScopeError(required string) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientScope,
		Message:  fmt.Sprintf("この操作には %s スコープが必要です。", required),
		Category: CategoryAuth,
		Action:   "必要なスコープでアプリケーションを再認可してください。",
	}
}
