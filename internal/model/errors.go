// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// 呼び出し元はKindでエラーを判別し、ユーザー向けメッセージを出し分ける。
type ErrorKind string

const (
	// KindValidation は必須項目の欠落や不正な入力。ネットワーク呼び出し前に検出される。
	KindValidation ErrorKind = "validation"
	// KindAuth は認証情報の誤りや重複登録。
	KindAuth ErrorKind = "auth"
	// KindNotFound はイベントまたはプロフィールが存在しない。
	KindNotFound ErrorKind = "not_found"
	// KindCapacity はイベントの定員超過。
	KindCapacity ErrorKind = "capacity"
	// KindConflict は参加済みイベントへの再参加。
	KindConflict ErrorKind = "conflict"
	// KindTransport はバックエンドへの到達不能、または不正なレスポンス。
	KindTransport ErrorKind = "transport"
	// KindUnknown は上記に分類できないエラー。
	KindUnknown ErrorKind = "unknown"
)

// AppError はアプリケーション共通のエラー型。
// UIに表示するメッセージと対処方法、原因となったエラーを保持する。
type AppError struct {
	Kind     ErrorKind
	Code     string // エラーコード
	Message  string // ユーザー向けメッセージ
	Category string // カテゴリ: auth, validation, event, profile, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *AppError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeMissingFields          = "MISSING_FIELDS"
	ErrCodeInvalidField           = "INVALID_FIELD"
	ErrCodeInvalidEmail           = "INVALID_EMAIL"
	ErrCodePasswordMismatch       = "PASSWORD_MISMATCH"
	ErrCodeWeakPassword           = "WEAK_PASSWORD"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeNotAuthenticated       = "NOT_AUTHENTICATED"
	ErrCodeEventNotFound          = "EVENT_NOT_FOUND"
	ErrCodeProfileNotFound        = "PROFILE_NOT_FOUND"
	ErrCodeEventFull              = "EVENT_FULL"
	ErrCodeAlreadyJoined          = "ALREADY_JOINED"
	ErrCodeBackendUnreachable     = "BACKEND_UNREACHABLE"
	ErrCodeUnknown                = "UNKNOWN"
)

// KindOf はエラーの分類を返す。AppError以外はKindUnknownとして扱う。
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// CodeOf はエラーコードを返す。AppError以外はErrCodeUnknownを返す。
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// NewMissingFieldsError は必須項目未入力エラーを生成する。
func NewMissingFieldsError(fields ...string) *AppError {
	msg := "Please fill in all fields"
	if len(fields) > 0 {
		msg = fmt.Sprintf("Please fill in all fields (missing: %v)", fields)
	}
	return &AppError{
		Kind:     KindValidation,
		Code:     ErrCodeMissingFields,
		Message:  msg,
		Category: "validation",
		Action:   "Fill in every required field and try again.",
	}
}

// NewInvalidFieldError は入力値不正エラーを生成する。
func NewInvalidFieldError(field, reason string) *AppError {
	return &AppError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidField,
		Message:  fmt.Sprintf("Invalid %s: %s", field, reason),
		Category: "validation",
		Action:   "Correct the highlighted field and try again.",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *AppError {
	return &AppError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidEmail,
		Message:  "Please enter a valid email address",
		Category: "validation",
		Action:   "Check the email address for typos.",
	}
}

// NewPasswordMismatchError はパスワード確認不一致エラーを生成する。
func NewPasswordMismatchError() *AppError {
	return &AppError{
		Kind:     KindValidation,
		Code:     ErrCodePasswordMismatch,
		Message:  "Passwords do not match",
		Category: "validation",
		Action:   "Enter the same password in both fields.",
	}
}

// NewWeakPasswordError はパスワード要件未達エラーを生成する。
func NewWeakPasswordError() *AppError {
	return &AppError{
		Kind:     KindValidation,
		Code:     ErrCodeWeakPassword,
		Message:  "Password does not meet all requirements",
		Category: "validation",
		Action:   "Use at least 8 characters with an uppercase letter, a number and one of !@#$%^&*.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError(cause error) *AppError {
	return &AppError{
		Kind:     KindAuth,
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password",
		Category: "auth",
		Action:   "Check your email and password and try again.",
		Err:      cause,
	}
}

// NewEmailAlreadyRegisteredError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailAlreadyRegisteredError(cause error) *AppError {
	return &AppError{
		Kind:     KindAuth,
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "This email is already registered. Please sign in instead.",
		Category: "auth",
		Action:   "Sign in with this email instead.",
		Err:      cause,
	}
}

// NewAuthError はその他の認証エラーを生成する。
func NewAuthError(message string, cause error) *AppError {
	return &AppError{
		Kind:     KindAuth,
		Code:     "AUTH_FAILED",
		Message:  message,
		Category: "auth",
		Action:   "Please try signing in again.",
		Err:      cause,
	}
}

// NewNotAuthenticatedError は未ログイン状態での操作エラーを生成する。
func NewNotAuthenticatedError() *AppError {
	return &AppError{
		Kind:     KindAuth,
		Code:     ErrCodeNotAuthenticated,
		Message:  "Please sign in to continue",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(cause error) *AppError {
	return &AppError{
		Kind:     KindNotFound,
		Code:     ErrCodeEventNotFound,
		Message:  "The event could not be found",
		Category: "event",
		Action:   "Refresh the event list and try again.",
		Err:      cause,
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(cause error) *AppError {
	return &AppError{
		Kind:     KindNotFound,
		Code:     ErrCodeProfileNotFound,
		Message:  "Your profile could not be found",
		Category: "profile",
		Action:   "Complete your profile before joining events.",
		Err:      cause,
	}
}

// NewEventFullError は定員超過エラーを生成する。
func NewEventFullError(cause error) *AppError {
	return &AppError{
		Kind:     KindCapacity,
		Code:     ErrCodeEventFull,
		Message:  "This event is already full",
		Category: "event",
		Action:   "Look for another event that still needs volunteers.",
		Err:      cause,
	}
}

// NewAlreadyJoinedError は参加済みエラーを生成する。
func NewAlreadyJoinedError(cause error) *AppError {
	return &AppError{
		Kind:     KindConflict,
		Code:     ErrCodeAlreadyJoined,
		Message:  "You have already joined this event",
		Category: "event",
		Action:   "No action needed. You are on the volunteer list.",
		Err:      cause,
	}
}

// NewTransportError はバックエンド到達不能エラーを生成する。
func NewTransportError(message string, cause error) *AppError {
	return &AppError{
		Kind:     KindTransport,
		Code:     ErrCodeBackendUnreachable,
		Message:  message,
		Category: "system",
		Action:   "Check your connection and try again.",
		Err:      cause,
	}
}

// NewUnknownError は分類不能エラーを生成する。
func NewUnknownError(message string, cause error) *AppError {
	return &AppError{
		Kind:     KindUnknown,
		Code:     ErrCodeUnknown,
		Message:  message,
		Category: "system",
		Action:   "Please try again later.",
		Err:      cause,
	}
}
