package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/session"
)

// SessionServiceInterface は認証ハンドラーが必要とするセッション管理のインターフェース。
// session.Managerが実装する。
type SessionServiceInterface interface {
	Current() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	SignUp(ctx context.Context, in session.SignUpInput) (session.SignUpResult, error)
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email string) error
	CompleteProfile(ctx context.Context, input model.ProfileInput) (*model.Profile, error)
	RefreshProfile(ctx context.Context) error
}

var _ SessionServiceInterface = (*session.Manager)(nil)

// AuthHandler はサインアップ・サインイン・サインアウトとセッション状態のHTTPハンドラー。
type AuthHandler struct {
	sessions SessionServiceInterface
	responder
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionServiceInterface, reporter ErrorReporter, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:  sessions,
		responder: newResponder(reporter, logger),
	}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// signUpResponse はサインアップのAPIレスポンス。
type signUpResponse struct {
	UserID               string        `json:"user_id"`
	ConfirmationRequired bool          `json:"confirmation_required"`
	Session              stateResponse `json:"session"`
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// recoverRequest はパスワード再設定リクエストのボディ。
type recoverRequest struct {
	Email string `json:"email"`
}

// SignUp はアカウントとプロフィールを作成する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.sessions.SignUp(backendContext(r), session.SignUpInput{
		FullName:        req.FullName,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, signUpResponse{
		UserID:               result.User.ID,
		ConfirmationRequired: result.ConfirmationRequired,
		Session:              toStateResponse(h.sessions.Current()),
	})
}

// SignIn はメールアドレスとパスワードでサインインし、遷移後のセッション状態を返す。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.sessions.SignIn(backendContext(r), req.Email, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toStateResponse(h.sessions.Current()))
}

// SignOut はサインアウトする。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(backendContext(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recover はパスワード再設定メールの送信を依頼する。
// POST /auth/recover
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.sessions.RequestPasswordReset(backendContext(r), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// State は現在のセッション状態を返す。読み込み中もそのまま返す。
// GET /auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(h.sessions.Current()))
}
