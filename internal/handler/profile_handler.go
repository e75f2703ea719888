package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/volunteerhub/internal/media"
	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/user"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, input model.ProfileInput) (*model.Profile, error)
	UploadAvatar(ctx context.Context, userID, source string) (*model.Profile, error)
	UploadAvatarData(ctx context.Context, userID string, r io.Reader) (*model.Profile, error)
}

var _ ProfileServiceInterface = (*user.Service)(nil)

// ProfileHandler はプロフィール管理のHTTPハンドラー。
type ProfileHandler struct {
	profiles     ProfileServiceInterface
	sessions     SessionServiceInterface
	maxImageSize int64
	responder
}

// NewProfileHandler はProfileHandlerを生成する。maxImageSizeが0以下の場合は既定値を使う。
func NewProfileHandler(profiles ProfileServiceInterface, sessions SessionServiceInterface, maxImageSize int64, reporter ErrorReporter, logger *slog.Logger) *ProfileHandler {
	if maxImageSize <= 0 {
		maxImageSize = media.DefaultMaxImageSize
	}
	return &ProfileHandler{
		profiles:     profiles,
		sessions:     sessions,
		maxImageSize: maxImageSize,
		responder:    newResponder(reporter, logger),
	}
}

// profileRequest はプロフィール作成・更新リクエストのボディ。
// 更新では省略したフィールドを変更しない。
type profileRequest struct {
	FullName  *string `json:"full_name"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatar_url"`
}

func (req profileRequest) input() model.ProfileInput {
	return model.ProfileInput{
		FullName:  req.FullName,
		Bio:       req.Bio,
		AvatarURL: req.AvatarURL,
	}
}

// CreateProfile はログイン中のユーザーのプロフィールを作成する。
// POST /api/profile
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	profile, err := h.sessions.CompleteProfile(backendContext(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// GetProfile はログイン中のユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	profile, err := h.profiles.GetProfile(backendContext(r), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if profile == nil {
		h.fail(w, r, model.NewProfileNotFoundError(nil))
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// UpdateProfile はプロフィールを部分更新する。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	profile, err := h.profiles.UpdateProfile(backendContext(r), userID, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.refreshSession(r, userID)
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// UploadAvatar はアバター画像を差し替える。
// POST /api/profile/avatar （multipart の image フィールド、またはJSONの source）
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	in, err := readImageInput(w, r, h.maxImageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer in.Close()

	var profile *model.Profile
	if in.file != nil {
		profile, err = h.profiles.UploadAvatarData(backendContext(r), userID, in.file)
	} else {
		profile, err = h.profiles.UploadAvatar(backendContext(r), userID, in.source)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.refreshSession(r, userID)
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// refreshSession はセッションが保持するプロフィールを再取得する。
// 失敗しても操作自体は成功しているため、ログに記録するのみ。
func (h *ProfileHandler) refreshSession(r *http.Request, userID string) {
	if err := h.sessions.RefreshProfile(backendContext(r)); err != nil {
		h.logger.Warn("failed to refresh session profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
