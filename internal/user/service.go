// Package user はプロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/volunteerhub/internal/media"
	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/repository"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

// AvatarUploader はアバター画像のアップロードインターフェース。
type AvatarUploader interface {
	// UploadImage はsourceの画像を正規化してpathに保存し、公開URLを返す。
	UploadImage(ctx context.Context, source, path string) (string, error)
	// UploadReader はrの画像を正規化してpathに保存し、公開URLを返す。
	UploadReader(ctx context.Context, r io.Reader, path string) (string, error)
	// Remove はpathのオブジェクトを削除する。
	Remove(ctx context.Context, path string) error
	// PathOf はアバターバケットの公開URLからパスを取り出す。バケット外のURLはfalse。
	PathOf(publicURL string) (string, bool)
}

// IdentityUpdater は認証バックエンド側のユーザーメタデータを更新するインターフェース。
// supabase.Clientが実装し、更新後にUSER_UPDATEDを通知する。
type IdentityUpdater interface {
	UpdateUser(ctx context.Context, metadata map[string]any) (*model.User, error)
}

// Service はプロフィール管理のサービス層。
// プロフィールの取得・作成・更新とアバター画像の差し替えを提供する。
type Service struct {
	repo    repository.ProfileRepository
	avatars  AvatarUploader
	identity IdentityUpdater
	logger   *slog.Logger
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// avatarsがnilの場合、UploadAvatarは利用できない。
func NewService(repo repository.ProfileRepository, avatars AvatarUploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		avatars: avatars,
		logger:  logger,
		now:     time.Now,
	}
}

// SetIdentity は氏名変更をユーザーメタデータへ反映する更新先を設定する。
func (s *Service) SetIdentity(identity IdentityUpdater) {
	s.identity = identity
}

// GetProfile はプロフィールを取得する。存在しない場合はnil, nilを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to get profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, classify(err, "Failed to load profile")
	}
	return profile, nil
}

// CreateProfile はプロフィールを作成する。
// 氏名は必須、自己紹介とアバターは任意。アバター未指定の場合はユーザーメタデータのavatar_urlを使用する。
// 同じIDの行が既に存在する場合は氏名・自己紹介・アバターのみ上書きする。
func (s *Service) CreateProfile(ctx context.Context, user model.User, input model.ProfileInput) (*model.Profile, error) {
	// 1. 入力検証
	if input.FullName == nil || strings.TrimSpace(*input.FullName) == "" {
		return nil, model.NewMissingFieldsError("full_name")
	}

	profile := &model.Profile{
		ID:       user.ID,
		FullName: strings.TrimSpace(*input.FullName),
		Bio:      nonEmpty(input.Bio),
	}

	// 2. アバターの決定
	if avatar := nonEmpty(input.AvatarURL); avatar != nil {
		profile.AvatarURL = avatar
	} else if url := user.AvatarURL(); url != "" {
		profile.AvatarURL = &url
	}

	// 3. 保存。行が既に存在する場合（作成途中での再試行など）は上書きする
	created, err := s.repo.Create(ctx, profile)
	if isDuplicate(err) {
		s.logger.Info("profile already exists, overwriting", slog.String("user_id", user.ID))
		created, err = s.repo.Upsert(ctx, profile)
	}
	if err != nil {
		s.logger.Error("failed to create profile",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, classify(err, "Failed to create profile")
	}

	s.logger.Info("profile created", slog.String("user_id", user.ID))
	return created, nil
}

// UpdateProfile はプロフィールを部分更新する。nilのフィールドは変更しない。
// 氏名を指定する場合は空文字列にできない。
func (s *Service) UpdateProfile(ctx context.Context, userID string, input model.ProfileInput) (*model.Profile, error) {
	if input.FullName != nil {
		name := strings.TrimSpace(*input.FullName)
		if name == "" {
			return nil, model.NewMissingFieldsError("full_name")
		}
		input.FullName = &name
	}
	if input.FullName == nil && input.Bio == nil && input.AvatarURL == nil {
		return nil, model.NewInvalidFieldError("profile", "nothing to update")
	}

	updated, err := s.repo.Update(ctx, userID, input)
	if err != nil {
		s.logger.Error("failed to update profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, classify(err, "Failed to save profile")
	}
	if updated == nil {
		return nil, model.NewProfileNotFoundError(nil)
	}

	// 氏名はユーザーメタデータにも持つ。プロフィールが正なので失敗はログのみ
	if input.FullName != nil && s.identity != nil {
		if _, err := s.identity.UpdateUser(ctx, map[string]any{"full_name": *input.FullName}); err != nil {
			s.logger.Warn("failed to sync full name to user metadata",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return updated, nil
}

// UploadAvatar はアバター画像をアップロードし、公開URLをプロフィールに保存する。
// 保存先は avatars バケットの {userID}/{unixMillis}.jpg。
func (s *Service) UploadAvatar(ctx context.Context, userID, source string) (*model.Profile, error) {
	if strings.TrimSpace(source) == "" {
		return nil, model.NewMissingFieldsError("source")
	}
	return s.replaceAvatar(ctx, userID, func(path string) (string, error) {
		return s.avatars.UploadImage(ctx, source, path)
	})
}

// UploadAvatarData はrから読み込んだアバター画像をアップロードし、公開URLをプロフィールに保存する。
func (s *Service) UploadAvatarData(ctx context.Context, userID string, r io.Reader) (*model.Profile, error) {
	return s.replaceAvatar(ctx, userID, func(path string) (string, error) {
		return s.avatars.UploadReader(ctx, r, path)
	})
}

func (s *Service) replaceAvatar(ctx context.Context, userID string, upload func(path string) (string, error)) (*model.Profile, error) {
	if s.avatars == nil {
		return nil, model.NewUnknownError("Avatar upload is not configured", nil)
	}

	// 1. 差し替え前のアバター（取得できなければ後片付けをしない）
	var previous string
	if current, err := s.repo.FindByID(ctx, userID); err != nil {
		s.logger.Warn("failed to look up current avatar",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	} else if current != nil && current.AvatarURL != nil {
		previous = *current.AvatarURL
	}

	// 2. 画像のアップロード
	path := media.AvatarPath(userID, s.now())
	url, err := upload(path)
	if err != nil {
		s.logger.Error("failed to upload avatar",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, classify(err, "Failed to update profile picture. Please try again.")
	}

	// 3. プロフィールへの反映。失敗したらアップロードした画像を消す
	updated, err := s.UpdateProfile(ctx, userID, model.ProfileInput{AvatarURL: &url})
	if err != nil {
		s.removeAvatar(ctx, userID, path)
		return nil, err
	}

	// 4. 自分のバケットにあった古い画像を消す
	if oldPath, ok := s.avatars.PathOf(previous); ok && oldPath != path {
		s.removeAvatar(ctx, userID, oldPath)
	}
	return updated, nil
}

// removeAvatar はアバター画像を削除する。失敗はログのみ。
func (s *Service) removeAvatar(ctx context.Context, userID, path string) {
	if err := s.avatars.Remove(ctx, path); err != nil {
		s.logger.Warn("failed to remove avatar",
			slog.String("user_id", userID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// isDuplicate は一意制約違反（同じIDのプロフィールが存在する）かどうかを返す。
func isDuplicate(err error) bool {
	var apiErr *supabase.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "23505" || apiErr.Status == http.StatusConflict
}

// classify はリポジトリ・ストレージのエラーをAppErrorに変換する。
func classify(err error, message string) error {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if supabase.IsUnavailable(err) {
		return model.NewTransportError("Unable to reach the server. Please check your connection.", err)
	}
	return model.NewUnknownError(message, fmt.Errorf("profile: %w", err))
}
