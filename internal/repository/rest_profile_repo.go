package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

const profilesTable = "profiles"

// RestProfileRepo はバックエンドのデータAPIを使用したプロフィールリポジトリ。
type RestProfileRepo struct {
	client *supabase.Client
	now    func() time.Time
}

// NewRestProfileRepo はRestProfileRepoを生成する。
func NewRestProfileRepo(client *supabase.Client) *RestProfileRepo {
	return &RestProfileRepo{client: client, now: time.Now}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *RestProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var row profileRow
	err := r.client.From(profilesTable).
		Select("*").
		Eq("id", id).
		MaybeSingle().
		Execute(ctx, &row)
	if errors.Is(err, supabase.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return row.toModel(), nil
}

// Create はプロフィールを作成する。
func (r *RestProfileRepo) Create(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	zero := 0
	var row profileRow
	err := r.client.From(profilesTable).
		Insert(profileWrite{
			ID:           profile.ID,
			FullName:     profile.FullName,
			Bio:          profile.Bio,
			AvatarURL:    profile.AvatarURL,
			EventsJoined: &zero,
		}).
		Select("*").
		Single().
		Execute(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return row.toModel(), nil
}

// Upsert はプロフィールを作成または上書きする。events_joinedは送信しない。
func (r *RestProfileRepo) Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	var row profileRow
	err := r.client.From(profilesTable).
		Upsert(profileWrite{
			ID:        profile.ID,
			FullName:  profile.FullName,
			Bio:       profile.Bio,
			AvatarURL: profile.AvatarURL,
		}).
		Select("*").
		Single().
		Execute(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return row.toModel(), nil
}

// Update はプロフィールを部分更新する。該当行が存在しない場合はnilを返す。
func (r *RestProfileRepo) Update(ctx context.Context, id string, input model.ProfileInput) (*model.Profile, error) {
	var row profileRow
	err := r.client.From(profilesTable).
		Update(profilePatch{
			FullName:  input.FullName,
			Bio:       input.Bio,
			AvatarURL: input.AvatarURL,
			UpdatedAt: r.now().UTC(),
		}).
		Eq("id", id).
		Select("*").
		MaybeSingle().
		Execute(ctx, &row)
	if errors.Is(err, supabase.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return row.toModel(), nil
}

// compile-time interface check
var _ ProfileRepository = (*RestProfileRepo)(nil)
