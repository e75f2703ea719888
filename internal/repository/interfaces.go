// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Create はプロフィールを作成する。events_joinedは0で作成される。
	Create(ctx context.Context, profile *model.Profile) (*model.Profile, error)

	// Upsert はプロフィールを作成する。同じIDの行が存在する場合は名前・自己紹介・アバターのみ上書きする。
	// events_joinedは変更しない。
	Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error)

	// Update はプロフィールを部分更新する。nilのフィールドは変更しない。
	// 該当行が存在しない場合はnilを返す。
	Update(ctx context.Context, id string, input model.ProfileInput) (*model.Profile, error)
}

// EventRepository はイベントデータの永続化インターフェース。
// イベントの更新・削除は提供しない。
type EventRepository interface {
	// List は全イベントを作成日時の降順で主催者情報付きで返す。
	List(ctx context.Context) ([]model.Event, error)

	// Create はイベントを作成し、主催者情報付きで返す。
	Create(ctx context.Context, event model.NewEvent) (*model.Event, error)

	// ListVolunteers はイベントの参加者を公開プロフィール付きで返す。
	// アバター未設定の行はAvatarURLが空文字列になる。
	ListVolunteers(ctx context.Context, eventID string) ([]model.Volunteer, error)
}

// EnrollmentRepository はイベント参加操作のインターフェース。
type EnrollmentRepository interface {
	// Join はバックエンドの参加操作を1回だけ呼び出す。
	// 定員確認、参加記録の作成、カウンタ更新はバックエンド側で原子的に行われる。
	// バックエンドが何も返さなかった場合はnil, nilを返す。
	Join(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, error)
}

// SessionStore はローカルに永続化するセッションの保存先。
type SessionStore = supabase.TokenStore
