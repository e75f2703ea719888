// Package model はドメインモデルを定義する。
package model

import "time"

// PlaceholderAvatarURL はアバター未設定時に表示するプレースホルダー画像のURL。
// データモデルの属性ではなく、表示境界で適用するデフォルト値。
const PlaceholderAvatarURL = "https://static.vecteezy.com/system/resources/previews/020/765/399/original/default-profile-account-unknown-icon-black-silhouette-free-vector.jpg"

// User はバックエンドが発行したアイデンティティを表す。
// IDはアカウントの存続期間中不変のUUID文字列。
type User struct {
	ID        string
	Email     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// FullName はユーザーメタデータのfull_nameを返す。未設定の場合は空文字列。
func (u *User) FullName() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	name, _ := u.Metadata["full_name"].(string)
	return name
}

// AvatarURL はユーザーメタデータのavatar_urlを返す。未設定の場合は空文字列。
func (u *User) AvatarURL() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	url, _ := u.Metadata["avatar_url"].(string)
	return url
}

// Session はバックエンドが発行した認証情報の束。
// 有効期限と更新はバックエンドクライアントが管理する。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         User
}

// Expired はnow時点でアクセストークンが期限切れかどうかを返す。
// 時刻ずれを考慮して10秒の余裕を持たせる。
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(10 * time.Second).Before(s.ExpiresAt)
}

// Profile はアプリケーション側のユーザー情報。Userと1対1で対応する。
// EventsJoinedは参加操作（サーバー側）でのみ更新される派生カウンタ。
type Profile struct {
	ID           string
	FullName     string
	Bio          *string
	AvatarURL    *string
	EventsJoined int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayAvatarURL はアバターURLを返す。未設定の場合はプレースホルダーを返す。
func (p *Profile) DisplayAvatarURL() string {
	if p == nil || p.AvatarURL == nil || *p.AvatarURL == "" {
		return PlaceholderAvatarURL
	}
	return *p.AvatarURL
}

// ProfileInput はプロフィール作成・更新時の入力。
// nilのフィールドは更新しない。
type ProfileInput struct {
	FullName  *string
	Bio       *string
	AvatarURL *string
}

// Clone はポインタフィールドを含めてプロフィールを複製する。
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Bio != nil {
		bio := *p.Bio
		cp.Bio = &bio
	}
	if p.AvatarURL != nil {
		avatar := *p.AvatarURL
		cp.AvatarURL = &avatar
	}
	return &cp
}

// Clone はメタデータマップを含めてユーザーを複製する。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Metadata != nil {
		cp.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Clone はユーザー情報を含めてセッションを複製する。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.User = *s.User.Clone()
	return &cp
}
