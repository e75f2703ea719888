package repository

import (
	"time"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// eventSelect はイベント取得時のカラム指定。主催者の公開プロフィールを埋め込む。
const eventSelect = `*,
	organizer:profiles!organizer_id (
		id,
		full_name,
		avatar_url
	)`

// volunteerSelect は参加者一覧取得時のカラム指定。
const volunteerSelect = `volunteer_id,
	volunteer:profiles!volunteer_id (
		id,
		full_name,
		avatar_url
	)`

// profileRow はprofilesテーブルの行。
type profileRow struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Bio          *string   `json:"bio"`
	AvatarURL    *string   `json:"avatar_url"`
	EventsJoined int       `json:"events_joined"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *profileRow) toModel() *model.Profile {
	return &model.Profile{
		ID:           r.ID,
		FullName:     r.FullName,
		Bio:          r.Bio,
		AvatarURL:    r.AvatarURL,
		EventsJoined: r.EventsJoined,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// profileWrite はprofilesテーブルへの書き込み内容。
// EventsJoinedがnilの場合は送信せず、既存行の値を維持する。
type profileWrite struct {
	ID           string  `json:"id"`
	FullName     string  `json:"full_name"`
	Bio          *string `json:"bio,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
	EventsJoined *int    `json:"events_joined,omitempty"`
}

// profilePatch はprofilesテーブルの部分更新内容。
type profilePatch struct {
	FullName  *string   `json:"full_name,omitempty"`
	Bio       *string   `json:"bio,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// organizerRow は埋め込まれた主催者プロフィール。
type organizerRow struct {
	ID        string  `json:"id"`
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

// eventRow はeventsテーブルの行。
type eventRow struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Date             string        `json:"date"`
	Time             string        `json:"time"`
	Location         string        `json:"location"`
	Category         string        `json:"category"`
	VolunteersNeeded int           `json:"volunteers_needed"`
	VolunteersJoined int           `json:"volunteers_joined"`
	ImageURL         string        `json:"image_url"`
	OrganizerID      string        `json:"organizer_id"`
	CreatedAt        time.Time     `json:"created_at"`
	Organizer        *organizerRow `json:"organizer"`
}

func (r *eventRow) toModel() model.Event {
	e := model.Event{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Date:             r.Date,
		Time:             r.Time,
		Location:         r.Location,
		Category:         r.Category,
		VolunteersNeeded: r.VolunteersNeeded,
		VolunteersJoined: r.VolunteersJoined,
		ImageURL:         r.ImageURL,
		OrganizerID:      r.OrganizerID,
		CreatedAt:        r.CreatedAt,
	}
	if r.Organizer != nil {
		e.Organizer = &model.Organizer{
			ID:        r.Organizer.ID,
			FullName:  r.Organizer.FullName,
			AvatarURL: r.Organizer.AvatarURL,
		}
	}
	return e
}

// eventInsert はeventsテーブルへの挿入内容。volunteers_joinedはサーバー側で0になる。
type eventInsert struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Location         string `json:"location"`
	Category         string `json:"category"`
	VolunteersNeeded int    `json:"volunteers_needed"`
	ImageURL         string `json:"image_url"`
	OrganizerID      string `json:"organizer_id"`
}

// volunteerRow はevent_volunteersテーブルの行と参加者プロフィール。
type volunteerRow struct {
	VolunteerID string        `json:"volunteer_id"`
	Volunteer   *organizerRow `json:"volunteer"`
}

// joinRow は参加操作が返す参加記録。
type joinRow struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	VolunteerID string    `json:"volunteer_id"`
	CreatedAt   time.Time `json:"created_at"`
}
