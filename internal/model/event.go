// Package model はドメインモデルを定義する。
package model

import "time"

// 日付・時刻の送信フォーマット。
const (
	EventDateLayout = "2006-01-02"
	EventTimeLayout = "03:04 PM"
)

// AllEventsCategory は絞り込みなしを表す疑似カテゴリ。
const AllEventsCategory = "All Events"

// Categories はイベント作成時に選択できるカテゴリ一覧。
var Categories = []string{
	"Environment",
	"Education",
	"Community",
	"Health",
	"Animals",
	"Other",
}

// defaultEventImages はカテゴリごとのデフォルトイベント画像。
var defaultEventImages = map[string]string{
	"Environment": "https://images.unsplash.com/photo-1469474968028-56623f02e42e?auto=format&fit=crop&q=80&w=800",
	"Education":   "https://images.unsplash.com/photo-1503676260728-1c00da094a0b?auto=format&fit=crop&q=80&w=800",
	"Community":   "https://images.unsplash.com/photo-1511795409834-432f31197ce3?auto=format&fit=crop&q=80&w=800",
	"Health":      "https://images.unsplash.com/photo-1576091160550-2173dba999ef?auto=format&fit=crop&q=80&w=800",
	"Animals":     "https://images.unsplash.com/photo-1415369629372-26f2fe60c467?auto=format&fit=crop&q=80&w=800",
	"Other":       "https://images.unsplash.com/photo-1469571486292-0ba58a3f068b?auto=format&fit=crop&q=80&w=800",
}

// DefaultImageFor はカテゴリのデフォルト画像URLを返す。
// 未知のカテゴリの場合はOtherの画像を返す。
func DefaultImageFor(category string) string {
	if url, ok := defaultEventImages[category]; ok {
		return url
	}
	return defaultEventImages["Other"]
}

// IsValidCategory はカテゴリが選択可能な値かどうかを返す。
func IsValidCategory(category string) bool {
	_, ok := defaultEventImages[category]
	return ok
}

// Organizer はイベント主催者の公開プロフィール。
type Organizer struct {
	ID        string
	FullName  string
	AvatarURL *string
}

// Event はボランティアイベントを表す。
// 0 <= VolunteersJoined <= VolunteersNeeded はバックエンドの参加操作が保証する。
type Event struct {
	ID               string
	Title            string
	Description      string
	Date             string // YYYY-MM-DD
	Time             string // hh:mm AM/PM
	Location         string
	Category         string
	VolunteersNeeded int
	VolunteersJoined int
	ImageURL         string
	OrganizerID      string
	Organizer        *Organizer
	CreatedAt        time.Time
}

// Full は定員に達しているかどうかを返す。
func (e *Event) Full() bool {
	return e.VolunteersJoined >= e.VolunteersNeeded
}

// SpotsLeft は残り枠数を返す。
func (e *Event) SpotsLeft() int {
	if left := e.VolunteersNeeded - e.VolunteersJoined; left > 0 {
		return left
	}
	return 0
}

// NewEvent はイベント作成の入力。すべての項目が必須。
type NewEvent struct {
	Title            string
	Description      string
	Date             string
	Time             string
	Location         string
	Category         string
	VolunteersNeeded int
	ImageURL         string
	OrganizerID      string
}

// EventVolunteer はイベント参加記録。(EventID, VolunteerID) の組は一意。
type EventVolunteer struct {
	ID          string
	EventID     string
	VolunteerID string
	CreatedAt   time.Time
}

// Volunteer はボランティア名簿の1行。
// AvatarURLは表示境界でプレースホルダー置換済み。
type Volunteer struct {
	ID        string
	FullName  string
	AvatarURL string
}
