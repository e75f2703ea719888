package handler

import (
	"errors"
	"time"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/session"
)

// userResponse はログイン中ユーザーのAPIレスポンス。
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Bio          *string   `json:"bio"`
	AvatarURL    string    `json:"avatar_url"`
	EventsJoined int       `json:"events_joined"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// stateErrorResponse は直近の状態遷移で発生したエラー。
type stateErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stateResponse はセッション状態のAPIレスポンス。ストリームでも同じ形式を送る。
type stateResponse struct {
	State   session.State       `json:"state"`
	Loading bool                `json:"loading"`
	User    *userResponse       `json:"user"`
	Profile *profileResponse    `json:"profile"`
	Error   *stateErrorResponse `json:"error,omitempty"`
}

// organizerResponse はイベント主催者のAPIレスポンス。
type organizerResponse struct {
	ID        string  `json:"id"`
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

// eventResponse はイベントのAPIレスポンス。
type eventResponse struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	Date             string             `json:"date"`
	Time             string             `json:"time"`
	Location         string             `json:"location"`
	Category         string             `json:"category"`
	VolunteersNeeded int                `json:"volunteers_needed"`
	VolunteersJoined int                `json:"volunteers_joined"`
	SpotsLeft        int                `json:"spots_left"`
	Full             bool               `json:"full"`
	ImageURL         string             `json:"image_url"`
	OrganizerID      string             `json:"organizer_id"`
	Organizer        *organizerResponse `json:"organizer"`
	CreatedAt        time.Time          `json:"created_at"`
}

// volunteerResponse は参加者のAPIレスポンス。
type volunteerResponse struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

// joinResponse はイベント参加のAPIレスポンス。再取得後のイベント一覧を含む。
type joinResponse struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id"`
	VolunteerID string          `json:"volunteer_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Events      []eventResponse `json:"events"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName(),
		AvatarURL: u.AvatarURL(),
	}
}

func toProfileResponse(p *model.Profile) *profileResponse {
	if p == nil {
		return nil
	}
	return &profileResponse{
		ID:           p.ID,
		FullName:     p.FullName,
		Bio:          p.Bio,
		AvatarURL:    p.DisplayAvatarURL(),
		EventsJoined: p.EventsJoined,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func toStateResponse(snap session.Snapshot) stateResponse {
	resp := stateResponse{
		State:   snap.State,
		Loading: snap.Loading,
		User:    toUserResponse(snap.User),
		Profile: toProfileResponse(snap.Profile),
	}
	if snap.LastError != nil {
		resp.Error = &stateErrorResponse{
			Code:    model.CodeOf(snap.LastError),
			Message: errorMessage(snap.LastError),
		}
	}
	return resp
}

// errorMessage はユーザー向けのメッセージを返す。AppError以外は詳細を隠す。
func errorMessage(err error) string {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "An unexpected error occurred."
}

func toEventResponse(e model.Event) eventResponse {
	resp := eventResponse{
		ID:               e.ID,
		Title:            e.Title,
		Description:      e.Description,
		Date:             e.Date,
		Time:             e.Time,
		Location:         e.Location,
		Category:         e.Category,
		VolunteersNeeded: e.VolunteersNeeded,
		VolunteersJoined: e.VolunteersJoined,
		SpotsLeft:        e.SpotsLeft(),
		Full:             e.Full(),
		ImageURL:         e.ImageURL,
		OrganizerID:      e.OrganizerID,
		CreatedAt:        e.CreatedAt,
	}
	if e.Organizer != nil {
		resp.Organizer = &organizerResponse{
			ID:        e.Organizer.ID,
			FullName:  e.Organizer.FullName,
			AvatarURL: e.Organizer.AvatarURL,
		}
	}
	return resp
}

func toEventResponses(events []model.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	return out
}

func toVolunteerResponses(volunteers []model.Volunteer) []volunteerResponse {
	out := make([]volunteerResponse, 0, len(volunteers))
	for _, v := range volunteers {
		out = append(out, volunteerResponse{ID: v.ID, FullName: v.FullName, AvatarURL: v.AvatarURL})
	}
	return out
}
