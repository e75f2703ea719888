package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

const (
	eventsTable          = "events"
	eventVolunteersTable = "event_volunteers"
)

// RestEventRepo はバックエンドのデータAPIを使用したイベントリポジトリ。
type RestEventRepo struct {
	client *supabase.Client
}

// NewRestEventRepo はRestEventRepoを生成する。
func NewRestEventRepo(client *supabase.Client) *RestEventRepo {
	return &RestEventRepo{client: client}
}

// List は全イベントを作成日時の降順で返す。ページネーションは行わない。
func (r *RestEventRepo) List(ctx context.Context) ([]model.Event, error) {
	var rows []eventRow
	err := r.client.From(eventsTable).
		Select(eventSelect).
		Order("created_at", false).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]model.Event, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].toModel())
	}
	return events, nil
}

// Create はイベントを作成し、主催者情報付きで返す。
func (r *RestEventRepo) Create(ctx context.Context, event model.NewEvent) (*model.Event, error) {
	var row eventRow
	err := r.client.From(eventsTable).
		Insert(eventInsert{
			Title:            event.Title,
			Description:      event.Description,
			Date:             event.Date,
			Time:             event.Time,
			Location:         event.Location,
			Category:         event.Category,
			VolunteersNeeded: event.VolunteersNeeded,
			ImageURL:         event.ImageURL,
			OrganizerID:      event.OrganizerID,
		}).
		Select(eventSelect).
		Single().
		Execute(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	created := row.toModel()
	return &created, nil
}

// ListVolunteers はイベントの参加者を返す。プロフィールが参照できない行は除外する。
func (r *RestEventRepo) ListVolunteers(ctx context.Context, eventID string) ([]model.Volunteer, error) {
	var rows []volunteerRow
	err := r.client.From(eventVolunteersTable).
		Select(volunteerSelect).
		Eq("event_id", eventID).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list volunteers: %w", err)
	}

	volunteers := make([]model.Volunteer, 0, len(rows))
	for _, row := range rows {
		if row.Volunteer == nil {
			continue
		}
		v := model.Volunteer{
			ID:       row.Volunteer.ID,
			FullName: row.Volunteer.FullName,
		}
		if row.Volunteer.AvatarURL != nil {
			v.AvatarURL = *row.Volunteer.AvatarURL
		}
		volunteers = append(volunteers, v)
	}
	return volunteers, nil
}

// compile-time interface check
var _ EventRepository = (*RestEventRepo)(nil)
