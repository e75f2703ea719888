package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

const joinEventFunction = "join_event"

// RestEnrollmentRepo はバックエンドのjoin_eventファンクションを呼び出す参加リポジトリ。
type RestEnrollmentRepo struct {
	client *supabase.Client
}

// NewRestEnrollmentRepo はRestEnrollmentRepoを生成する。
func NewRestEnrollmentRepo(client *supabase.Client) *RestEnrollmentRepo {
	return &RestEnrollmentRepo{client: client}
}

// Join はjoin_eventを1回呼び出す。リトライは行わない。
// バックエンドのエラーは*supabase.Errorをラップして返す。
func (r *RestEnrollmentRepo) Join(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, error) {
	var raw json.RawMessage
	err := r.client.RPC(ctx, joinEventFunction, map[string]string{
		"event_id": eventID,
		"user_id":  volunteerID,
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to join event: %w", err)
	}
	return decodeJoinResult(raw, eventID, volunteerID)
}

// decodeJoinResult はjoin_eventの戻り値を参加記録に変換する。
// 戻り値は行オブジェクト、行の配列、真偽値のいずれかを受け付ける。
func decodeJoinResult(raw json.RawMessage, eventID, volunteerID string) (*model.EventVolunteer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return nil, nil
	}

	fallback := &model.EventVolunteer{EventID: eventID, VolunteerID: volunteerID}

	var row joinRow
	switch raw[0] {
	case '[':
		var rows []joinRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode join result: %w", err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		row = rows[0]
	case '{':
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("failed to decode join result: %w", err)
		}
	default:
		return fallback, nil
	}

	ev := &model.EventVolunteer{
		ID:          row.ID,
		EventID:     row.EventID,
		VolunteerID: row.VolunteerID,
		CreatedAt:   row.CreatedAt,
	}
	if ev.EventID == "" {
		ev.EventID = eventID
	}
	if ev.VolunteerID == "" {
		ev.VolunteerID = volunteerID
	}
	return ev, nil
}

// compile-time interface check
var _ EnrollmentRepository = (*RestEnrollmentRepo)(nil)
