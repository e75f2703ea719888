// Package enrollment はイベントの一覧・作成・参加・参加者名簿のドメインロジックを提供する。
// 定員の確認と参加数の更新はバックエンドの参加操作が原子的に行い、クライアント側では数えない。
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/repository"
	"github.com/hitoshi/volunteerhub/internal/security"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

// OutcomeJoined は参加成功を表すメトリクスラベル。失敗はエラー種別をラベルにする。
const OutcomeJoined = "joined"

// JoinObserver は参加操作の結果を観測するインターフェース。
type JoinObserver interface {
	RecordJoinOutcome(outcome string)
}

// Service はイベント参加のサービス層。
// すべての操作はエラーをログに記録し、*model.AppErrorとして返す。リトライやキャッシュは行わない。
type Service struct {
	events      repository.EventRepository
	enrollments repository.EnrollmentRepository
	sanitizer   security.TextSanitizerService
	observer    JoinObserver
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	events repository.EventRepository,
	enrollments repository.EnrollmentRepository,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		events:      events,
		enrollments: enrollments,
		sanitizer:   sanitizer,
		logger:      logger,
	}
}

// SetObserver は参加結果の観測者を設定する。
func (s *Service) SetObserver(o JoinObserver) {
	s.observer = o
}

// ListEvents は全イベントを作成日時の降順で主催者情報付きで返す。
func (s *Service) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		s.logger.Error("failed to list events", slog.String("error", err.Error()))
		return nil, classify(err, "Failed to load events")
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// CreateEvent はイベントを作成し、主催者情報付きで返す。
// 画像が未指定の場合はカテゴリのデフォルト画像を使用する。参加数はバックエンドで0に初期化される。
func (s *Service) CreateEvent(ctx context.Context, in model.NewEvent) (*model.Event, error) {
	// 1. 自由入力欄の整形
	in.Title = s.clean(in.Title)
	in.Description = s.clean(in.Description)
	in.Location = s.clean(in.Location)
	in.Category = strings.TrimSpace(in.Category)
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	in.OrganizerID = strings.TrimSpace(in.OrganizerID)
	if in.ImageURL == "" && in.Category != "" {
		in.ImageURL = model.DefaultImageFor(in.Category)
	}

	// 2. 入力検証（ネットワーク呼び出し前）
	if err := validateNewEvent(in); err != nil {
		return nil, err
	}

	// 3. 作成
	event, err := s.events.Create(ctx, in)
	if err != nil {
		s.logger.Error("failed to create event",
			slog.String("organizer_id", in.OrganizerID),
			slog.String("error", err.Error()),
		)
		return nil, classify(err, "Failed to create event. Please try again.")
	}

	s.logger.Info("event created",
		slog.String("event_id", event.ID),
		slog.String("organizer_id", in.OrganizerID),
	)
	return event, nil
}

// JoinEvent はバックエンドの参加操作を1回だけ呼び出す。リトライは行わない。
// 成功後の参加数の反映は呼び出し側が一覧を再取得して行う。
func (s *Service) JoinEvent(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, error) {
	if strings.TrimSpace(eventID) == "" || strings.TrimSpace(volunteerID) == "" {
		return nil, model.NewMissingFieldsError("event_id", "volunteer_id")
	}

	record, err := s.enrollments.Join(ctx, eventID, volunteerID)
	if err != nil {
		appErr := classifyJoinError(err)
		s.record(string(model.KindOf(appErr)))
		s.logger.Warn("join event failed",
			slog.String("event_id", eventID),
			slog.String("volunteer_id", volunteerID),
			slog.String("code", model.CodeOf(appErr)),
			slog.String("error", err.Error()),
		)
		return nil, appErr
	}
	if record == nil {
		s.record(string(model.KindUnknown))
		s.logger.Error("join event returned no data",
			slog.String("event_id", eventID),
			slog.String("volunteer_id", volunteerID),
		)
		return nil, model.NewUnknownError("No data returned from join event operation", nil)
	}

	s.record(OutcomeJoined)
	s.logger.Info("joined event",
		slog.String("event_id", eventID),
		slog.String("volunteer_id", volunteerID),
	)
	return record, nil
}

// ListVolunteers はイベントの参加者を返す。参加者がいない場合は空のスライスを返す。
// アバター未設定の参加者にはプレースホルダーを設定する。
func (s *Service) ListVolunteers(ctx context.Context, eventID string) ([]model.Volunteer, error) {
	volunteers, err := s.events.ListVolunteers(ctx, eventID)
	if err != nil {
		s.logger.Error("failed to list volunteers",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return nil, classify(err, "Failed to load volunteers")
	}

	out := make([]model.Volunteer, 0, len(volunteers))
	for _, v := range volunteers {
		if strings.TrimSpace(v.AvatarURL) == "" {
			v.AvatarURL = model.PlaceholderAvatarURL
		}
		out = append(out, v)
	}
	return out, nil
}

// Filter はカテゴリと検索語でイベントを絞り込む。入力は変更せず、相対順序を保つ。
// カテゴリが空または All Events の場合はカテゴリで絞り込まない。
// 検索語はタイトルまたは場所に対する大文字小文字を区別しない部分一致。
func Filter(events []model.Event, category, query string) []model.Event {
	category = strings.TrimSpace(category)
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if category != "" && category != model.AllEventsCategory && e.Category != category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(e.Title), query) &&
			!strings.Contains(strings.ToLower(e.Location), query) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// FormatEventDate は日付を送信形式 YYYY-MM-DD に変換する。
func FormatEventDate(t time.Time) string {
	return t.Format(model.EventDateLayout)
}

// FormatEventTime は時刻を送信形式 hh:mm AM/PM に変換する。
func FormatEventTime(t time.Time) string {
	return t.Format(model.EventTimeLayout)
}

func (s *Service) clean(text string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(text)
	}
	return s.sanitizer.Sanitize(text)
}

func (s *Service) record(outcome string) {
	if s.observer != nil {
		s.observer.RecordJoinOutcome(outcome)
	}
}

// validateNewEvent はイベント作成の入力を検証する。
func validateNewEvent(in model.NewEvent) error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"title", in.Title},
		{"description", in.Description},
		{"date", in.Date},
		{"time", in.Time},
		{"location", in.Location},
		{"category", in.Category},
		{"image_url", in.ImageURL},
		{"organizer_id", in.OrganizerID},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return model.NewMissingFieldsError(missing...)
	}

	if in.VolunteersNeeded <= 0 {
		return model.NewInvalidFieldError("volunteers_needed", "must be greater than 0")
	}
	if !model.IsValidCategory(in.Category) {
		return model.NewInvalidFieldError("category", fmt.Sprintf("must be one of %v", model.Categories))
	}
	if _, err := time.Parse(model.EventDateLayout, in.Date); err != nil {
		return model.NewInvalidFieldError("date", "expected YYYY-MM-DD")
	}
	if _, err := time.Parse(model.EventTimeLayout, in.Time); err != nil {
		return model.NewInvalidFieldError("time", "expected hh:mm AM/PM")
	}
	return nil
}

// classifyJoinError は参加操作のエラーをバックエンドのヒント、なければメッセージで分類する。
func classifyJoinError(err error) error {
	if supabase.IsUnavailable(err) {
		return model.NewTransportError("Unable to reach the server. Please check your connection.", err)
	}

	msg := rootCause(err).Error()
	var apiErr *supabase.Error
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
		// RAISE ... USING HINT でエラーコードを返すバックエンドはメッセージより優先する
		switch apiErr.Hint {
		case model.ErrCodeEventNotFound:
			return model.NewEventNotFoundError(err)
		case model.ErrCodeEventFull:
			return model.NewEventFullError(err)
		case model.ErrCodeProfileNotFound:
			return model.NewProfileNotFoundError(err)
		case model.ErrCodeAlreadyJoined:
			return model.NewAlreadyJoinedError(err)
		}
	}

	switch {
	case strings.Contains(msg, "Event not found"):
		return model.NewEventNotFoundError(err)
	case strings.Contains(msg, "Event is full"):
		return model.NewEventFullError(err)
	case strings.Contains(msg, "Profile not found"):
		return model.NewProfileNotFoundError(err)
	case strings.Contains(msg, "already joined"):
		return model.NewAlreadyJoinedError(err)
	}
	return model.NewUnknownError("Failed to join event: "+msg, err)
}

// rootCause はラップを外した最も内側のエラーを返す。
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// classify は一覧・作成・名簿取得のエラーを分類する。
func classify(err error, message string) error {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if supabase.IsUnavailable(err) {
		return model.NewTransportError("Unable to reach the server. Please check your connection.", err)
	}
	return model.NewUnknownError(message, err)
}
