package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/volunteerhub/internal/enrollment"
	"github.com/hitoshi/volunteerhub/internal/media"
	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

// EventBoardInterface は表示中のイベント一覧を管理するインターフェース。
// enrollment.Boardが実装する。
type EventBoardInterface interface {
	Refresh(ctx context.Context) ([]model.Event, error)
	Filtered(category, query string) []model.Event
	JoinAndRefresh(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, []model.Event, error)
}

// EventServiceInterface はイベント作成と参加者一覧のサービスインターフェース。
type EventServiceInterface interface {
	CreateEvent(ctx context.Context, in model.NewEvent) (*model.Event, error)
	ListVolunteers(ctx context.Context, eventID string) ([]model.Volunteer, error)
}

// ImageUploaderInterface はイベント画像のアップロードインターフェース。
type ImageUploaderInterface interface {
	UploadImage(ctx context.Context, source, path string) (string, error)
	UploadReader(ctx context.Context, r io.Reader, path string) (string, error)
}

var (
	_ EventBoardInterface    = (*enrollment.Board)(nil)
	_ EventServiceInterface  = (*enrollment.Service)(nil)
	_ ImageUploaderInterface = (*media.Uploader)(nil)
)

// EventHandler はイベント一覧・作成・参加のHTTPハンドラー。
type EventHandler struct {
	board        EventBoardInterface
	events       EventServiceInterface
	images       ImageUploaderInterface
	sessions     SessionServiceInterface
	maxImageSize int64
	now          func() time.Time
	responder
}

// EventHandlerConfig はEventHandlerの依存関係。
type EventHandlerConfig struct {
	Board        EventBoardInterface
	Events       EventServiceInterface
	Images       ImageUploaderInterface // nilの場合、画像アップロードは利用できない
	Sessions     SessionServiceInterface
	MaxImageSize int64
	Reporter     ErrorReporter
	Logger       *slog.Logger
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(cfg EventHandlerConfig) *EventHandler {
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = media.DefaultMaxImageSize
	}
	return &EventHandler{
		board:        cfg.Board,
		events:       cfg.Events,
		images:       cfg.Images,
		sessions:     cfg.Sessions,
		maxImageSize: cfg.MaxImageSize,
		now:          time.Now,
		responder:    newResponder(cfg.Reporter, cfg.Logger),
	}
}

// createEventRequest はイベント作成リクエストのボディ。主催者はログイン中のユーザー。
type createEventRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Location         string `json:"location"`
	Category         string `json:"category"`
	VolunteersNeeded int    `json:"volunteers_needed"`
	ImageURL         string `json:"image_url"`
}

// imageUploadResponse は画像アップロードのAPIレスポンス。
type imageUploadResponse struct {
	URL string `json:"url"`
}

// ListEvents はイベント一覧を再取得し、カテゴリと検索語で絞り込んで返す。
// カテゴリは完全一致のため、存在しないカテゴリは空の一覧になる。
// GET /api/events?category=&q=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	query := r.URL.Query().Get("q")

	if _, err := h.board.Refresh(backendContext(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponses(h.board.Filtered(category, query)))
}

// CreateEvent はログイン中のユーザーを主催者としてイベントを作成する。
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	event, err := h.events.CreateEvent(backendContext(r), model.NewEvent{
		Title:            req.Title,
		Description:      req.Description,
		Date:             req.Date,
		Time:             req.Time,
		Location:         req.Location,
		Category:         req.Category,
		VolunteersNeeded: req.VolunteersNeeded,
		ImageURL:         req.ImageURL,
		OrganizerID:      userID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// 一覧に新しいイベントを反映する。失敗しても作成自体は成功している
	if _, err := h.board.Refresh(backendContext(r)); err != nil {
		h.logger.Warn("failed to refresh events after create",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusCreated, toEventResponse(*event))
}

// UploadImage はイベント画像をアップロードし、公開URLを返す。
// POST /api/events/images （multipart の image フィールド、またはJSONの source）
func (h *EventHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		h.fail(w, r, model.NewUnknownError("Event image upload is not configured", nil))
		return
	}

	in, err := readImageInput(w, r, h.maxImageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer in.Close()

	path := media.EventImagePath(h.now())
	var url string
	if in.file != nil {
		url, err = h.images.UploadReader(backendContext(r), in.file, path)
	} else {
		url, err = h.images.UploadImage(backendContext(r), in.source, path)
	}
	if err != nil {
		h.fail(w, r, classifyUploadError(err))
		return
	}

	writeJSON(w, http.StatusCreated, imageUploadResponse{URL: url})
}

// JoinEvent はログイン中のユーザーをイベントに参加させ、再取得後の一覧を返す。
// POST /api/events/{id}/join
func (h *EventHandler) JoinEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	eventID, err := eventIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	record, events, err := h.board.JoinAndRefresh(backendContext(r), eventID, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// 参加数（events_joined）をセッションのプロフィールに反映する
	if err := h.sessions.RefreshProfile(backendContext(r)); err != nil {
		h.logger.Warn("failed to refresh session profile after join",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusCreated, joinResponse{
		ID:          record.ID,
		EventID:     record.EventID,
		VolunteerID: record.VolunteerID,
		CreatedAt:   record.CreatedAt,
		Events:      toEventResponses(events),
	})
}

// ListVolunteers はイベントの参加者一覧を返す。
// GET /api/events/{id}/volunteers
func (h *EventHandler) ListVolunteers(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	volunteers, err := h.events.ListVolunteers(backendContext(r), eventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toVolunteerResponses(volunteers))
}

// eventIDParam はURLのイベントIDを取得する。UUIDでない場合は存在しないイベントとして扱う。
func eventIDParam(r *http.Request) (string, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", model.NewEventNotFoundError(nil)
	}
	return id.String(), nil
}

// classifyUploadError はストレージのエラーをAppErrorに変換する。
func classifyUploadError(err error) error {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if supabase.IsUnavailable(err) {
		return model.NewTransportError("Unable to reach the server. Please check your connection.", err)
	}
	return model.NewUnknownError("Failed to upload image. Please try again.", err)
}
