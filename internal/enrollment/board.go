package enrollment

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// BoardSource はBoardが利用するイベント操作のインターフェース。
type BoardSource interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
	JoinEvent(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, error)
}

// Board は表示中のイベント一覧を保持する。
// 再取得要求ごとに連番を振り、適用済みより古い要求の応答は破棄する。
type Board struct {
	source BoardSource
	logger *slog.Logger

	mu      sync.Mutex
	issued  uint64
	applied uint64
	events  []model.Event
}

// NewBoard はBoardを生成する。
func NewBoard(source BoardSource, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{source: source, logger: logger, events: []model.Event{}}
}

// Refresh はイベント一覧を再取得して表示中の一覧を差し替える。
// 後から発行された再取得が先に適用されていた場合、この応答は破棄され、表示中の一覧を返す。
// 取得に失敗した場合は表示中の一覧を変更しない。
func (b *Board) Refresh(ctx context.Context) ([]model.Event, error) {
	b.mu.Lock()
	b.issued++
	seq := b.issued
	b.mu.Unlock()

	events, err := b.source.ListEvents(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if seq <= b.applied {
		b.logger.Debug("discarding stale event list",
			slog.Uint64("seq", seq),
			slog.Uint64("applied", b.applied),
		)
		return slices.Clone(b.events), nil
	}
	b.applied = seq
	b.events = slices.Clone(events)
	return slices.Clone(b.events), nil
}

// Snapshot は表示中の一覧のコピーを返す。
func (b *Board) Snapshot() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

// Filtered は表示中の一覧をカテゴリと検索語で絞り込んで返す。
func (b *Board) Filtered(category, query string) []model.Event {
	return Filter(b.Snapshot(), category, query)
}

// JoinAndRefresh はイベントに参加し、成功した場合は一覧を再取得する。
// 参加に失敗した場合は一覧を再取得しない。参加後の再取得の失敗はログに記録し、参加結果と表示中の一覧を返す。
func (b *Board) JoinAndRefresh(ctx context.Context, eventID, volunteerID string) (*model.EventVolunteer, []model.Event, error) {
	record, err := b.source.JoinEvent(ctx, eventID, volunteerID)
	if err != nil {
		return nil, nil, err
	}

	events, err := b.Refresh(ctx)
	if err != nil {
		b.logger.Warn("failed to refresh events after join",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return record, b.Snapshot(), nil
	}
	return record, events, nil
}
