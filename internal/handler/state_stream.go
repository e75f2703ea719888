package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongTimeout  = 60 * time.Second
	streamPingInterval = 50 * time.Second
	streamReadLimit    = 512
)

// StateStream はセッション状態の遷移をWebSocketで配信するハンドラー。
// 接続直後に現在の状態を送り、以降は遷移ごとに送る。クライアントからのメッセージは読み捨てる。
type StateStream struct {
	sessions SessionServiceInterface
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStateStream はStateStreamを生成する。
// allowedOriginが空の場合は同一オリジンからの接続のみ受け付ける。
func NewStateStream(sessions SessionServiceInterface, allowedOrigin string, logger *slog.Logger) *StateStream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StateStream{
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if allowedOrigin != "" {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			return sameOrigin(r.Header.Get("Origin"), allowedOrigin)
		}
	}
	return s
}

// ServeHTTP はHTTP接続をWebSocketにアップグレードして配信を開始する。
// GET /auth/state/stream
func (s *StateStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	updates, cancel := s.sessions.Subscribe()
	defer cancel()

	// 1. 読み込みループ。切断の検知とPongの受信のみを行う
	closed := make(chan struct{})
	conn.SetReadLimit(streamReadLimit)
	conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 2. 書き込みループ
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session manager stopped"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(toStateResponse(snap)); err != nil {
				s.logger.Debug("state stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// sameOrigin はOriginヘッダーが許可オリジンと一致するかを返す。
func sameOrigin(origin, allowed string) bool {
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	a, err := url.Parse(allowed)
	if err != nil {
		return false
	}
	return o.Scheme == a.Scheme && o.Host == a.Host
}
