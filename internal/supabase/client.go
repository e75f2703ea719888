// Package supabase はホスト型バックエンド（認証・データ・ストレージ）のHTTPクライアントを提供する。
// 認証はGoTrue互換、データ操作はPostgREST互換、オブジェクトストレージはStorage API互換のエンドポイントを前提とする。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// maxResponseSize はレスポンスボディの最大読み取りサイズ。
const maxResponseSize = 8 << 20

// CallObserver はバックエンド呼び出しの結果を観測するインターフェース。
// メトリクス収集に使用する。
type CallObserver interface {
	ObserveBackendCall(operation string, outcome string, duration time.Duration)
}

// Config はClientの設定。
type Config struct {
	URL        string // プロジェクトURL（例: https://xyz.supabase.co）
	AnonKey    string // 匿名キー。apikeyヘッダーと未ログイン時のBearerに使用する
	HTTPClient *http.Client
	Store      TokenStore // セッションの永続化先。nilの場合はメモリ上に保持する
	Logger     *slog.Logger
	Observer   CallObserver
	Now        func() time.Time // テスト用に現在時刻を差し替え可能
}

// Client はバックエンドのHTTPクライアント。
// 複数のgoroutineから同時に使用できる。
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	store      TokenStore
	logger     *slog.Logger
	observer   CallObserver
	now        func() time.Time

	mu      sync.Mutex
	session *model.Session
	loaded  bool

	// refreshMu はトークン更新を直列化する。
	refreshMu sync.Mutex

	listenersMu    sync.Mutex
	listeners      map[int]AuthListener
	nextListenerID int
}

// NewClient はClientを生成する。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("anon key is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: cfg.HTTPClient,
		store:      cfg.Store,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		now:        cfg.Now,
		listeners:  make(map[int]AuthListener),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.store == nil {
		c.store = NewMemoryTokenStore()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Error はバックエンドが返したエラーレスポンスを表す。
type Error struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
}

// TransportError はネットワークエラーや不正なレスポンスなど、
// バックエンドから有効な応答を得られなかったことを表す。
type TransportError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnavailable はエラーがバックエンド到達不能（通信エラーまたは5xx）かどうかを返す。
func IsUnavailable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return false
}

// request はバックエンドへの1回のHTTPリクエストを表す。
type request struct {
	op      string // メトリクス・ログ用の操作名
	method  string
	path    string
	query   url.Values
	body    io.Reader
	headers map[string]string
	bearer  string // 空の場合は匿名キーを使用する
}

// jsonBody は値をJSONエンコードしたリクエストボディを返す。
func jsonBody(v any) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

// send はリクエストを実行し、成功時はレスポンスJSONをoutにデコードする。
// 4xx/5xxは*Error、通信失敗やデコード失敗は*TransportErrorを返す。
func (c *Client) send(ctx context.Context, req request, out any) error {
	start := c.now()
	outcome := "ok"
	defer func() {
		if c.observer != nil {
			c.observer.ObserveBackendCall(req.op, outcome, c.now().Sub(start))
		}
	}()

	// 1. リクエスト構築
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		outcome = "transport_error"
		return &TransportError{Op: req.op, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	bearer := req.bearer
	if bearer == "" {
		bearer = c.anonKey
	}
	httpReq.Header.Set("apikey", c.anonKey)
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	// 2. リクエスト実行
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome = "transport_error"
		c.logger.Error("backend request failed",
			slog.String("op", req.op),
			slog.String("error", err.Error()),
		)
		return &TransportError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	// 3. レスポンスボディ読み取り
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		outcome = "transport_error"
		return &TransportError{Op: req.op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	// 4. エラーステータスの変換
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := parseError(resp.StatusCode, data)
		if resp.StatusCode >= http.StatusInternalServerError {
			outcome = "server_error"
		} else {
			outcome = "client_error"
		}
		c.logger.Warn("backend returned error status",
			slog.String("op", req.op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", apiErr.Code),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	// 5. JSONデコード
	if err := json.Unmarshal(data, out); err != nil {
		outcome = "decode_error"
		return &TransportError{Op: req.op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorBody は認証・データ・ストレージ各APIのエラーレスポンスを包含する構造。
type errorBody struct {
	Code             any             `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Details          json.RawMessage `json:"details"`
	Hint             *string         `json:"hint"`
}

// parseError はエラーレスポンスボディを*Errorに変換する。
// ボディがJSONでない場合は本文をそのままメッセージとして扱う。
func parseError(status int, data []byte) *Error {
	apiErr := &Error{Status: status}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	for _, m := range []string{body.ErrorDescription, body.Msg, body.Message, body.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	switch {
	case body.ErrorCode != "":
		apiErr.Code = body.ErrorCode
	case body.Code != nil:
		if s, ok := body.Code.(string); ok {
			apiErr.Code = s
		}
	}
	if apiErr.Code == "" && body.Error != "" && body.Error != apiErr.Message {
		apiErr.Code = body.Error
	}

	if len(body.Details) > 0 && string(body.Details) != "null" {
		var s string
		if err := json.Unmarshal(body.Details, &s); err == nil {
			apiErr.Details = s
		} else {
			apiErr.Details = string(body.Details)
		}
	}
	if body.Hint != nil {
		apiErr.Hint = *body.Hint
	}
	return apiErr
}
