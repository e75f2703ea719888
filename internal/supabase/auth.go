package supabase

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// AuthEvent は認証状態の変化イベント。
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthListener は認証状態の変化を受け取るコールバック。
// ctxは変化を引き起こした呼び出しのコンテキスト。SIGNED_OUTではsessionはnil。
type AuthListener func(ctx context.Context, event AuthEvent, session *model.Session)

// userResponse は認証APIのユーザーオブジェクト。
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (u *userResponse) toModel() model.User {
	return model.User{
		ID:        u.ID,
		Email:     u.Email,
		Metadata:  u.UserMetadata,
		CreatedAt: u.CreatedAt,
	}
}

// sessionResponse はトークン発行APIのレスポンス。
type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// signUpResponse はサインアップAPIのレスポンス。
// メール確認が必要な設定ではセッションを含まず、ユーザーオブジェクトのみが返る。
type signUpResponse struct {
	sessionResponse
	userResponse
}

// SignUpResult はサインアップの結果。
// Sessionがnilの場合はメール確認待ち。
type SignUpResult struct {
	User    model.User
	Session *model.Session
}

// toSession はトークン発行レスポンスをセッションに変換する。
// 有効期限は expires_at、expires_in、JWTのexpクレームの順に決定する。
func (c *Client) toSession(resp *sessionResponse) *model.Session {
	if resp == nil || resp.AccessToken == "" {
		return nil
	}
	s := &model.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	switch {
	case resp.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	default:
		if exp, err := tokenExpiry(resp.AccessToken); err == nil {
			s.ExpiresAt = exp
		} else {
			c.logger.Warn("could not determine access token expiry", slog.String("error", err.Error()))
		}
	}
	if resp.User != nil {
		s.User = resp.User.toModel()
	}
	return s
}

// OnAuthStateChange は認証状態変化のリスナーを登録し、登録解除関数を返す。
// リスナーは状態変化の直後に、変化を起こしたgoroutine上で同期的に呼ばれる。
func (c *Client) OnAuthStateChange(listener AuthListener) func() {
	c.listenersMu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = listener
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// emit はリスナーにイベントを通知する。ロックは保持しない。
func (c *Client) emit(ctx context.Context, event AuthEvent, session *model.Session) {
	c.listenersMu.Lock()
	// 登録順に呼び出す
	ids := slices.Sorted(maps.Keys(c.listeners))
	listeners := make([]AuthListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l(ctx, event, session.Clone())
	}
}

// setSession はセッションをメモリとストアに保存する。
func (c *Client) setSession(ctx context.Context, s *model.Session) {
	c.mu.Lock()
	c.session = s.Clone()
	c.loaded = true
	c.mu.Unlock()

	if err := c.store.Save(ctx, s); err != nil {
		c.logger.Error("failed to persist session", slog.String("error", err.Error()))
	}
}

// clearSession はセッションをメモリとストアから削除する。
func (c *Client) clearSession(ctx context.Context) {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("failed to clear persisted session", slog.String("error", err.Error()))
	}
}

// currentSession はメモリ上のセッションを返す。未読み込みの場合はストアから読み込む。
func (c *Client) currentSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		s, err := c.store.Load(ctx)
		if err != nil {
			return nil, err
		}
		c.session = s
		c.loaded = true
	}
	return c.session.Clone(), nil
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
// metadataはユーザーメタデータ（full_nameなど）として保存される。
// セッションが発行された場合はSIGNED_INを通知する。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	body, err := jsonBody(map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	})
	if err != nil {
		return nil, err
	}

	var resp signUpResponse
	if err := c.send(ctx, request{
		op:     "auth.signup",
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   body,
	}, &resp); err != nil {
		return nil, err
	}

	result := &SignUpResult{}
	if session := c.toSession(&resp.sessionResponse); session != nil {
		result.Session = session
		result.User = session.User
		c.setSession(ctx, session)
		c.emit(ctx, EventSignedIn, session)
	} else {
		result.User = resp.userResponse.toModel()
	}
	return result, nil
}

// SignInWithPassword はメールアドレスとパスワードでログインし、SIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	body, err := jsonBody(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var resp sessionResponse
	if err := c.send(ctx, request{
		op:     "auth.signin",
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   body,
	}, &resp); err != nil {
		return nil, err
	}

	session := c.toSession(&resp)
	if session == nil {
		return nil, &TransportError{Op: "auth.signin", Err: errors.New("token response has no access token")}
	}
	c.setSession(ctx, session)
	c.emit(ctx, EventSignedIn, session)
	return session, nil
}

// SignOut はセッションを破棄し、SIGNED_OUTを通知する。
// バックエンドがセッション消滅済み（401/403/404）と応答した場合も成功として扱う。
// 通信エラーや5xxの場合はローカルのセッションを保持したままエラーを返す。
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.currentSession(ctx)
	if err != nil {
		return err
	}

	if session != nil {
		err := c.send(ctx, request{
			op:     "auth.signout",
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			bearer: session.AccessToken,
		}, nil)
		if err != nil {
			var apiErr *Error
			if !errors.As(err, &apiErr) || !sessionGone(apiErr.Status) {
				return err
			}
			c.logger.Info("session already discarded by backend", slog.Int("http_status", apiErr.Status))
		}
	}

	c.clearSession(ctx)
	c.emit(ctx, EventSignedOut, nil)
	return nil
}

func sessionGone(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound
}

// GetSession は現在のセッションを返す。ログインしていない場合はnil, nilを返す。
// アクセストークンが期限切れの場合はリフレッシュトークンで更新し、TOKEN_REFRESHEDを通知する。
// バックエンドが更新を拒否した場合はセッションを破棄してSIGNED_OUTを通知する。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.Expired(c.now()) {
		return session, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// 待機中に他のgoroutineが更新済みの場合はそれを使う
	session, err = c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.Expired(c.now()) {
		return session, nil
	}

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		if IsUnavailable(err) {
			return nil, err
		}
		c.logger.Info("refresh token rejected, signing out", slog.String("error", err.Error()))
		c.clearSession(ctx)
		c.emit(ctx, EventSignedOut, nil)
		return nil, nil
	}

	c.setSession(ctx, refreshed)
	c.emit(ctx, EventTokenRefreshed, refreshed)
	return refreshed, nil
}

// refresh はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	body, err := jsonBody(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	var resp sessionResponse
	if err := c.send(ctx, request{
		op:     "auth.refresh",
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   body,
	}, &resp); err != nil {
		return nil, err
	}
	session := c.toSession(&resp)
	if session == nil {
		return nil, &TransportError{Op: "auth.refresh", Err: errors.New("token response has no access token")}
	}
	return session, nil
}

// accessToken はリクエストに使用するBearerトークンを返す。
// ログインしていない場合は空文字列（匿名キーを使用）を返す。
func (c *Client) accessToken(ctx context.Context) (string, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.AccessToken, nil
}

// UpdateUser はユーザーメタデータを更新し、USER_UPDATEDを通知する。
func (c *Client) UpdateUser(ctx context.Context, metadata map[string]any) (*model.User, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, &Error{Status: http.StatusUnauthorized, Code: "no_session", Message: "no active session"}
	}

	body, err := jsonBody(map[string]any{"data": metadata})
	if err != nil {
		return nil, err
	}
	var resp userResponse
	if err := c.send(ctx, request{
		op:     "auth.update_user",
		method: http.MethodPut,
		path:   "/auth/v1/user",
		body:   body,
		bearer: token,
	}, &resp); err != nil {
		return nil, err
	}
	u := resp.toModel()

	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session != nil {
		session.User = u
		c.setSession(ctx, session)
	}
	c.emit(ctx, EventUserUpdated, session)
	return &u, nil
}

// ResetPasswordForEmail はパスワード再設定メールの送信を依頼する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	body, err := jsonBody(map[string]string{"email": email})
	if err != nil {
		return err
	}
	return c.send(ctx, request{
		op:     "auth.recover",
		method: http.MethodPost,
		path:   "/auth/v1/recover",
		body:   body,
	}, nil)
}
