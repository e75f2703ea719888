// Package session はログイン状態とプロフィールの有無を管理する状態機械を提供する。
// 画面の振り分け（ウェルカム/プロフィール作成/メイン）はManagerが公開するスナップショットに従う。
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/supabase"
)

// State はセッションの状態。
type State string

const (
	// StateUnauthenticated はログインしていない状態。
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticatedNoProfile はログイン済みだがプロフィール未作成の状態。
	StateAuthenticatedNoProfile State = "authenticated_no_profile"
	// StateAuthenticatedWithProfile はログイン済みかつプロフィール作成済みの状態。
	StateAuthenticatedWithProfile State = "authenticated_with_profile"
)

// subscriberBuffer は購読チャネルのバッファ長。
// 受信が追いつかない購読者には古いスナップショットを捨てて最新を届ける。
const subscriberBuffer = 8

// ErrNotStarted はStart前またはClose後に状態を変更する操作を呼び出したことを表す。
var ErrNotStarted = errors.New("session manager is not running")

// AuthBackend はManagerが利用する認証バックエンドのインターフェース。
type AuthBackend interface {
	GetSession(ctx context.Context) (*model.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*supabase.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	OnAuthStateChange(listener supabase.AuthListener) func()
}

// ProfileSource はManagerが利用するプロフィール操作のインターフェース。
type ProfileSource interface {
	// GetProfile はプロフィールを取得する。存在しない場合はnil, nilを返す。
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	// CreateProfile はプロフィールを作成する。既存の行があれば上書きする。
	CreateProfile(ctx context.Context, user model.User, input model.ProfileInput) (*model.Profile, error)
}

// TransitionObserver は状態遷移を観測するインターフェース。メトリクス収集に使用する。
type TransitionObserver interface {
	RecordSessionTransition(state string)
}

// Snapshot はある時点のセッション状態の読み取り専用コピー。
type Snapshot struct {
	State     State
	Session   *model.Session
	User      *model.User
	Profile   *model.Profile
	Loading   bool
	LastError error
}

// SignUpResult はサインアップの結果。
type SignUpResult struct {
	User model.User
	// ConfirmationRequired はメール確認待ちでセッションが発行されなかったことを表す。
	ConfirmationRequired bool
}

// Manager はセッションとプロフィールの状態機械。
// 状態遷移は認証バックエンドの変化イベントを起点に行い、遷移ごとに購読者へスナップショットを配信する。
type Manager struct {
	auth     AuthBackend
	profiles ProfileSource
	logger   *slog.Logger
	observer TransitionObserver

	mu       sync.Mutex
	current  Snapshot
	gen      uint64
	started  bool
	unlisten func()
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewManager はManagerを生成する。Start が完了するまでLoadingはtrueのまま。
func NewManager(auth AuthBackend, profiles ProfileSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		auth:     auth,
		profiles: profiles,
		logger:   logger,
		current:  Snapshot{State: StateUnauthenticated, Loading: true},
		subs:     make(map[int]chan Snapshot),
	}
}

// SetObserver は状態遷移の観測者を設定する。Start前に呼び出すこと。
func (m *Manager) SetObserver(o TransitionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// Start は永続化されたセッションを確認してプロフィールを解決し、Loadingを解除する。
// その後、認証状態の変化イベントの購読を開始する。2回目以降の呼び出しは何もしない。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	gen := m.beginTransition()

	// 1. 既存セッションの確認
	session, err := m.auth.GetSession(ctx)
	if err != nil {
		appErr := classifyBackendError(err, "Failed to restore your session")
		m.logger.Warn("failed to restore session", slog.String("error", err.Error()))
		m.commit(gen, func(s *Snapshot) bool {
			resetSnapshot(s)
			s.LastError = appErr
			return true
		})
	} else {
		// 2. プロフィールの解決
		m.resolve(ctx, gen, session)
	}

	// 3. 変化イベントの購読開始
	unlisten := m.auth.OnAuthStateChange(m.handleAuthEvent)
	m.mu.Lock()
	m.unlisten = unlisten
	m.mu.Unlock()

	if err != nil {
		return m.Current().LastError
	}
	return nil
}

// Close は認証状態の変化イベントの購読を解除し、すべての購読チャネルを閉じる。
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlisten != nil {
		m.unlisten()
		m.unlisten = nil
	}
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// Current は現在の状態のスナップショットを返す。
func (m *Manager) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe は状態遷移の購読を開始する。
// チャネルには購読時点のスナップショットが最初に届き、以降は遷移ごとに届く。
// 返された関数を呼ぶと購読を解除してチャネルを閉じる。複数回呼んでも安全。
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, subscriberBuffer)
	ch <- m.snapshotLocked()
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// SignUp はアカウントを作成し、続けてプロフィールを作成する。
// 状態は Unauthenticated → AuthenticatedNoProfile → AuthenticatedWithProfile と遷移する。
// メール確認が必要な場合はセッションが発行されず、状態はUnauthenticatedのまま。
func (m *Manager) SignUp(ctx context.Context, in SignUpInput) (SignUpResult, error) {
	if err := m.requireStarted(); err != nil {
		return SignUpResult{}, err
	}
	// 1. 入力検証（ネットワーク呼び出し前）
	if err := validateSignUp(in); err != nil {
		return SignUpResult{}, err
	}

	fullName := strings.TrimSpace(in.FullName)
	email := strings.TrimSpace(in.Email)

	// 2. アカウント作成。セッションが発行されるとSIGNED_INで状態が遷移する
	res, err := m.auth.SignUp(ctx, email, in.Password, map[string]any{"full_name": fullName})
	if err != nil {
		appErr := classifySignUpError(err)
		m.logger.Warn("sign up failed",
			slog.String("code", model.CodeOf(appErr)),
			slog.String("error", err.Error()),
		)
		return SignUpResult{}, appErr
	}

	if res.Session == nil {
		m.logger.Info("sign up requires email confirmation", slog.String("user_id", res.User.ID))
		return SignUpResult{User: res.User, ConfirmationRequired: true}, nil
	}

	// 3. プロフィール作成
	if _, err := m.CompleteProfile(ctx, model.ProfileInput{FullName: &fullName}); err != nil {
		m.logger.Error("profile creation after sign up failed",
			slog.String("user_id", res.Session.User.ID),
			slog.String("error", err.Error()),
		)
		return SignUpResult{User: res.Session.User}, err
	}

	return SignUpResult{User: res.Session.User}, nil
}

// SignIn はメールアドレスとパスワードでログインする。
// プロフィールが存在すればAuthenticatedWithProfile、なければAuthenticatedNoProfileに遷移する。
// プロフィールの作成は行わない。
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	if err := m.requireStarted(); err != nil {
		return err
	}
	if err := validateSignIn(email, password); err != nil {
		return err
	}

	if _, err := m.auth.SignInWithPassword(ctx, strings.TrimSpace(email), password); err != nil {
		appErr := classifySignInError(err)
		m.logger.Warn("sign in failed",
			slog.String("code", model.CodeOf(appErr)),
			slog.String("error", err.Error()),
		)
		return appErr
	}
	return nil
}

// SignOut はセッションを破棄し、Unauthenticatedに遷移する。
// 通信エラーの場合は状態を変更せずにエラーを返す。
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.requireStarted(); err != nil {
		return err
	}
	if err := m.auth.SignOut(ctx); err != nil {
		appErr := classifyBackendError(err, "Failed to sign out")
		m.logger.Warn("sign out failed", slog.String("error", err.Error()))
		return appErr
	}
	return nil
}

// CompleteProfile はログイン中のユーザーのプロフィールを作成し、AuthenticatedWithProfileに遷移する。
func (m *Manager) CompleteProfile(ctx context.Context, input model.ProfileInput) (*model.Profile, error) {
	if err := m.requireStarted(); err != nil {
		return nil, err
	}
	snap := m.Current()
	if snap.User == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	gen := m.beginTransition()
	profile, err := m.profiles.CreateProfile(ctx, *snap.User, input)
	if err != nil {
		return nil, err
	}

	m.commit(gen, func(s *Snapshot) bool {
		if s.User == nil || s.User.ID != profile.ID {
			return false
		}
		s.Profile = profile
		s.State = StateAuthenticatedWithProfile
		s.LastError = nil
		return true
	})
	return profile.Clone(), nil
}

// RefreshProfile はプロフィールを再取得して差し替える。
// プロフィール編集や参加操作の後に呼び出す。
func (m *Manager) RefreshProfile(ctx context.Context) error {
	if err := m.requireStarted(); err != nil {
		return err
	}
	snap := m.Current()
	if snap.User == nil {
		return model.NewNotAuthenticatedError()
	}

	gen := m.beginTransition()
	profile, err := m.profiles.GetProfile(ctx, snap.User.ID)
	if err != nil {
		return err
	}

	m.commit(gen, func(s *Snapshot) bool {
		if s.User == nil || s.User.ID != snap.User.ID {
			return false
		}
		applyProfile(s, profile)
		s.LastError = nil
		return true
	})
	return nil
}

// RequestPasswordReset はパスワード再設定メールの送信を依頼する。
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewMissingFieldsError("email")
	}
	if !validEmail(email) {
		return model.NewInvalidEmailError()
	}
	if err := m.auth.ResetPasswordForEmail(ctx, email); err != nil {
		m.logger.Warn("password reset request failed", slog.String("error", err.Error()))
		return classifyBackendError(err, "Failed to send the password reset email")
	}
	return nil
}

// handleAuthEvent は認証バックエンドの変化イベントを状態遷移に変換する。
func (m *Manager) handleAuthEvent(ctx context.Context, event supabase.AuthEvent, session *model.Session) {
	gen := m.beginTransition()
	m.logger.Debug("auth state changed", slog.String("event", string(event)))

	switch event {
	case supabase.EventSignedOut:
		m.commit(gen, func(s *Snapshot) bool {
			resetSnapshot(s)
			return true
		})
	case supabase.EventTokenRefreshed:
		// 同一ユーザーでプロフィール解決済みならセッションのみ差し替える
		m.mu.Lock()
		known := m.current.User != nil && session != nil && m.current.User.ID == session.User.ID && m.current.Profile != nil
		m.mu.Unlock()
		if known {
			m.commit(gen, func(s *Snapshot) bool {
				s.Session = session
				s.User = session.User.Clone()
				return true
			})
			return
		}
		m.resolve(ctx, gen, session)
	default:
		// SIGNED_IN, USER_UPDATED はプロフィールを取得し直す
		m.resolve(ctx, gen, session)
	}
}

// resolve はセッションに対応するプロフィールを取得して状態を確定する。
// プロフィールの取得に失敗した場合はLastErrorを設定する。同じユーザーのプロフィールを
// 保持している場合はそれを残し（AuthenticatedWithProfileのまま）、それ以外は
// AuthenticatedNoProfileになる。
func (m *Manager) resolve(ctx context.Context, gen uint64, session *model.Session) {
	if session == nil {
		m.commit(gen, func(s *Snapshot) bool {
			resetSnapshot(s)
			return true
		})
		return
	}

	profile, err := m.profiles.GetProfile(ctx, session.User.ID)
	var appErr error
	if err != nil {
		appErr = classifyBackendError(err, "Failed to load your profile")
		m.logger.Warn("failed to resolve profile",
			slog.String("user_id", session.User.ID),
			slog.String("error", err.Error()),
		)
	}

	m.commit(gen, func(s *Snapshot) bool {
		keep := err != nil && s.Profile != nil && s.User != nil && s.User.ID == session.User.ID
		s.Session = session
		s.User = session.User.Clone()
		if !keep {
			applyProfile(s, profile)
		}
		s.LastError = appErr
		return true
	})
}

// beginTransition は新しい遷移の世代番号を発行する。
// 後から始まった遷移がある場合、古い遷移の結果は破棄される。
func (m *Manager) beginTransition() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	return m.gen
}

// commit は世代番号が最新の場合のみ状態を更新し、購読者へ配信する。
func (m *Manager) commit(gen uint64, mutate func(s *Snapshot) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		m.logger.Debug("discarding superseded session transition")
		return false
	}
	prev := m.current.State
	if !mutate(&m.current) {
		return false
	}
	m.current.Loading = false

	if prev != m.current.State {
		m.logger.Info("session state changed",
			slog.String("from", string(prev)),
			slog.String("to", string(m.current.State)),
		)
		if m.observer != nil {
			m.observer.RecordSessionTransition(string(m.current.State))
		}
	}
	m.publishLocked()
	return true
}

// publishLocked は購読者へ最新のスナップショットを配信する。m.muを保持して呼び出すこと。
// バッファが埋まっている購読者は最も古い値を捨てて受け取る。
func (m *Manager) publishLocked() {
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:     m.current.State,
		Session:   m.current.Session.Clone(),
		User:      m.current.User.Clone(),
		Profile:   m.current.Profile.Clone(),
		Loading:   m.current.Loading,
		LastError: m.current.LastError,
	}
}

func (m *Manager) requireStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlisten == nil {
		return ErrNotStarted
	}
	return nil
}

func resetSnapshot(s *Snapshot) {
	s.State = StateUnauthenticated
	s.Session = nil
	s.User = nil
	s.Profile = nil
	s.LastError = nil
}

func applyProfile(s *Snapshot, profile *model.Profile) {
	s.Profile = profile
	if profile == nil {
		s.State = StateAuthenticatedNoProfile
	} else {
		s.State = StateAuthenticatedWithProfile
	}
}

// classifySignInError はログイン失敗をユーザー向けエラーに変換する。
func classifySignInError(err error) error {
	var apiErr *supabase.Error
	if errors.As(err, &apiErr) && !supabase.IsUnavailable(err) {
		if apiErr.Message == "Invalid login credentials" || apiErr.Code == "invalid_credentials" {
			return model.NewInvalidCredentialsError(err)
		}
	}
	return classifyBackendError(err, "An unexpected error occurred during sign in")
}

// classifySignUpError はサインアップ失敗をユーザー向けエラーに変換する。
func classifySignUpError(err error) error {
	var apiErr *supabase.Error
	if errors.As(err, &apiErr) && !supabase.IsUnavailable(err) {
		if strings.Contains(apiErr.Message, "already registered") || apiErr.Code == "user_already_exists" {
			return model.NewEmailAlreadyRegisteredError(err)
		}
	}
	return classifyBackendError(err, "An unexpected error occurred during signup")
}

// classifyBackendError はバックエンドのエラーを分類する。
// 到達不能はTransport、バックエンドが拒否した認証操作はAuth、それ以外はUnknownになる。
func classifyBackendError(err error, fallback string) error {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if supabase.IsUnavailable(err) {
		return model.NewTransportError("Unable to reach the server. Please check your connection.", err)
	}
	var apiErr *supabase.Error
	if errors.As(err, &apiErr) {
		return model.NewAuthError(apiErr.Message, err)
	}
	return model.NewUnknownError(fallback, err)
}
