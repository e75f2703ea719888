package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// TokenStore はセッションの永続化先を抽象化するインターフェース。
// プロセス再起動後もログイン状態を復元するために使用する。
type TokenStore interface {
	// Load は保存済みセッションを返す。存在しない場合はnil, nilを返す。
	Load(ctx context.Context) (*model.Session, error)
	// Save はセッションを保存する。既存のセッションは上書きされる。
	Save(ctx context.Context, session *model.Session) error
	// Clear は保存済みセッションを削除する。
	Clear(ctx context.Context) error
}

// MemoryTokenStore はプロセス内メモリにセッションを保持するTokenStore。
type MemoryTokenStore struct {
	mu      sync.Mutex
	session *model.Session
}

// NewMemoryTokenStore はMemoryTokenStoreを生成する。
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

var _ TokenStore = (*MemoryTokenStore)(nil)

// Load は保持中のセッションのコピーを返す。
func (s *MemoryTokenStore) Load(_ context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone(), nil
}

// Save はセッションのコピーを保持する。
func (s *MemoryTokenStore) Save(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session.Clone()
	return nil
}

// Clear は保持中のセッションを破棄する。
func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// tokenExpiry はアクセストークン（JWT）のexpクレームから有効期限を取得する。
// 署名検証は行わない。トークンの検証はバックエンドの責務。
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("access token has no exp claim")
	}
	return exp.Time, nil
}
