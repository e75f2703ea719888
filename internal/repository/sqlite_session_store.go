package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// SQLiteSessionStore はローカルSQLiteにセッションを1行だけ保持するセッションストア。
// プロセス再起動後のログイン状態復元に使用する。
type SQLiteSessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSessionStore はSQLiteSessionStoreを生成する。
// dbにはマイグレーション適用済みの接続を渡すこと。
func NewSQLiteSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db, now: time.Now}
}

// Load は保存済みセッションを取得する。見つからない場合はnilを返す。
func (s *SQLiteSessionStore) Load(ctx context.Context) (*model.Session, error) {
	var (
		session       model.Session
		expiresAt     int64
		metadataJSON  string
		userCreatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at,
		        user_id, user_email, user_metadata, user_created_at
		 FROM sessions WHERE id = 1`,
	).Scan(
		&session.AccessToken, &session.RefreshToken, &session.TokenType, &expiresAt,
		&session.User.ID, &session.User.Email, &metadataJSON, &userCreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if expiresAt > 0 {
		session.ExpiresAt = time.Unix(expiresAt, 0)
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &session.User.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode user metadata: %w", err)
		}
	}
	if userCreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, userCreatedAt); err == nil {
			session.User.CreatedAt = t
		}
	}
	return &session, nil
}

// Save はセッションを保存する。既存の行は上書きする。
func (s *SQLiteSessionStore) Save(ctx context.Context, session *model.Session) error {
	if session == nil {
		return s.Clear(ctx)
	}

	metadata := session.User.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode user metadata: %w", err)
	}

	var expiresAt int64
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt.Unix()
	}
	var userCreatedAt string
	if !session.User.CreatedAt.IsZero() {
		userCreatedAt = session.User.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, access_token, refresh_token, token_type, expires_at,
		                       user_id, user_email, user_metadata, user_created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     access_token = excluded.access_token,
		     refresh_token = excluded.refresh_token,
		     token_type = excluded.token_type,
		     expires_at = excluded.expires_at,
		     user_id = excluded.user_id,
		     user_email = excluded.user_email,
		     user_metadata = excluded.user_metadata,
		     user_created_at = excluded.user_created_at,
		     updated_at = excluded.updated_at`,
		session.AccessToken, session.RefreshToken, session.TokenType, expiresAt,
		session.User.ID, session.User.Email, string(metadataJSON), userCreatedAt,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear は保存済みセッションを削除する。
func (s *SQLiteSessionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*SQLiteSessionStore)(nil)
