// Package storage は画像などのオブジェクトを保存するストレージを提供する。
// 既定はバックエンドのストレージAPI、設定によりS3互換エンドポイントを使用する。
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/hitoshi/volunteerhub/internal/supabase"
)

var (
	ErrUploadFailed = errors.New("upload failed")
	ErrDeleteFailed = errors.New("delete failed")
)

// ObjectStorage はオブジェクトストレージのインターフェース。
type ObjectStorage interface {
	// Upload はオブジェクトを保存する。同じパスのオブジェクトは上書きされる。
	// sizeが不明な場合は-1を渡す。
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	// PublicURL はオブジェクトの公開URLを返す。
	PublicURL(path string) string
	// Remove はオブジェクトを削除する。
	Remove(ctx context.Context, path string) error
}

// BackendStorage はバックエンドのストレージAPIを使用するObjectStorage。
type BackendStorage struct {
	bucket *supabase.Bucket
}

var _ ObjectStorage = (*BackendStorage)(nil)

// NewBackendStorage はバケットを指定してBackendStorageを生成する。
func NewBackendStorage(client *supabase.Client, bucket string) *BackendStorage {
	return &BackendStorage{bucket: client.Storage(bucket)}
}

// Upload はオブジェクトをupsertでアップロードする。
func (s *BackendStorage) Upload(ctx context.Context, path string, r io.Reader, _ int64, contentType string) error {
	return s.bucket.Upload(ctx, path, r, contentType, true)
}

// PublicURL は公開バケット内のオブジェクトURLを返す。
func (s *BackendStorage) PublicURL(path string) string {
	return s.bucket.PublicURL(path)
}

// Remove はオブジェクトを削除する。
func (s *BackendStorage) Remove(ctx context.Context, path string) error {
	return s.bucket.Remove(ctx, path)
}
