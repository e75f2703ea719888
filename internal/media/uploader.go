// Package media は画像の読み込み、JPEGへの正規化、オブジェクトストレージへのアップロードを提供する。
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/security"
	"github.com/hitoshi/volunteerhub/internal/storage"
)

// 画像正規化のパラメータ。
const (
	jpegQuality  = 80
	maxDimension = 1600
)

// DefaultMaxImageSize は読み込む画像の既定の最大サイズ（10MB）。
const DefaultMaxImageSize = 10 * 1024 * 1024

// fetchTimeout はリモート画像取得のタイムアウト。
const fetchTimeout = 15 * time.Second

// 既定のバケット名。
const (
	AvatarBucket     = "avatars"
	EventImageBucket = "event-images"
)

// SizeObserver はアップロードした画像のサイズを観測するインターフェース。
type SizeObserver interface {
	RecordImageUpload(bucket string, size int)
}

// Uploader は画像をJPEGに正規化してオブジェクトストレージへアップロードする。
type Uploader struct {
	bucket   string
	store    storage.ObjectStorage
	guard    security.SSRFGuardService
	client   *http.Client
	maxSize  int64
	observer SizeObserver
	logger   *slog.Logger
}

// Option はUploaderの設定オプション。
type Option func(*Uploader)

// WithMaxSize は読み込む画像の最大サイズを設定する。
func WithMaxSize(n int64) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.maxSize = n
		}
	}
}

// WithHTTPClient はリモート画像の取得に使うHTTPクライアントを差し替える。
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) { u.client = c }
}

// WithObserver はアップロードサイズの観測者を設定する。
func WithObserver(o SizeObserver) Option {
	return func(u *Uploader) { u.observer = o }
}

// NewUploader はUploaderを生成する。bucketはメトリクスとログのラベルに使用する。
func NewUploader(bucket string, store storage.ObjectStorage, guard security.SSRFGuardService, logger *slog.Logger, opts ...Option) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	u := &Uploader{
		bucket:  bucket,
		store:   store,
		guard:   guard,
		maxSize: DefaultMaxImageSize,
		logger:  logger,
	}
	if guard != nil {
		u.client = guard.NewSafeClient(fetchTimeout)
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.client == nil {
		u.client = &http.Client{Timeout: fetchTimeout}
	}
	return u
}

// UploadImage はsourceの画像を読み込み、JPEGに正規化してpathへアップロードし、公開URLを返す。
// sourceはローカルファイルのパス、file:// URI、またはhttp(s)のURL。
func (u *Uploader) UploadImage(ctx context.Context, source, path string) (string, error) {
	// 1. 読み込み
	data, err := u.load(ctx, source)
	if err != nil {
		return "", err
	}
	return u.upload(ctx, data, path)
}

// UploadReader はrから読み込んだ画像をJPEGに正規化してpathへアップロードし、公開URLを返す。
// マルチパートで受け取った画像など、呼び出し側が本体を持っている場合に使用する。
func (u *Uploader) UploadReader(ctx context.Context, r io.Reader, path string) (string, error) {
	data, err := u.readLimited(r)
	if err != nil {
		return "", err
	}
	return u.upload(ctx, data, path)
}

func (u *Uploader) upload(ctx context.Context, data []byte, path string) (string, error) {
	// 2. 正規化
	jpeg, err := Normalize(data)
	if err != nil {
		return "", model.NewInvalidFieldError("image", "the file is not a supported image")
	}

	// 3. アップロード
	if err := u.store.Upload(ctx, path, bytes.NewReader(jpeg), int64(len(jpeg)), "image/jpeg"); err != nil {
		return "", fmt.Errorf("failed to upload image to %s: %w", u.bucket, err)
	}
	if u.observer != nil {
		u.observer.RecordImageUpload(u.bucket, len(jpeg))
	}

	u.logger.Info("image uploaded",
		slog.String("bucket", u.bucket),
		slog.String("path", path),
		slog.Int("size", len(jpeg)),
	)
	return u.store.PublicURL(path), nil
}

// Remove はpathのオブジェクトを削除する。
func (u *Uploader) Remove(ctx context.Context, path string) error {
	if err := u.store.Remove(ctx, path); err != nil {
		return fmt.Errorf("failed to remove image from %s: %w", u.bucket, err)
	}
	u.logger.Info("image removed",
		slog.String("bucket", u.bucket),
		slog.String("path", path),
	)
	return nil
}

// PathOf はこのバケットの公開URLからオブジェクトのパスを取り出す。
// 別のバケットや外部サービス（OAuthのアバターなど）のURLはfalseを返す。
func (u *Uploader) PathOf(publicURL string) (string, bool) {
	path, ok := strings.CutPrefix(publicURL, u.store.PublicURL(""))
	if !ok || path == "" {
		return "", false
	}
	return path, true
}

// load はsourceの種類に応じて画像のバイト列を読み込む。
func (u *Uploader) load(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	parsed, err := url.Parse(source)
	if err == nil {
		switch strings.ToLower(parsed.Scheme) {
		case "http", "https":
			return u.fetch(ctx, source)
		case "file":
			return u.readFile(parsed.Path)
		}
	}
	return u.readFile(source)
}

// fetch はリモート画像を取得する。
func (u *Uploader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if u.guard != nil {
		if err := u.guard.ValidateURL(rawURL); err != nil {
			u.logger.Warn("image fetch blocked", slog.String("url", rawURL), slog.String("error", err.Error()))
			return nil, model.NewInvalidFieldError("image", "the image URL is not allowed")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidFieldError("image", "the image URL is invalid")
	}
	req.Header.Set("User-Agent", "VolunteerHub/1.0")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, model.NewTransportError("Unable to download the image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewInvalidFieldError("image", fmt.Sprintf("the image URL returned status %d", resp.StatusCode))
	}

	return u.readLimited(resp.Body)
}

// readFile はローカルファイルの画像を読み込む。
func (u *Uploader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.NewInvalidFieldError("image", "the image file could not be opened")
	}
	defer f.Close()
	return u.readLimited(f)
}

func (u *Uploader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxSize+1))
	if err != nil {
		return nil, model.NewTransportError("Unable to read the image", err)
	}
	if int64(len(data)) > u.maxSize {
		return nil, model.NewInvalidFieldError("image", fmt.Sprintf("the image exceeds %d bytes", u.maxSize))
	}
	return data, nil
}

// Normalize は画像をデコードし、長辺が上限を超える場合は縮小してJPEG（品質80）に再エンコードする。
// EXIFの向き情報は画素に反映される。
func Normalize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > maxDimension || b.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// EventImagePath はイベント画像の保存パス {unixMillis}.jpg を返す。
func EventImagePath(now time.Time) string {
	return fmt.Sprintf("%d.jpg", now.UnixMilli())
}

// AvatarPath はアバター画像の保存パス {userID}/{unixMillis}.jpg を返す。
func AvatarPath(userID string, now time.Time) string {
	return fmt.Sprintf("%s/%d.jpg", userID, now.UnixMilli())
}
