package supabase

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Bucket はオブジェクトストレージのバケット操作を提供する。
type Bucket struct {
	client *Client
	name   string
}

// Storage はバケットを指定してストレージ操作を開始する。
func (c *Client) Storage(bucket string) *Bucket {
	return &Bucket{client: c, name: bucket}
}

// Upload はオブジェクトをアップロードする。
// upsertがtrueの場合、同じパスの既存オブジェクトを上書きする。
func (b *Bucket) Upload(ctx context.Context, path string, r io.Reader, contentType string, upsert bool) error {
	token, err := b.client.accessToken(ctx)
	if err != nil {
		return err
	}
	return b.client.send(ctx, request{
		op:     "storage.upload",
		method: http.MethodPost,
		path:   b.objectPath(path),
		body:   r,
		headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "3600",
			"x-upsert":      strconv.FormatBool(upsert),
		},
		bearer: token,
	}, nil)
}

// PublicURL は公開バケット内オブジェクトのURLを返す。
func (b *Bucket) PublicURL(path string) string {
	return b.client.baseURL + "/storage/v1/object/public/" + b.name + "/" + strings.TrimLeft(path, "/")
}

// Remove は指定したパスのオブジェクトを削除する。
func (b *Bucket) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	token, err := b.client.accessToken(ctx)
	if err != nil {
		return err
	}
	body, err := jsonBody(map[string][]string{"prefixes": paths})
	if err != nil {
		return err
	}
	return b.client.send(ctx, request{
		op:     "storage.remove",
		method: http.MethodDelete,
		path:   "/storage/v1/object/" + b.name,
		body:   body,
		bearer: token,
	}, nil)
}

func (b *Bucket) objectPath(path string) string {
	return "/storage/v1/object/" + b.name + "/" + strings.TrimLeft(path, "/")
}
