package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/volunteerhub/internal/model"
)

// multipartOverhead はマルチパートの境界やヘッダーのために画像上限へ上乗せするバイト数。
const multipartOverhead = 64 * 1024

// imageInput はアップロードする画像。fileとsourceのどちらか一方が設定される。
type imageInput struct {
	file   io.ReadCloser
	source string
}

// Close はマルチパートのファイルを閉じる。
func (in imageInput) Close() {
	if in.file != nil {
		in.file.Close()
	}
}

type imageSourceRequest struct {
	Source string `json:"source"`
}

// readImageInput は multipart/form-data の image フィールド、
// またはJSONボディの source（http(s)のURL）から画像を受け取る。
// サーバー上のファイルパスは受け付けない。
func readImageInput(w http.ResponseWriter, r *http.Request, maxSize int64) (imageInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return readMultipartImage(w, r, maxSize)
	}

	var req imageSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return imageInput{}, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return imageInput{}, model.NewMissingFieldsError("source")
	}
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return imageInput{}, model.NewInvalidFieldError("source", "the image source must be an http(s) URL")
	}
	return imageInput{source: source}, nil
}

func readMultipartImage(w http.ResponseWriter, r *http.Request, maxSize int64) (imageInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return imageInput{}, model.NewInvalidFieldError("image", "the image is too large")
		}
		return imageInput{}, model.NewInvalidFieldError("image", "the upload could not be read")
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return imageInput{}, model.NewMissingFieldsError("image")
	}
	return imageInput{file: file}, nil
}
