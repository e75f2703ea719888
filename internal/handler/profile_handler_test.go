package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/volunteerhub/internal/model"
	"github.com/hitoshi/volunteerhub/internal/session"
)

func strPtr(s string) *string { return &s }

// multipartImageRequest はimageフィールドにdataを持つマルチパートリクエストを生成する。
func multipartImageRequest(t *testing.T, method, path, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile がエラーを返した: %v", err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestProfileHandler_CreateProfile(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedNoProfile)}
	var got model.ProfileInput
	sessions.completeProfileFn = func(ctx context.Context, input model.ProfileInput) (*model.Profile, error) {
		got = input
		return &model.Profile{ID: "user-1", FullName: *input.FullName, Bio: input.Bio}, nil
	}
	router := NewRouter(testDeps(t, sessions))

	w := doJSON(t, router, http.MethodPost, "/api/profile", map[string]string{
		"full_name": "Jane Doe",
		"bio":       "Loves beaches",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if got.FullName == nil || *got.FullName != "Jane Doe" {
		t.Errorf("full_name = %v, want Jane Doe", got.FullName)
	}
	if got.AvatarURL != nil {
		t.Errorf("avatar_url = %v, want nil", *got.AvatarURL)
	}
	resp := decodeBody[profileResponse](t, w)
	if resp.AvatarURL != model.PlaceholderAvatarURL {
		t.Errorf("avatar_url = %q, want placeholder", resp.AvatarURL)
	}
	if resp.Bio == nil || *resp.Bio != "Loves beaches" {
		t.Errorf("bio = %v, want Loves beaches", resp.Bio)
	}
}

func TestProfileHandler_CreateProfile_RequiresSignIn(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateUnauthenticated)}
	router := NewRouter(testDeps(t, sessions))

	w := doJSON(t, router, http.MethodPost, "/api/profile", map[string]string{"full_name": "Jane"})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestProfileHandler_GetProfile(t *testing.T) {
	t.Run("成功", func(t *testing.T) {
		sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
		deps := testDeps(t, sessions)
		deps.Profiles = &mockProfileService{
			getProfileFn: func(ctx context.Context, userID string) (*model.Profile, error) {
				if userID != "user-1" {
					t.Errorf("userID = %q, want user-1", userID)
				}
				return &model.Profile{ID: userID, FullName: "Jane Doe", AvatarURL: strPtr("https://cdn.example.com/a.png"), EventsJoined: 4}, nil
			},
		}
		router := NewRouter(deps)

		w := doJSON(t, router, http.MethodGet, "/api/profile", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		resp := decodeBody[profileResponse](t, w)
		if resp.AvatarURL != "https://cdn.example.com/a.png" || resp.EventsJoined != 4 {
			t.Errorf("レスポンス = %+v", resp)
		}
	})

	t.Run("存在しない", func(t *testing.T) {
		sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
		deps := testDeps(t, sessions)
		deps.Profiles = &mockProfileService{
			getProfileFn: func(ctx context.Context, userID string) (*model.Profile, error) {
				return nil, nil
			},
		}
		router := NewRouter(deps)

		w := doJSON(t, router, http.MethodGet, "/api/profile", nil)

		if w.Code != http.StatusNotFound {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if code := errorCode(t, w); code != model.ErrCodeProfileNotFound {
			t.Errorf("code = %q, want %q", code, model.ErrCodeProfileNotFound)
		}
	})

	t.Run("プロフィール未作成のセッション", func(t *testing.T) {
		sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedNoProfile)}
		router := NewRouter(testDeps(t, sessions))

		w := doJSON(t, router, http.MethodGet, "/api/profile", nil)

		if w.Code != http.StatusForbidden {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

func TestProfileHandler_UpdateProfile(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	var got model.ProfileInput
	deps := testDeps(t, sessions)
	deps.Profiles = &mockProfileService{
		updateProfileFn: func(ctx context.Context, userID string, input model.ProfileInput) (*model.Profile, error) {
			got = input
			return &model.Profile{ID: userID, FullName: "Jane Doe", Bio: input.Bio}, nil
		},
	}
	router := NewRouter(deps)

	w := doJSON(t, router, http.MethodPatch, "/api/profile", map[string]string{"bio": "Updated"})

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if got.FullName != nil {
		t.Errorf("省略した full_name が設定された: %q", *got.FullName)
	}
	if got.Bio == nil || *got.Bio != "Updated" {
		t.Errorf("bio = %v, want Updated", got.Bio)
	}
	if sessions.refreshCalls != 1 {
		t.Errorf("RefreshProfile の呼び出し回数 = %d, want 1", sessions.refreshCalls)
	}
}

func TestProfileHandler_UpdateProfile_RefreshFailureIsIgnored(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	sessions.refreshProfileFn = func(ctx context.Context) error {
		return model.NewTransportError("Unable to reach the server. Please check your connection.", nil)
	}
	deps := testDeps(t, sessions)
	deps.Profiles = &mockProfileService{
		updateProfileFn: func(ctx context.Context, userID string, input model.ProfileInput) (*model.Profile, error) {
			return &model.Profile{ID: userID, FullName: *input.FullName}, nil
		},
	}
	router := NewRouter(deps)

	w := doJSON(t, router, http.MethodPatch, "/api/profile", map[string]string{"full_name": "Jane D."})

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestProfileHandler_UploadAvatar_Multipart(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	var gotData []byte
	deps := testDeps(t, sessions)
	deps.Profiles = &mockProfileService{
		uploadAvatarDataFn: func(ctx context.Context, userID string, r io.Reader) (*model.Profile, error) {
			data, err := io.ReadAll(r)
			if err != nil {
				return nil, err
			}
			gotData = data
			return &model.Profile{ID: userID, AvatarURL: strPtr("https://cdn.example.com/avatars/user-1.png")}, nil
		},
	}
	router := NewRouter(deps)

	req := multipartImageRequest(t, http.MethodPost, "/api/profile/avatar", "image", []byte("png-bytes"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if string(gotData) != "png-bytes" {
		t.Errorf("アップロードされたデータ = %q, want %q", gotData, "png-bytes")
	}
	resp := decodeBody[profileResponse](t, w)
	if resp.AvatarURL != "https://cdn.example.com/avatars/user-1.png" {
		t.Errorf("avatar_url = %q", resp.AvatarURL)
	}
	if sessions.refreshCalls != 1 {
		t.Errorf("RefreshProfile の呼び出し回数 = %d, want 1", sessions.refreshCalls)
	}
}

func TestProfileHandler_UploadAvatar_Source(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	var gotSource string
	deps := testDeps(t, sessions)
	deps.Profiles = &mockProfileService{
		uploadAvatarFn: func(ctx context.Context, userID, source string) (*model.Profile, error) {
			gotSource = source
			return &model.Profile{ID: userID}, nil
		},
	}
	router := NewRouter(deps)

	w := doJSON(t, router, http.MethodPost, "/api/profile/avatar", map[string]string{
		"source": "https://images.example.com/me.jpg",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if gotSource != "https://images.example.com/me.jpg" {
		t.Errorf("source = %q", gotSource)
	}
}

func TestProfileHandler_UploadAvatar_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]string
		wantCode string
	}{
		{"sourceなし", map[string]string{"source": " "}, model.ErrCodeMissingFields},
		{"サーバー上のパス", map[string]string{"source": "/etc/passwd"}, model.ErrCodeInvalidField},
		{"file URL", map[string]string{"source": "file:///etc/passwd"}, model.ErrCodeInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
			deps := testDeps(t, sessions)
			deps.Profiles = &mockProfileService{
				uploadAvatarFn: func(ctx context.Context, userID, source string) (*model.Profile, error) {
					t.Errorf("UploadAvatar が呼ばれた: %q", source)
					return nil, nil
				},
			}
			router := NewRouter(deps)

			w := doJSON(t, router, http.MethodPost, "/api/profile/avatar", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestProfileHandler_UploadAvatar_MissingFile(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	router := NewRouter(testDeps(t, sessions))

	req := multipartImageRequest(t, http.MethodPost, "/api/profile/avatar", "other", []byte("data"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := errorCode(t, w); code != model.ErrCodeMissingFields {
		t.Errorf("code = %q, want %q", code, model.ErrCodeMissingFields)
	}
}

func TestProfileHandler_UploadAvatar_TooLarge(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	deps := testDeps(t, sessions)
	deps.MaxImageSize = 1024
	router := NewRouter(deps)

	req := multipartImageRequest(t, http.MethodPost, "/api/profile/avatar", "image", bytes.Repeat([]byte("x"), 1024+multipartOverhead+1))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := errorCode(t, w); code != model.ErrCodeInvalidField {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidField)
	}
}

func TestProfileHandler_UploadAvatar_ServiceError(t *testing.T) {
	sessions := &mockSessionService{snap: userSnapshot(session.StateAuthenticatedWithProfile)}
	reporter := &recordingReporter{}
	deps := testDeps(t, sessions)
	deps.Reporter = reporter
	deps.Profiles = &mockProfileService{
		uploadAvatarFn: func(ctx context.Context, userID, source string) (*model.Profile, error) {
			return nil, model.NewUnknownError("Failed to upload image. Please try again.", errors.New("s3: access denied"))
		},
	}
	router := NewRouter(deps)

	w := doJSON(t, router, http.MethodPost, "/api/profile/avatar", map[string]string{
		"source": "https://images.example.com/me.jpg",
	})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if n := len(reporter.reported()); n != 1 {
		t.Errorf("報告件数 = %d, want 1", n)
	}
	if sessions.refreshCalls != 0 {
		t.Errorf("失敗時に RefreshProfile が呼ばれた: %d 回", sessions.refreshCalls)
	}
}
