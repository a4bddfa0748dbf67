package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/rhodos/internal/middleware"
	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/oauth"
	"github.com/hitoshi/rhodos/internal/scope"
)

// --- モック定義 ---

type mockContentService struct {
	postFn func(ctx context.Context, userID, text, cw string) (*model.Status, error)
}

func (m *mockContentService) Post(ctx context.Context, userID, text, cw string) (*model.Status, error) {
	if m.postFn != nil {
		return m.postFn(ctx, userID, text, cw)
	}
	return &model.Status{ID: "st-1", Body: text, CW: cw, Published: true, PublishedAt: time.Now()}, nil
}

type mockTokenVerifier struct {
	verifyFn func(raw, tenant string) (*oauth.AccessToken, error)
}

func (m *mockTokenVerifier) VerifyAccessToken(raw, tenant string) (*oauth.AccessToken, error) {
	if m.verifyFn != nil {
		return m.verifyFn(raw, tenant)
	}
	return nil, errors.New("invalid token")
}

// --- POST /content テスト ---

func TestContentHandler_Post_Success(t *testing.T) {
	svc := &mockContentService{
		postFn: func(ctx context.Context, userID, text, cw string) (*model.Status, error) {
			if userID != "u1" || text != "hello" || cw != "spoiler" {
				t.Errorf("Post(%q, %q, %q)", userID, text, cw)
			}
			return &model.Status{ID: "st-1", Body: "hello", CW: "spoiler", PublishedAt: time.Now()}, nil
		},
	}
	h := NewContentHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/content",
		strings.NewReader(`{"content":{"text":"hello","cw":"spoiler"}}`))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, "u1")
	w := httptest.NewRecorder()
	h.Post(w, req)

	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
	var body statusResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "st-1" || body.Content != "hello" || body.SpoilerText != "spoiler" {
		t.Errorf("body = %+v", body)
	}
}

func TestContentHandler_Post_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"空の本文", model.NewValidationError("empty"), http.StatusBadRequest},
		{"長すぎる本文", model.NewContentTooLongError(500), http.StatusUnprocessableEntity},
		{"アカウントなし", model.NewAccountMissingError(), http.StatusUnprocessableEntity},
		{"内部エラー", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockContentService{
				postFn: func(ctx context.Context, userID, text, cw string) (*model.Status, error) {
					return nil, tt.err
				},
			}
			h := NewContentHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/content", strings.NewReader(`{"content":{"text":"x"}}`))
			req = withUserID(req, "u1")
			w := httptest.NewRecorder()
			h.Post(w, req)

			if w.Result().StatusCode != tt.want {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.want)
			}
		})
	}
}

func TestContentHandler_Post_MalformedBody_Returns400(t *testing.T) {
	h := NewContentHandler(&mockContentService{})

	req := httptest.NewRequest(http.MethodPost, "/content", strings.NewReader(`not json`))
	req = withUserID(req, "u1")
	w := httptest.NewRecorder()
	h.Post(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestContentHandler_Post_NoUserID_Returns401(t *testing.T) {
	h := NewContentHandler(&mockContentService{})

	w := httptest.NewRecorder()
	h.Post(w, httptest.NewRequest(http.MethodPost, "/content", strings.NewReader(`{}`)))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- POST /api/v1/statuses テスト ---

func TestContentHandler_PostStatus_UsesTokenOwner(t *testing.T) {
	var gotUser, gotText, gotCW string
	svc := &mockContentService{
		postFn: func(ctx context.Context, userID, text, cw string) (*model.Status, error) {
			gotUser, gotText, gotCW = userID, text, cw
			return &model.Status{ID: "st-9", Body: text, CW: cw}, nil
		},
	}
	verifier := &mockTokenVerifier{
		verifyFn: func(raw, tenant string) (*oauth.AccessToken, error) {
			return &oauth.AccessToken{UserID: "u42", Scope: scope.New("write:statuses")}, nil
		},
	}
	h := NewContentHandler(svc)
	handler := middleware.NewBearerMiddleware(verifier, "write:statuses")(http.HandlerFunc(h.PostStatus))

	req := formRequest(http.MethodPost, "/api/v1/statuses", url.Values{
		"status":       {"from api"},
		"spoiler_text": {"cw"},
	})
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
	if gotUser != "u42" || gotText != "from api" || gotCW != "cw" {
		t.Errorf("Post(%q, %q, %q)", gotUser, gotText, gotCW)
	}
}

func TestContentHandler_PostStatus_NoToken_Returns401(t *testing.T) {
	h := NewContentHandler(&mockContentService{})

	w := httptest.NewRecorder()
	h.PostStatus(w, formRequest(http.MethodPost, "/api/v1/statuses", url.Values{"status": {"x"}}))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
