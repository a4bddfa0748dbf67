package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/rhodos/internal/model"
)

func decodeErrorBody(t *testing.T, resp *http.Response) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *model.APIError
	}{
		{"検証エラー", http.StatusBadRequest, model.NewValidationError("email is required")},
		{"スコープ不足", http.StatusForbidden, model.NewInsufficientScopeError("write:statuses")},
		{"文字数超過", http.StatusUnprocessableEntity, model.NewContentTooLongError(500)},
		{"重複", http.StatusConflict, model.NewDuplicateEmailError()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, tt.err)

			resp := w.Result()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}

			body := decodeErrorBody(t, resp)
			want := ErrorResponseBody{Code: tt.err.Code, Message: tt.err.Message, Category: tt.err.Category, Action: tt.err.Action}
			if body != want {
				t.Errorf("body = %+v, want %+v", body, want)
			}
		})
	}
}

func TestWriteUnauthorized(t *testing.T) {
	tests := []struct {
		name      string
		challenge string
	}{
		{"チャレンジなし", ""},
		{"Bearerチャレンジ", bearerChallenge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteUnauthorized(w, tt.challenge)

			resp := w.Result()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
			}
			if got := resp.Header.Get("WWW-Authenticate"); got != tt.challenge {
				t.Errorf("WWW-Authenticate = %q, want %q", got, tt.challenge)
			}
			if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeAuthentication {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAuthentication)
			}
		})
	}
}

func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	body := decodeErrorBody(t, resp)
	if body.Code != "INTERNAL_ERROR" || body.Category != model.CategorySystem || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}
