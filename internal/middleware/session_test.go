package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/rhodos/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// sessionStore は"valid-session-id"だけを有効なセッションとして返す。
// "broken"はリポジトリエラーになる。期限切れのセッションはリポジトリが返さない。
func sessionStore() *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			switch id {
			case "valid-session-id":
				return &model.Session{ID: id, UserID: "user-123", ExpiresAt: time.Now().Add(time.Hour)}, nil
			case "broken":
				return nil, errors.New("connection refused")
			}
			return nil, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddlewares_ValidSession_InjectsUserID(t *testing.T) {
	middlewares := map[string]func(http.Handler) http.Handler{
		"401":      NewSessionMiddleware(sessionStore()),
		"redirect": NewSessionRedirectMiddleware(sessionStore(), "/login"),
	}

	for name, mw := range middlewares {
		t.Run(name, func(t *testing.T) {
			var captured string
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured, _ = UserIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
			}
			if captured != "user-123" {
				t.Errorf("userID = %q, want %q", captured, "user-123")
			}
		})
	}
}

func TestSessionMiddlewares_Denied(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
	}{
		{"Cookieなし", ""},
		{"空のCookie", "-"},
		{"期限切れ・未知", "expired-session-id"},
		{"リポジトリエラー", "broken"},
	}

	for _, tt := range tests {
		newRequest := func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=abc", nil)
			switch tt.cookie {
			case "":
			case "-":
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: ""})
			default:
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			return req
		}
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		})

		t.Run(tt.name+"/401", func(t *testing.T) {
			w := httptest.NewRecorder()
			NewSessionMiddleware(sessionStore())(next).ServeHTTP(w, newRequest())

			if w.Result().StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
			}
		})

		t.Run(tt.name+"/redirect", func(t *testing.T) {
			w := httptest.NewRecorder()
			NewSessionRedirectMiddleware(sessionStore(), "/login")(next).ServeHTTP(w, newRequest())

			resp := w.Result()
			if resp.StatusCode != http.StatusSeeOther {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
			}
			if got, want := resp.Header.Get("Location"), "/login?next=%2Foauth%2Fauthorize%3Fclient_id%3Dabc"; got != want {
				t.Errorf("Location = %q, want %q", got, want)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for missing user ID")
	}

	got, err := UserIDFromContext(ContextWithUserID(context.Background(), "user-456"))
	if err != nil || got != "user-456" {
		t.Errorf("UserIDFromContext() = %q, %v; want user-456", got, err)
	}
}
