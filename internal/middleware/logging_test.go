package middleware

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// serveAndLog はhandlerをロギングミドルウェアで包んで1リクエスト処理し、出力されたログ1行を返す。
func serveAndLog(t *testing.T, recorder StatusRecorder, inner http.Handler, req *http.Request) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLoggingMiddleware(logger, recorder)(inner).ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_StatusAndLevel(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusCreated, "INFO"},
		{http.StatusSeeOther, "INFO"},
		{http.StatusUnauthorized, "WARN"},
		{http.StatusUnprocessableEntity, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			entry := serveAndLog(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}), httptest.NewRequest(http.MethodPost, "/api/v1/statuses", nil))

			if entry["msg"] != "http_request" || entry["method"] != "POST" || entry["path"] != "/api/v1/statuses" {
				t.Errorf("entry = %v", entry)
			}
			if got := int(entry["status"].(float64)); got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
				t.Errorf("duration_ms = %v", entry["duration_ms"])
			}
		})
	}
}

func TestLoggingMiddleware_ImplicitOKOnWrite(t *testing.T) {
	entry := serveAndLog(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}), httptest.NewRequest(http.MethodGet, "/login", nil))

	if got := int(entry["status"].(float64)); got != http.StatusOK {
		t.Errorf("status = %d, want 200", got)
	}
}

func TestLoggingMiddleware_TenantAndUserFromInnerMiddlewares(t *testing.T) {
	resolver := &mockTenantResolver{
		resolveFn: func(ctx context.Context, host string) (*sql.DB, error) { return nil, nil },
	}
	// Tenant・Sessionミドルウェアはログ出力より内側で実行される
	inner := NewTenantMiddleware(resolver)(NewSessionMiddleware(sessionStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/content", nil)
	req.Host = "Social.Example:8080"
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	rec := &countingStatusRecorder{}
	entry := serveAndLog(t, rec, inner, req)

	if entry["tenant"] != "social.example" {
		t.Errorf("tenant = %v, want social.example", entry["tenant"])
	}
	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want user-123", entry["user_id"])
	}
	if len(rec.codes) != 1 || rec.codes[0] != http.StatusCreated {
		t.Errorf("recorded codes = %v, want [201]", rec.codes)
	}
}

func TestLoggingMiddleware_AnonymousRequestOmitsUserAndTenant(t *testing.T) {
	entry := serveAndLog(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		httptest.NewRequest(http.MethodGet, "/health_check", nil))

	if _, ok := entry["user_id"]; ok {
		t.Errorf("user_id should be omitted, got %v", entry["user_id"])
	}
	if _, ok := entry["tenant"]; ok {
		t.Errorf("tenant should be omitted, got %v", entry["tenant"])
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	w := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: w}
	if sr.Unwrap() != w {
		t.Error("Unwrap should return the wrapped writer")
	}
}

type countingStatusRecorder struct {
	codes []int
}

func (c *countingStatusRecorder) RecordHTTPStatus(code int) {
	c.codes = append(c.codes, code)
}
