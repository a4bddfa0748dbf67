package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/rhodos/internal/scope"
)

const testTenant = "social.example"

// --- モック定義 ---

type mockGrantRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (m *mockGrantRecorder) RecordTokenGrant(grantType, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = make(map[string]int)
	}
	m.results[grantType+"/"+result]++
}

type engineFixture struct {
	engine   *Engine
	reg      *Registration
	grants   *MemoryGrantStore
	recorder *mockGrantRecorder
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	r, _, _ := newTestRegistrar(t)
	reg := register(t, r, "https://app.example/callback", "read write")
	grants := NewMemoryGrantStore()
	recorder := &mockGrantRecorder{}
	engine := NewEngine(
		r,
		NewConsentSolicitor(r, newMemAuthz(), nil),
		grants,
		NewTokenIssuer([]byte("test-signing-key"), 2*time.Hour),
		recorder,
		EngineConfig{},
	)
	return &engineFixture{engine: engine, reg: reg, grants: grants, recorder: recorder}
}

func (f *engineFixture) authorizeRequest(scopes string) AuthorizeRequest {
	return AuthorizeRequest{
		Tenant:       testTenant,
		UserID:       "user-1",
		ResponseType: "code",
		ClientID:     f.reg.ClientID,
		RedirectURI:  "https://app.example/callback",
		Scope:        scopes,
		State:        "state-123",
	}
}

// obtainCode は同意を経て認可コードを取得する。
func (f *engineFixture) obtainCode(t *testing.T, scopes string) string {
	t.Helper()
	res, err := f.engine.Authorize(context.Background(), f.authorizeRequest(scopes), DecisionAllow)
	if err != nil {
		t.Fatalf("Authorize(allow) error = %v", err)
	}
	u, err := url.Parse(res.Redirect)
	if err != nil {
		t.Fatalf("invalid redirect %q: %v", res.Redirect, err)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect %q has no code", res.Redirect)
	}
	return code
}

func (f *engineFixture) exchange(code string) (*TokenResponse, error) {
	return f.engine.Token(context.Background(), TokenRequest{
		Tenant:       testTenant,
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example/callback",
		ClientID:     f.reg.ClientID,
		ClientSecret: f.reg.ClientSecret,
	})
}

func assertOAuthError(t *testing.T, err error, code string) {
	t.Helper()
	var oe *Error
	if !errors.As(err, &oe) {
		t.Fatalf("error = %v, want *oauth.Error with %s", err, code)
	}
	if oe.Code != code {
		t.Errorf("error code = %q, want %q", oe.Code, code)
	}
}

// --- テスト ---

func TestAuthorize_PromptsThenRedirectsWithCode(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	res, err := f.engine.Authorize(ctx, f.authorizeRequest("read"), DecisionNone)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if res.Prompt == nil {
		t.Fatal("first authorization should render a prompt")
	}
	if res.Prompt.ClientName != "Test App" {
		t.Errorf("Prompt.ClientName = %q", res.Prompt.ClientName)
	}

	res, err = f.engine.Authorize(ctx, f.authorizeRequest("read"), DecisionAllow)
	if err != nil {
		t.Fatalf("Authorize(allow) error = %v", err)
	}
	u, _ := url.Parse(res.Redirect)
	if u.Host != "app.example" || u.Path != "/callback" {
		t.Errorf("redirect = %q", res.Redirect)
	}
	if u.Query().Get("state") != "state-123" {
		t.Errorf("state = %q, want state-123", u.Query().Get("state"))
	}
	if len(u.Query().Get("code")) != authCodeLength {
		t.Errorf("code = %q", u.Query().Get("code"))
	}

	// 既に許可済みのスコープは画面を出さずにコードを発行する
	res, err = f.engine.Authorize(ctx, f.authorizeRequest("read"), DecisionNone)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if res.Prompt != nil || res.Code == "" {
		t.Errorf("already authorized request = %+v, want immediate code", res)
	}
}

func TestAuthorize_DenyRedirectsWithAccessDenied(t *testing.T) {
	f := newEngineFixture(t)

	res, err := f.engine.Authorize(context.Background(), f.authorizeRequest("read"), DecisionDeny)
	if err != nil {
		t.Fatalf("Authorize(deny) error = %v", err)
	}
	u, _ := url.Parse(res.Redirect)
	if u.Query().Get("error") != CodeAccessDenied {
		t.Errorf("redirect = %q, want error=access_denied", res.Redirect)
	}
	if u.Query().Get("code") != "" {
		t.Error("denied redirect must not carry a code")
	}
}

func TestAuthorize_InvalidRequests(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	unknown := f.authorizeRequest("read")
	unknown.ClientID = "unknown"
	_, err := f.engine.Authorize(ctx, unknown, DecisionNone)
	assertOAuthError(t, err, CodeInvalidRequest)

	mismatch := f.authorizeRequest("read")
	mismatch.RedirectURI = "https://evil.example/callback"
	_, err = f.engine.Authorize(ctx, mismatch, DecisionAllow)
	assertOAuthError(t, err, CodeInvalidRequest)

	missing := f.authorizeRequest("read")
	missing.ClientID = ""
	_, err = f.engine.Authorize(ctx, missing, DecisionNone)
	assertOAuthError(t, err, CodeInvalidRequest)
}

func TestAuthorize_UnknownClientAndRedirectMismatchAreIndistinguishable(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	unknown := f.authorizeRequest("read")
	unknown.ClientID = "unknown"
	_, unknownErr := f.engine.Authorize(ctx, unknown, DecisionNone)

	mismatch := f.authorizeRequest("read")
	mismatch.RedirectURI = "https://evil.example/callback"
	_, mismatchErr := f.engine.Authorize(ctx, mismatch, DecisionNone)

	var a, b *Error
	if !errors.As(unknownErr, &a) || !errors.As(mismatchErr, &b) {
		t.Fatalf("errors = %v / %v, want *oauth.Error", unknownErr, mismatchErr)
	}
	if a.Code != b.Code || a.Description != b.Description || a.Status != b.Status {
		t.Errorf("unknown client = (%q, %q, %d), mismatch = (%q, %q, %d), want identical",
			a.Code, a.Description, a.Status, b.Code, b.Description, b.Status)
	}

	wa, wb := httptest.NewRecorder(), httptest.NewRecorder()
	WriteError(wa, unknownErr)
	WriteError(wb, mismatchErr)
	if wa.Body.String() != wb.Body.String() {
		t.Errorf("bodies differ: %s / %s", wa.Body.String(), wb.Body.String())
	}
}

func TestAuthorize_UnsupportedResponseTypeIsRedirected(t *testing.T) {
	f := newEngineFixture(t)
	req := f.authorizeRequest("read")
	req.ResponseType = "token"

	res, err := f.engine.Authorize(context.Background(), req, DecisionAllow)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	u, _ := url.Parse(res.Redirect)
	if u.Query().Get("error") != CodeUnsupportedResponseType {
		t.Errorf("redirect = %q", res.Redirect)
	}
}

func TestToken_AuthorizationCodeFlow(t *testing.T) {
	f := newEngineFixture(t)
	code := f.obtainCode(t, "read:statuses write:statuses")

	resp, err := f.exchange(code)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if resp.TokenType != "Bearer" || resp.RefreshToken == "" {
		t.Errorf("TokenResponse = %+v", resp)
	}
	if resp.Scope != "read:statuses write:statuses" {
		t.Errorf("Scope = %q", resp.Scope)
	}
	if resp.ExpiresIn <= 0 || resp.ExpiresIn > int64((2*time.Hour).Seconds()) {
		t.Errorf("ExpiresIn = %d", resp.ExpiresIn)
	}

	at, err := f.engine.VerifyAccessToken(resp.AccessToken, testTenant)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if at.UserID != "user-1" || at.ClientID != f.reg.ClientID {
		t.Errorf("AccessToken = %+v", at)
	}
	if !at.Scope.Contains("write:statuses") {
		t.Errorf("access token scope = %q", at.Scope.String())
	}

	if f.recorder.results[GrantTypeAuthorizationCode+"/success"] != 1 {
		t.Errorf("recorded grants = %v", f.recorder.results)
	}
}

func TestToken_CodeIsSingleUse(t *testing.T) {
	f := newEngineFixture(t)
	code := f.obtainCode(t, "read")

	if _, err := f.exchange(code); err != nil {
		t.Fatalf("first exchange error = %v", err)
	}
	_, err := f.exchange(code)
	assertOAuthError(t, err, CodeInvalidGrant)
}

func TestToken_RedirectMustMatchCode(t *testing.T) {
	f := newEngineFixture(t)
	code := f.obtainCode(t, "read")

	_, err := f.engine.Token(context.Background(), TokenRequest{
		Tenant:       testTenant,
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example/other",
		ClientID:     f.reg.ClientID,
		ClientSecret: f.reg.ClientSecret,
	})
	assertOAuthError(t, err, CodeInvalidGrant)
}

func TestToken_CodeIsBoundToTenant(t *testing.T) {
	f := newEngineFixture(t)
	code := f.obtainCode(t, "read")

	_, err := f.engine.Token(context.Background(), TokenRequest{
		Tenant:       "other.example",
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example/callback",
		ClientID:     f.reg.ClientID,
		ClientSecret: f.reg.ClientSecret,
	})
	assertOAuthError(t, err, CodeInvalidGrant)
}

func TestToken_ClientAuthentication(t *testing.T) {
	f := newEngineFixture(t)
	code := f.obtainCode(t, "read")

	_, err := f.engine.Token(context.Background(), TokenRequest{
		Tenant:       testTenant,
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example/callback",
		ClientID:     f.reg.ClientID,
		ClientSecret: "wrong",
	})
	assertOAuthError(t, err, CodeInvalidClient)

	var oe *Error
	errors.As(err, &oe)
	if oe.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", oe.Status)
	}
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Token(context.Background(), TokenRequest{
		Tenant:       testTenant,
		GrantType:    "password",
		ClientID:     f.reg.ClientID,
		ClientSecret: f.reg.ClientSecret,
	})
	assertOAuthError(t, err, CodeUnsupportedGrantType)
}

func TestToken_RefreshRotates(t *testing.T) {
	f := newEngineFixture(t)
	first, err := f.exchange(f.obtainCode(t, "read write"))
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	refresh := func(token, scopes string) (*TokenResponse, error) {
		return f.engine.Token(context.Background(), TokenRequest{
			Tenant:       testTenant,
			GrantType:    GrantTypeRefreshToken,
			RefreshToken: token,
			Scope:        scopes,
			ClientID:     f.reg.ClientID,
			ClientSecret: f.reg.ClientSecret,
		})
	}

	second, err := refresh(first.RefreshToken, "read:statuses")
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if second.Scope != "read:statuses" {
		t.Errorf("narrowed scope = %q", second.Scope)
	}

	_, err = refresh(first.RefreshToken, "")
	assertOAuthError(t, err, CodeInvalidGrant)

	// 縮小後のリフレッシュトークンも元の認可スコープを保持する
	third, err := refresh(second.RefreshToken, "")
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if !scope.Parse(third.Scope).Equal(scope.Parse("read write")) {
		t.Errorf("scope after rotation = %q, want original grant", third.Scope)
	}
}

func TestToken_RefreshCannotWidenScope(t *testing.T) {
	f := newEngineFixture(t)
	first, err := f.exchange(f.obtainCode(t, "read"))
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	req := TokenRequest{
		Tenant:       testTenant,
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: first.RefreshToken,
		Scope:        "read write",
		ClientID:     f.reg.ClientID,
		ClientSecret: f.reg.ClientSecret,
	}
	_, err = f.engine.Token(context.Background(), req)
	assertOAuthError(t, err, CodeInvalidScope)

	// 拒否されたリフレッシュトークンは引き続き使用できる
	req.Scope = ""
	if _, err := f.engine.Token(context.Background(), req); err != nil {
		t.Errorf("refresh after rejected widening error = %v", err)
	}
}

func TestAuthorize_OutOfBand(t *testing.T) {
	r, _, _ := newTestRegistrar(t)
	reg := register(t, r, OutOfBandURI, "read")
	engine := NewEngine(r, NewConsentSolicitor(r, newMemAuthz(), nil), NewMemoryGrantStore(),
		NewTokenIssuer([]byte("k"), time.Hour), nil, EngineConfig{})

	res, err := engine.Authorize(context.Background(), AuthorizeRequest{
		Tenant:       testTenant,
		UserID:       "u",
		ResponseType: "code",
		ClientID:     reg.ClientID,
	}, DecisionAllow)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if !res.OutOfBand || res.Code == "" {
		t.Errorf("AuthorizeResult = %+v, want out-of-band code", res)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantChal   bool
	}{
		{"invalid_grant", newError(CodeInvalidGrant, "bad code", http.StatusBadRequest), http.StatusBadRequest, CodeInvalidGrant, false},
		{"invalid_client", newError(CodeInvalidClient, "bad client", http.StatusUnauthorized), http.StatusUnauthorized, CodeInvalidClient, true},
		{"plain error", errors.New("db down"), http.StatusInternalServerError, CodeServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tt.wantCode {
				t.Errorf("error = %q, want %q", body["error"], tt.wantCode)
			}
			if got := rec.Header().Get("WWW-Authenticate") != ""; got != tt.wantChal {
				t.Errorf("WWW-Authenticate present = %v, want %v", got, tt.wantChal)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Error("Cache-Control should be no-store")
			}
		})
	}
}
