package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/rhodos/internal/middleware"
	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/oauth"
	"github.com/hitoshi/rhodos/internal/tenant"
)

// OAuthEngine はOAuthハンドラーが必要とする認可エンジンのインターフェース。
type OAuthEngine interface {
	Authorize(ctx context.Context, req oauth.AuthorizeRequest, decision oauth.Decision) (*oauth.AuthorizeResult, error)
	Token(ctx context.Context, req oauth.TokenRequest) (*oauth.TokenResponse, error)
}

// OAuthHandler は認可・トークンエンドポイントのHTTPハンドラー。
type OAuthHandler struct {
	engine OAuthEngine
	csrf   middleware.CSRFConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(engine OAuthEngine, csrf middleware.CSRFConfig) *OAuthHandler {
	return &OAuthHandler{engine: engine, csrf: csrf}
}

// Authorize は認可リクエストを処理する。
// GETは同意画面を表示し（同意済みなら即座にリダイレクト）、
// POSTはconsentパラメータ（Allow/Deny）の意思を反映する。
// GET|POST /oauth/authorize, /authorize
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationError(err))
		return
	}

	values, err := requestValues(r)
	if err != nil {
		oauth.WriteError(w, &oauth.Error{
			Code:        oauth.CodeInvalidRequest,
			Description: "request could not be parsed",
			Status:      http.StatusBadRequest,
			Err:         err,
		})
		return
	}

	decision := oauth.DecisionNone
	if r.Method == http.MethodPost {
		decision = oauth.ParseDecision(values.Get("consent"))
	}

	result, err := h.engine.Authorize(r.Context(), oauth.AuthorizeRequest{
		Tenant:       tenant.DomainFromContext(r.Context()),
		UserID:       userID,
		ResponseType: values.Get("response_type"),
		ClientID:     values.Get("client_id"),
		RedirectURI:  values.Get("redirect_uri"),
		Scope:        values.Get("scope"),
		State:        values.Get("state"),
	}, decision)
	if err != nil {
		oauth.WriteError(w, err)
		return
	}

	switch {
	case result.Prompt != nil:
		p := result.Prompt
		renderPage(w, http.StatusOK, "consent", consentPage{
			Action:      r.URL.Path,
			CSRFToken:   middleware.EnsureCSRFToken(w, r, h.csrf),
			ClientName:  p.ClientName,
			ClientID:    p.ClientID,
			RedirectURI: p.RedirectURI,
			Scope:       p.Scope.String(),
			Scopes:      p.Scope.Tokens(),
			State:       p.State,
		})
	case result.OutOfBand:
		renderPage(w, http.StatusOK, "oob", oobPage{Code: result.Code})
	default:
		http.Redirect(w, r, result.Redirect, http.StatusFound)
	}
}

// Token は認可コードまたはリフレッシュトークンをアクセストークンと交換する。
// クライアント認証はBasic認証ヘッダーまたはclient_id/client_secretパラメータで行う。
// POST /oauth/token, /token
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	h.serveToken(w, r, "")
}

// Refresh はリフレッシュトークンで新しいアクセストークンを発行する。
// grant_typeを省略した場合はrefresh_tokenとして扱う。
// POST|GET /oauth/refresh, /refresh
func (h *OAuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.serveToken(w, r, oauth.GrantTypeRefreshToken)
}

func (h *OAuthHandler) serveToken(w http.ResponseWriter, r *http.Request, defaultGrant string) {
	values, err := requestValues(r)
	if err != nil {
		oauth.WriteError(w, &oauth.Error{
			Code:        oauth.CodeInvalidRequest,
			Description: "request could not be parsed",
			Status:      http.StatusBadRequest,
			Err:         err,
		})
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = values.Get("client_id")
		clientSecret = values.Get("client_secret")
	}

	grantType := values.Get("grant_type")
	if grantType == "" {
		grantType = defaultGrant
	}

	resp, err := h.engine.Token(r.Context(), oauth.TokenRequest{
		Tenant:       tenant.DomainFromContext(r.Context()),
		GrantType:    grantType,
		Code:         values.Get("code"),
		RedirectURI:  values.Get("redirect_uri"),
		RefreshToken: values.Get("refresh_token"),
		Scope:        values.Get("scope"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		oauth.WriteError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}
