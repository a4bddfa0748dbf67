// Package oauth はMastodon互換のOAuth2認可サーバーを提供する。
//
// Engineは認可コードフローとトークン発行の状態遷移を担い、
// クライアントの照合をRegistrarに、利用者の同意をOwnerSolicitorに委譲する。
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/rhodos/internal/scope"
	"github.com/hitoshi/rhodos/internal/security"
)

const (
	authCodeLength     = 32
	refreshTokenLength = 32

	// GrantTypeAuthorizationCode は認可コードグラント。
	GrantTypeAuthorizationCode = "authorization_code"
	// GrantTypeRefreshToken はリフレッシュトークングラント。
	GrantTypeRefreshToken = "refresh_token"

	// OutOfBandURI はリダイレクトせずに認可コードを画面表示するためのURI。
	OutOfBandURI = "urn:ietf:wg:oauth:2.0:oob"
)

// Registrar はEngineが使用するクライアント照合のインターフェース。
type Registrar interface {
	BoundRedirect(ctx context.Context, clientID, requested string) (string, error)
	Negotiate(ctx context.Context, clientID, requested string) (scope.Scope, error)
	CheckSecret(ctx context.Context, clientID, secret string) error
}

// OwnerSolicitor はEngineが使用する利用者同意のインターフェース。
type OwnerSolicitor interface {
	Check(ctx context.Context, req ConsentRequest) Consent
	Decide(ctx context.Context, req ConsentRequest, allow bool) Consent
}

// GrantRecorder はトークン発行を記録する。
type GrantRecorder interface {
	RecordTokenGrant(grantType, result string)
}

// Decision は認可エンドポイントで利用者が示した意思。
type Decision int

const (
	// DecisionNone は同意画面の表示前（GET）。
	DecisionNone Decision = iota
	// DecisionAllow は許可。
	DecisionAllow
	// DecisionDeny は拒否。
	DecisionDeny
)

// ParseDecision はconsentパラメータ（Allow/Deny）を解釈する。
func ParseDecision(s string) Decision {
	switch s {
	case "Allow", "allow":
		return DecisionAllow
	case "Deny", "deny":
		return DecisionDeny
	default:
		return DecisionNone
	}
}

// AuthorizeRequest は認可エンドポイントの入力。UserIDはセッションから得た利用者。
type AuthorizeRequest struct {
	Tenant       string
	UserID       string
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// AuthorizeResult は認可エンドポイントの結果。
// Promptが非nilの場合は同意画面を表示し、それ以外はRedirectへリダイレクトする。
// リダイレクト先がOutOfBandURIの場合、発行した認可コードはCodeで参照できる。
type AuthorizeResult struct {
	Redirect  string
	Prompt    *Prompt
	Code      string
	OutOfBand bool
}

// TokenRequest はトークンエンドポイントの入力。
type TokenRequest struct {
	Tenant       string
	GrantType    string
	Code         string
	RedirectURI  string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
}

// TokenResponse はトークンエンドポイントの応答。
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"created_at"`
}

// EngineConfig はEngineの有効期限設定。
type EngineConfig struct {
	AuthCodeTTL     time.Duration
	RefreshTokenTTL time.Duration
}

// Engine は認可コード・トークン・リフレッシュの状態遷移を実装する。
type Engine struct {
	registrar Registrar
	solicitor OwnerSolicitor
	grants    GrantStore
	tokens    *TokenIssuer
	recorder  GrantRecorder
	cfg       EngineConfig
}

// NewEngine はEngineを生成する。recorderはnilでもよい。
func NewEngine(registrar Registrar, solicitor OwnerSolicitor, grants GrantStore, tokens *TokenIssuer, recorder GrantRecorder, cfg EngineConfig) *Engine {
	if cfg.AuthCodeTTL <= 0 {
		cfg.AuthCodeTTL = 10 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return &Engine{
		registrar: registrar,
		solicitor: solicitor,
		grants:    grants,
		tokens:    tokens,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// invalidClientDescription は未登録クライアントとredirect_uri不一致に共通の説明。
const invalidClientDescription = "client_id or redirect_uri is invalid"

// Authorize は認可リクエストを処理する。
// リダイレクト先が確定する前のエラーは*Errorとして返し、リダイレクトしない。
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest, decision Decision) (*AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, newError(CodeInvalidRequest, "client_id is required", http.StatusBadRequest)
	}

	// client_idの存在を推測させないため、未登録とredirect_uri不一致は同じ応答にする
	redirect, err := e.registrar.BoundRedirect(ctx, req.ClientID, req.RedirectURI)
	switch {
	case errors.Is(err, ErrClientNotFound), errors.Is(err, ErrRedirectMismatch):
		slog.Info("authorize request rejected",
			slog.String("tenant", req.Tenant),
			slog.String("client_id", req.ClientID),
			slog.String("reason", err.Error()),
		)
		return nil, newError(CodeInvalidRequest, invalidClientDescription, http.StatusBadRequest)
	case err != nil:
		return nil, serverError(err)
	}

	if req.ResponseType != "code" {
		return &AuthorizeResult{Redirect: errorRedirect(redirect, CodeUnsupportedResponseType, req.State)}, nil
	}

	granted, err := e.registrar.Negotiate(ctx, req.ClientID, req.Scope)
	if err != nil {
		return nil, serverError(err)
	}

	consentReq := ConsentRequest{
		UserID:      req.UserID,
		ClientID:    req.ClientID,
		RedirectURI: redirect,
		State:       req.State,
		Scope:       granted,
	}

	var consent Consent
	switch decision {
	case DecisionAllow:
		consent = e.solicitor.Decide(ctx, consentReq, true)
	case DecisionDeny:
		consent = e.solicitor.Decide(ctx, consentReq, false)
	default:
		consent = e.solicitor.Check(ctx, consentReq)
	}

	switch consent.Outcome {
	case OutcomeInProgress:
		return &AuthorizeResult{Prompt: consent.Prompt}, nil
	case OutcomeDenied:
		return &AuthorizeResult{Redirect: errorRedirect(redirect, CodeAccessDenied, req.State)}, nil
	case OutcomeAlreadyAuthorized, OutcomeAllowed:
		code, err := security.RandomToken(authCodeLength)
		if err != nil {
			return nil, serverError(err)
		}
		grant := Grant{
			ClientID:    req.ClientID,
			RedirectURI: redirect,
			UserID:      consent.UserID,
			Scope:       granted.String(),
		}
		if err := e.grants.Put(ctx, KindCode, req.Tenant, code, grant, e.cfg.AuthCodeTTL); err != nil {
			return nil, serverError(err)
		}
		return &AuthorizeResult{
			Redirect:  codeRedirect(redirect, code, req.State),
			Code:      code,
			OutOfBand: redirect == OutOfBandURI,
		}, nil
	default:
		if errors.Is(consent.Err, ErrClientNotFound) {
			return nil, newError(CodeInvalidRequest, invalidClientDescription, http.StatusBadRequest)
		}
		return nil, serverError(consent.Err)
	}
}

// Token はトークンリクエストを処理する。
func (e *Engine) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	resp, err := e.token(ctx, req)
	if e.recorder != nil {
		result := "success"
		var oe *Error
		if errors.As(err, &oe) {
			result = oe.Code
		} else if err != nil {
			result = CodeServerError
		}
		e.recorder.RecordTokenGrant(req.GrantType, result)
	}
	return resp, err
}

func (e *Engine) token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.ClientID == "" {
		return nil, newError(CodeInvalidClient, "client authentication is required", http.StatusUnauthorized)
	}
	if err := e.registrar.CheckSecret(ctx, req.ClientID, req.ClientSecret); err != nil {
		if errors.Is(err, ErrAuthentication) {
			return nil, newError(CodeInvalidClient, "client authentication failed", http.StatusUnauthorized)
		}
		return nil, serverError(err)
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return e.exchangeCode(ctx, req)
	case GrantTypeRefreshToken:
		return e.refresh(ctx, req)
	case "":
		return nil, newError(CodeInvalidRequest, "grant_type is required", http.StatusBadRequest)
	default:
		return nil, newError(CodeUnsupportedGrantType, fmt.Sprintf("grant_type %q is not supported", req.GrantType), http.StatusBadRequest)
	}
}

func (e *Engine) exchangeCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, newError(CodeInvalidRequest, "code is required", http.StatusBadRequest)
	}

	grant, err := e.grants.Take(ctx, KindCode, req.Tenant, req.Code)
	if err != nil {
		return nil, serverError(err)
	}
	if grant == nil {
		return nil, newError(CodeInvalidGrant, "authorization code is invalid or expired", http.StatusBadRequest)
	}
	if grant.ClientID != req.ClientID {
		slog.Warn("authorization code presented by another client",
			slog.String("tenant", req.Tenant),
			slog.String("client_id", req.ClientID),
		)
		return nil, newError(CodeInvalidGrant, "authorization code was issued to another client", http.StatusBadRequest)
	}
	if grant.RedirectURI != req.RedirectURI {
		return nil, newError(CodeInvalidGrant, "redirect_uri does not match the authorization request", http.StatusBadRequest)
	}

	granted, err := scope.ParseStrict(grant.Scope)
	if err != nil {
		return nil, serverError(fmt.Errorf("%w: %v", ErrCorruptGrant, err))
	}
	return e.issue(ctx, req.Tenant, grant, granted, granted)
}

func (e *Engine) refresh(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, newError(CodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
	}

	grant, err := e.grants.Take(ctx, KindRefresh, req.Tenant, req.RefreshToken)
	if err != nil {
		return nil, serverError(err)
	}
	if grant == nil {
		return nil, newError(CodeInvalidGrant, "refresh token is invalid or expired", http.StatusBadRequest)
	}
	if grant.ClientID != req.ClientID {
		return nil, newError(CodeInvalidGrant, "refresh token was issued to another client", http.StatusBadRequest)
	}

	original, err := scope.ParseStrict(grant.Scope)
	if err != nil {
		return nil, serverError(fmt.Errorf("%w: %v", ErrCorruptGrant, err))
	}

	access := original
	if req.Scope != "" {
		requested, err := scope.ParseStrict(req.Scope)
		if err != nil || !original.Covers(requested) {
			// 取り出したトークンは失効させず戻す
			if putErr := e.grants.Put(ctx, KindRefresh, req.Tenant, req.RefreshToken, *grant, time.Until(grant.ExpiresAt)); putErr != nil {
				return nil, serverError(putErr)
			}
			return nil, newError(CodeInvalidScope, "requested scope exceeds the original grant", http.StatusBadRequest)
		}
		access = requested
	}

	return e.issue(ctx, req.Tenant, grant, original, access)
}

// issue はアクセストークンと新しいリフレッシュトークンを発行する。
// リフレッシュトークンは元の認可スコープを引き継ぐ。
func (e *Engine) issue(ctx context.Context, tenant string, grant *Grant, original, access scope.Scope) (*TokenResponse, error) {
	accessToken, expiresAt, err := e.tokens.Issue(tenant, grant.UserID, grant.ClientID, access)
	if err != nil {
		return nil, serverError(err)
	}

	refreshToken, err := security.RandomToken(refreshTokenLength)
	if err != nil {
		return nil, serverError(err)
	}
	next := Grant{
		ClientID:    grant.ClientID,
		RedirectURI: grant.RedirectURI,
		UserID:      grant.UserID,
		Scope:       original.String(),
	}
	if err := e.grants.Put(ctx, KindRefresh, tenant, refreshToken, next, e.cfg.RefreshTokenTTL); err != nil {
		return nil, serverError(err)
	}

	now := time.Now()
	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(expiresAt.Sub(now).Seconds()),
		RefreshToken: refreshToken,
		Scope:        access.String(),
		CreatedAt:    now.Unix(),
	}, nil
}

// VerifyAccessToken はBearerトークンを検証する。
func (e *Engine) VerifyAccessToken(raw, tenant string) (*AccessToken, error) {
	return e.tokens.Parse(raw, tenant)
}

func codeRedirect(redirect, code, state string) string {
	q := url.Values{}
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	return appendQuery(redirect, q)
}

func errorRedirect(redirect, code, state string) string {
	q := url.Values{}
	q.Set("error", code)
	if state != "" {
		q.Set("state", state)
	}
	return appendQuery(redirect, q)
}

// appendQuery は既存のクエリを保持したままパラメータを追加する。
// urn:ietf:wg:oauth:2.0:oob のような非URLのリダイレクト先にも対応する。
func appendQuery(redirect string, q url.Values) string {
	u, err := url.Parse(redirect)
	if err != nil || u.Opaque != "" {
		return redirect + "?" + q.Encode()
	}
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String()
}
