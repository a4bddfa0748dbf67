package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/oauth"
	"github.com/hitoshi/rhodos/internal/tenant"
)

// bearerChallenge は無効なアクセストークンに対するWWW-Authenticateヘッダーの値。
const bearerChallenge = `Bearer realm="rhodos", error="invalid_token"`

var accessTokenContextKey = contextKey("access_token")

// AccessTokenVerifier はアクセストークンを検証する。oauth.Engineが実装する。
type AccessTokenVerifier interface {
	VerifyAccessToken(raw, tenant string) (*oauth.AccessToken, error)
}

// NewBearerMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// トークンはリクエストのテナント向けに発行されたもので、requiredScopeを含む必要がある。
// トークンが無い・無効な場合は401とチャレンジヘッダー、スコープ不足は403を返す。
func NewBearerMiddleware(verifier AccessTokenVerifier, requiredScope string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				WriteUnauthorized(w, bearerChallenge)
				return
			}

			token, err := verifier.VerifyAccessToken(raw, tenant.DomainFromContext(r.Context()))
			if err != nil {
				WriteUnauthorized(w, bearerChallenge)
				return
			}

			if requiredScope != "" && !token.Scope.Contains(requiredScope) {
				w.Header().Set("WWW-Authenticate",
					`Bearer realm="rhodos", error="insufficient_scope", scope="`+requiredScope+`"`)
				WriteErrorResponse(w, http.StatusForbidden, model.NewInsufficientScopeError(requiredScope))
				return
			}

			annotateUserID(r.Context(), token.UserID)
			ctx := context.WithValue(r.Context(), userIDContextKey, token.UserID)
			ctx = context.WithValue(ctx, accessTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessTokenFromContext はBearerミドルウェアが検証したトークンを返す。
func AccessTokenFromContext(ctx context.Context) (*oauth.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenContextKey).(*oauth.AccessToken)
	return token, ok
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
