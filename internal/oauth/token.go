package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/rhodos/internal/scope"
)

// ErrInvalidToken はアクセストークンが無効（署名不正、期限切れ、発行者不一致）であることを表す。
var ErrInvalidToken = errors.New("invalid access token")

// Claims はアクセストークンのJWTクレーム。
// issはテナントのドメイン、subはユーザーID。
type Claims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// AccessToken は検証済みのアクセストークン。
type AccessToken struct {
	UserID    string
	ClientID  string
	Tenant    string
	Scope     scope.Scope
	ExpiresAt time.Time
}

// TokenIssuer はHS256署名のアクセストークンを発行・検証する。
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}
}

// TTL はアクセストークンの有効期間を返す。
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue はアクセストークンを発行する。
func (i *TokenIssuer) Issue(tenant, userID, clientID string, s scope.Scope) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		ClientID: clientID,
		Scope:    s.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tenant,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse はアクセストークンを検証する。tenantと発行者が一致しない場合は無効とする。
func (i *TokenIssuer) Parse(raw, tenant string) (*AccessToken, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tenant),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	s, err := scope.ParseStrict(claims.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &AccessToken{
		UserID:    claims.Subject,
		ClientID:  claims.ClientID,
		Tenant:    claims.Issuer,
		Scope:     s,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
