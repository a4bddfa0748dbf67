package tenant

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoTenant はコンテキストにテナントのDBハンドルが無い場合のエラー。
var ErrNoTenant = errors.New("tenant database not found in context")

type ctxKey struct{}

type resolved struct {
	domain string
	db     *sql.DB
}

// WithDB はテナントのドメインとDBハンドルをコンテキストに格納する。
func WithDB(ctx context.Context, domain string, db *sql.DB) context.Context {
	return context.WithValue(ctx, ctxKey{}, resolved{domain: domain, db: db})
}

// DBFromContext はコンテキストからテナントのDBハンドルを取り出す。
// テナントミドルウェアを通過したリクエストでのみ有効。
func DBFromContext(ctx context.Context) (*sql.DB, error) {
	r, ok := ctx.Value(ctxKey{}).(resolved)
	if !ok || r.db == nil {
		return nil, ErrNoTenant
	}
	return r.db, nil
}

// DomainFromContext はコンテキストからテナントのドメインを取り出す。
func DomainFromContext(ctx context.Context) string {
	r, _ := ctx.Value(ctxKey{}).(resolved)
	return r.domain
}
