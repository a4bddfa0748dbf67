package middleware

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rhodos/internal/tenant"
)

// TenantResolver はHostヘッダーからテナントのDBハンドルを解決する。tenant.Cacheが実装する。
type TenantResolver interface {
	Resolve(ctx context.Context, host string) (*sql.DB, error)
}

// NewTenantMiddleware はHostヘッダーからテナントを解決し、
// DBハンドルとドメインをリクエストコンテキストに格納するミドルウェアを返す。
// skipPathsに一致するパスは解決を行わずに通過させる。
// 未知のテナントは識別子の存在を明かさないよう、認証失敗と同じ401を返す。
func NewTenantMiddleware(resolver TenantResolver, skipPaths ...string) func(next http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			db, err := resolver.Resolve(r.Context(), r.Host)
			if err != nil {
				if errors.Is(err, tenant.ErrTenantNotFound) {
					slog.Info("unknown tenant", slog.String("host", r.Host))
					WriteUnauthorized(w, "")
					return
				}
				slog.Error("failed to resolve tenant",
					slog.String("host", r.Host),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			domain, _ := tenant.HostKey(r.Host)
			annotateTenant(r.Context(), domain)
			next.ServeHTTP(w, r.WithContext(tenant.WithDB(r.Context(), domain, db)))
		})
	}
}
