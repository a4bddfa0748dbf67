package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/rhodos/internal/model"
)

// PostgresAuthorizationRepo はclient_authorizationテーブルを扱うリポジトリ。
type PostgresAuthorizationRepo struct {
	db DBFunc
}

// NewPostgresAuthorizationRepo はPostgresAuthorizationRepoを生成する。
func NewPostgresAuthorizationRepo(db DBFunc) *PostgresAuthorizationRepo {
	return &PostgresAuthorizationRepo{db: db}
}

// Get は(ユーザー, クライアント)の認可を取得する。見つからない場合はnilを返す。
func (r *PostgresAuthorizationRepo) Get(ctx context.Context, userID, clientAppID string) (*model.Authorization, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	a := &model.Authorization{}
	err = db.QueryRowContext(ctx,
		`SELECT id, user_id, client_app_id, scope, created_at, updated_at
		 FROM client_authorization
		 WHERE user_id = $1 AND client_app_id = $2`,
		userID, clientAppID,
	).Scan(&a.ID, &a.UserID, &a.ClientAppID, &a.Scope, &a.CreatedAt, &a.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}

	return a, nil
}

// Upsert は(ユーザー, クライアント)の認可を作成し、既に存在する場合は
// 保存済みスコープと渡されたスコープの和集合で更新する。スコープは狭まらない。
// 和集合は競合行のロック下で最新の保存値に対して計算されるため、同時の拡張も失われない。
func (r *PostgresAuthorizationRepo) Upsert(ctx context.Context, userID, clientAppID, scope string) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO client_authorization (id, user_id, client_app_id, scope, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (user_id, client_app_id)
		 DO UPDATE SET scope = (
		     SELECT coalesce(string_agg(t, ' ' ORDER BY t COLLATE "C"), '')
		     FROM (
		         SELECT DISTINCT unnest(string_to_array(client_authorization.scope || ' ' || EXCLUDED.scope, ' ')) AS t
		     ) AS tokens
		     WHERE t <> ''
		 ), updated_at = now()`,
		uuid.New().String(), userID, clientAppID, scope,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert authorization: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuthorizationRepository = (*PostgresAuthorizationRepo)(nil)
