package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rhodos/internal/model"
)

// PostgresClientAppRepo はPostgreSQLを使用したOAuthクライアントリポジトリ。
type PostgresClientAppRepo struct {
	db DBFunc
}

// NewPostgresClientAppRepo はPostgresClientAppRepoを生成する。
func NewPostgresClientAppRepo(db DBFunc) *PostgresClientAppRepo {
	return &PostgresClientAppRepo{db: db}
}

// Create はクライアントを作成する。
func (r *PostgresClientAppRepo) Create(ctx context.Context, app *model.ClientApp) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO client_app (id, client_id, name, website, encoded_client, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		app.ID, app.ClientID, app.Name, app.Website, app.EncodedClient, app.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create client app: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to create client app: %w", err)
	}
	return nil
}

// FindByClientID はclient_idでクライアントを検索する。見つからない場合はnilを返す。
func (r *PostgresClientAppRepo) FindByClientID(ctx context.Context, clientID string) (*model.ClientApp, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	app := &model.ClientApp{}
	err = db.QueryRowContext(ctx,
		`SELECT id, client_id, name, website, encoded_client, created_at
		 FROM client_app
		 WHERE client_id = $1`,
		clientID,
	).Scan(&app.ID, &app.ClientID, &app.Name, &app.Website, &app.EncodedClient, &app.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client app: %w", err)
	}

	return app, nil
}

// compile-time interface check
var _ ClientAppRepository = (*PostgresClientAppRepo)(nil)
