package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rhodos/internal/model"
)

// PostgresAccountRepo はaccountテーブルを扱うリポジトリ。
type PostgresAccountRepo struct {
	db DBFunc
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db DBFunc) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByUserID はユーザーに紐づくアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByUserID(ctx context.Context, userID string) (*model.Account, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	a := &model.Account{}
	err = db.QueryRowContext(ctx,
		`SELECT id, user_id, username, created_at FROM account WHERE user_id = $1`,
		userID,
	).Scan(&a.ID, &a.UserID, &a.Username, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

// PostgresStatusRepo はcontentテーブルを扱うリポジトリ。
type PostgresStatusRepo struct {
	db DBFunc
}

// NewPostgresStatusRepo はPostgresStatusRepoを生成する。
func NewPostgresStatusRepo(db DBFunc) *PostgresStatusRepo {
	return &PostgresStatusRepo{db: db}
}

// Create は投稿を作成する。
func (r *PostgresStatusRepo) Create(ctx context.Context, status *model.Status) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO content (id, publisher_id, cw, body, published, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		status.ID, status.PublisherID, status.CW, status.Body, status.Published, status.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to post content: %w", err)
	}
	return nil
}

// compile-time interface checks
var (
	_ AccountRepository = (*PostgresAccountRepo)(nil)
	_ StatusRepository  = (*PostgresStatusRepo)(nil)
)
