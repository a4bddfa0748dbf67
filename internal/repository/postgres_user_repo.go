package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rhodos/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBFunc
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBFunc) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, name, email, password, role, confirmed, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var role string
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role, &user.Confirmed, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	user, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	user, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

// CreateWithToken はユーザー、アカウント、確認トークンを同一トランザクションで作成する。
// いずれかが失敗した場合は全体をロールバックする。
func (r *PostgresUserRepo) CreateWithToken(ctx context.Context, user *model.User, account *model.Account, token *model.UserToken) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password, role, confirmed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role), user.Confirmed, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert user: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO account (id, user_id, username, created_at)
		 VALUES ($1, $2, $3, $4)`,
		account.ID, account.UserID, account.Username, account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert account: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_token (id, token, user_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		token.ID, token.Token, token.UserID, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store confirmation token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ConfirmByToken は確認トークンに対応するユーザーを確認済みにし、トークンを削除する。
// トークンが存在しない場合は空文字列を返す。
func (r *PostgresUserRepo) ConfirmByToken(ctx context.Context, token string) (string, error) {
	db, err := r.db(ctx)
	if err != nil {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tokenID, userID string
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id FROM user_token WHERE token = $1 FOR UPDATE`,
		token,
	).Scan(&tokenID, &userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find confirmation token: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET confirmed = true, updated_at = now() WHERE id = $1`,
		userID,
	); err != nil {
		return "", fmt.Errorf("failed to confirm user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_token WHERE id = $1`,
		tokenID,
	); err != nil {
		return "", fmt.Errorf("failed to delete confirmation token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return userID, nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE users SET password = $2, updated_at = now() WHERE id = $1`,
		userID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
