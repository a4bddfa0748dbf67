// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
//
// テナントごとのテーブル（ユーザー、セッション、OAuthクライアント等）は
// リクエストコンテキストに格納されたテナントのDBハンドルに対して操作する。
// instanceテーブルはプライマリDBでのみ使用する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/rhodos/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// DBFunc は操作対象のDBハンドルを返す関数。
// テナントテーブルではtenant.DBFromContextを、プライマリではStaticを渡す。
type DBFunc func(ctx context.Context) (*sql.DB, error)

// Static は常に同じDBハンドルを返すDBFuncを生成する。
func Static(db *sql.DB) DBFunc {
	return func(ctx context.Context) (*sql.DB, error) {
		return db, nil
	}
}

// InstanceRepository はテナント情報の永続化インターフェース（プライマリDB）。
type InstanceRepository interface {
	// FindByDomain はドメインでテナントを検索する。見つからない場合はnilを返す。
	FindByDomain(ctx context.Context, domain string) (*model.Instance, error)
	// List は全テナントをドメイン順で返す。
	List(ctx context.Context) ([]*model.Instance, error)
	// Create はテナントを登録する。
	Create(ctx context.Context, inst *model.Instance) error
}

// ClientAppRepository はOAuthクライアントの永続化インターフェース。
type ClientAppRepository interface {
	// Create はクライアントを作成する。
	Create(ctx context.Context, app *model.ClientApp) error
	// FindByClientID はclient_idでクライアントを検索する。見つからない場合はnilを返す。
	FindByClientID(ctx context.Context, clientID string) (*model.ClientApp, error)
}

// AuthorizationRepository はユーザーがクライアントに付与したスコープの永続化インターフェース。
type AuthorizationRepository interface {
	// Get は(ユーザー, クライアント)の認可を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, userID, clientAppID string) (*model.Authorization, error)
	// Upsert は(ユーザー, クライアント)の認可を作成または更新する。
	// 一意制約の競合時はスコープを上書きする。
	Upsert(ctx context.Context, userID, clientAppID, scope string) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// CreateWithToken はユーザー、アカウント、確認トークンを同一トランザクションで作成する。
	// メールアドレス重複時はErrDuplicateを返す。
	CreateWithToken(ctx context.Context, user *model.User, account *model.Account, token *model.UserToken) error
	// ConfirmByToken は確認トークンに対応するユーザーを確認済みにし、トークンを削除する。
	// トークンが存在しない場合は空文字列を返す。
	ConfirmByToken(ctx context.Context, token string) (string, error)
	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// AccountRepository は投稿アカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByUserID はユーザーに紐づくアカウントを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Account, error)
}

// StatusRepository は投稿の永続化インターフェース。
type StatusRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, status *model.Status) error
}
