package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限を表す。
type Role string

const (
	RoleUser          Role = "user"
	RoleInstanceAdmin Role = "instance_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleSuperAdmin    Role = "super_admin"
)

// ParseRole は文字列からRoleを解析する。大文字小文字は区別しない。
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(s)) {
	case RoleUser:
		return RoleUser, true
	case RoleInstanceAdmin:
		return RoleInstanceAdmin, true
	case RoleTenantAdmin:
		return RoleTenantAdmin, true
	case RoleSuperAdmin:
		return RoleSuperAdmin, true
	default:
		return "", false
	}
}

// IsAdmin は管理系ロールかどうかを返す。
func (r Role) IsAdmin() bool {
	return r == RoleInstanceAdmin || r == RoleTenantAdmin || r == RoleSuperAdmin
}

// User はテナント内のサービス利用ユーザーを表す。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Confirmed    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserToken はメールアドレス確認用のトークンを表す。
type UserToken struct {
	ID        string
	Token     string
	UserID    string
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Account は投稿者としてのアカウントを表す。
type Account struct {
	ID        string
	UserID    string
	Username  string
	CreatedAt time.Time
}
