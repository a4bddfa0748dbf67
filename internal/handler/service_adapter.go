package handler

import (
	"context"

	"github.com/hitoshi/rhodos/internal/auth"
	"github.com/hitoshi/rhodos/internal/content"
	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/oauth"
	"github.com/hitoshi/rhodos/internal/user"
)

// AuthServiceAdapter は auth.Service を AuthServiceInterface に適合させるアダプタ。
type AuthServiceAdapter struct {
	svc *auth.Service
}

// NewAuthServiceAdapter はAuthServiceAdapterを生成する。
func NewAuthServiceAdapter(svc *auth.Service) *AuthServiceAdapter {
	return &AuthServiceAdapter{svc: svc}
}

// Login はメールアドレスとパスワードでログインする。
func (a *AuthServiceAdapter) Login(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	return a.svc.Login(ctx, email, password)
}

// LandingPath はログイン後の遷移先を返す。
func (a *AuthServiceAdapter) LandingPath(u *model.User) string {
	return auth.LandingPath(u)
}

// Logout はセッションを破棄する。
func (a *AuthServiceAdapter) Logout(ctx context.Context, sessionID string) error {
	return a.svc.Logout(ctx, sessionID)
}

// GetCurrentUser はセッションのユーザーを返す。
func (a *AuthServiceAdapter) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	return a.svc.GetCurrentUser(ctx, sessionID)
}

// ChangePassword はフォームの3項目をauth.ChangePasswordInputに詰め替えて委譲する。
func (a *AuthServiceAdapter) ChangePassword(ctx context.Context, userID, current, next, check string) error {
	return a.svc.ChangePassword(ctx, userID, auth.ChangePasswordInput{
		CurrentPassword:  current,
		NewPassword:      next,
		NewPasswordCheck: check,
	})
}

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// Create はユーザーを登録する。
func (a *UserServiceAdapter) Create(ctx context.Context, name, email, password, role string) (*model.User, error) {
	return a.svc.Create(ctx, user.CreateInput{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     role,
	})
}

// Confirm は確認トークンを検証する。
func (a *UserServiceAdapter) Confirm(ctx context.Context, token string) (string, error) {
	return a.svc.Confirm(ctx, token)
}

var (
	_ AuthServiceInterface    = (*AuthServiceAdapter)(nil)
	_ UserServiceInterface    = (*UserServiceAdapter)(nil)
	_ ContentServiceInterface = (*content.Service)(nil)
	_ AppRegistrar            = (*oauth.ClientRegistrar)(nil)
	_ OAuthEngine             = (*oauth.Engine)(nil)
)
