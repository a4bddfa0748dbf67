// Package auth はパスワードログイン、セッション管理、パスワード変更を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/repository"
)

// ErrSessionNotFound はセッションが存在しないか期限切れであることを表す。
var ErrSessionNotFound = errors.New("session not found or expired")

// PasswordVerifier はパスワードのハッシュ化と照合を行う。credential.Verifierが実装する。
type PasswordVerifier interface {
	Hash(ctx context.Context, secret string) (string, error)
	Verify(ctx context.Context, candidate, storedHash string, found bool) (bool, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier    PasswordVerifier
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	verifier PasswordVerifier,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		verifier:    verifier,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// Login はメールアドレスとパスワードを検証し、セッションを発行する。
// 未登録のメールアドレスでもダミーハッシュとの照合を行い、失敗時のエラーは区別しない。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}

	found := user != nil
	stored := ""
	if found {
		stored = user.PasswordHash
	}

	ok, err := s.verifier.Verify(ctx, password, stored, found)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify credentials: %w", err)
	}
	if !ok {
		slog.Info("login failed", slog.Bool("known_identifier", found))
		return nil, nil, model.NewAuthenticationError(nil)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, user, nil
}

// LandingPath はログイン後の遷移先を返す。
func LandingPath(user *model.User) string {
	if user != nil && user.Role.IsAdmin() {
		return "/admin/dashboard"
	}
	return "/home"
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// ChangePasswordInput はパスワード変更の入力。
type ChangePasswordInput struct {
	CurrentPassword  string
	NewPassword      string
	NewPasswordCheck string
}

// ChangePassword はパスワードを変更し、そのユーザーの全セッションを失効させる。
// 呼び出し元のセッションも失効するため、利用者は新しいパスワードで再ログインする。
// 新パスワードが空、確認用と不一致、現在と同一の場合は検証エラーとする。
// 現在のパスワードが一致しない場合は認証エラーとする。
func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	switch {
	case in.NewPassword == "":
		return model.NewValidationError("new password must not be empty")
	case in.NewPassword != in.NewPasswordCheck:
		return model.NewValidationError("new passwords do not match")
	case in.NewPassword == in.CurrentPassword:
		return model.NewValidationError("new password must differ from the current password")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	ok, err := s.verifier.Verify(ctx, in.CurrentPassword, user.PasswordHash, true)
	if err != nil {
		return fmt.Errorf("failed to verify current password: %w", err)
	}
	if !ok {
		return model.NewAuthenticationError(nil)
	}

	hash, err := s.verifier.Hash(ctx, in.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	slog.Info("password changed", slog.String("user_id", userID))
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
