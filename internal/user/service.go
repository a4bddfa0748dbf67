// Package user はユーザー登録とメールアドレス確認のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/repository"
	"github.com/hitoshi/rhodos/internal/security"
)

const (
	maxNameLength           = 256
	confirmationTokenLength = 25
)

// PasswordHasher はパスワードをハッシュ化する。credential.Verifierが実装する。
type PasswordHasher interface {
	Hash(ctx context.Context, secret string) (string, error)
}

// Mailer は確認メールを送信する。
type Mailer interface {
	SendConfirmation(ctx context.Context, to, name, link string) error
}

// LogMailer は確認リンクをログに出力するだけのMailer。
type LogMailer struct{}

// SendConfirmation は確認リンクをログに出力する。
func (LogMailer) SendConfirmation(ctx context.Context, to, name, link string) error {
	slog.Info("confirmation mail",
		slog.String("to", to),
		slog.String("name", name),
		slog.String("link", link),
	)
	return nil
}

var _ Mailer = LogMailer{}

// CreateInput はユーザー登録の入力。
type CreateInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Service はユーザー登録のサービス層。
type Service struct {
	hasher   PasswordHasher
	userRepo repository.UserRepository
	mailer   Mailer
	baseURL  string
}

// NewService はServiceの新しいインスタンスを生成する。mailerがnilの場合はLogMailerを使う。
func NewService(hasher PasswordHasher, userRepo repository.UserRepository, mailer Mailer, baseURL string) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{
		hasher:   hasher,
		userRepo: userRepo,
		mailer:   mailer,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Create はユーザー、アカウント、確認トークンを作成し、確認メールを送る。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(in.Name) > maxNameLength {
		return nil, model.NewValidationError("name must be 1 to 256 characters")
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return nil, model.NewValidationError(fmt.Sprintf("%s is not a valid email", in.Email))
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("unknown role %q", in.Role))
	}
	if in.Password == "" {
		return nil, model.NewValidationError("password must not be empty")
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	token, err := security.RandomToken(confirmationTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate confirmation token: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	account := &model.Account{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Username:  accountUsername(in.Email, user.ID),
		CreatedAt: now,
	}
	userToken := &model.UserToken{
		ID:        uuid.New().String(),
		Token:     token,
		UserID:    user.ID,
		CreatedAt: now,
	}

	if err := s.userRepo.CreateWithToken(ctx, user, account, userToken); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.mailer.SendConfirmation(ctx, user.Email, user.Name, s.confirmationLink(token)); err != nil {
		return nil, fmt.Errorf("failed to send confirmation mail: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
	)
	return user, nil
}

// Confirm は確認トークンを消費し、ユーザーを確認済みにする。
func (s *Service) Confirm(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", model.NewValidationError("confirmation_token is required")
	}

	userID, err := s.userRepo.ConfirmByToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to confirm user: %w", err)
	}
	if userID == "" {
		return "", model.NewInvalidConfirmationTokenError()
	}

	slog.Info("user confirmed", slog.String("user_id", userID))
	return userID, nil
}

func (s *Service) confirmationLink(token string) string {
	return s.baseURL + "/user/confirm?confirmation_token=" + url.QueryEscape(token)
}

// accountUsername はメールアドレスのローカル部とユーザーIDの先頭からアカウント名を作る。
func accountUsername(email, userID string) string {
	local, _, _ := strings.Cut(email, "@")
	return strings.ToLower(local) + "_" + userID[:8]
}
