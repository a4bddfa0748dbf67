// Package content はアカウントによる投稿のドメインロジックを提供する。
package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/repository"
	"github.com/hitoshi/rhodos/internal/security"
)

// MaxLength は投稿本文の最大文字数。サニタイズ前の入力で数える。
const MaxLength = 500

// Service は投稿のサービス層。
type Service struct {
	accountRepo repository.AccountRepository
	statusRepo  repository.StatusRepository
	sanitizer   security.ContentSanitizerService
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	accountRepo repository.AccountRepository,
	statusRepo repository.StatusRepository,
	sanitizer security.ContentSanitizerService,
) *Service {
	return &Service{
		accountRepo: accountRepo,
		statusRepo:  statusRepo,
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

// Post はユーザーのアカウントとして投稿を作成する。
// cwはコンテンツ警告で、タグを除去して保存する。
func (s *Service) Post(ctx context.Context, userID, text, cw string) (*model.Status, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.NewValidationError("status text must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxLength {
		return nil, model.NewContentTooLongError(MaxLength)
	}

	account, err := s.accountRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountMissingError()
	}

	status := &model.Status{
		ID:          uuid.New().String(),
		PublisherID: account.ID,
		CW:          s.sanitizer.SanitizeText(cw),
		Body:        s.sanitizer.Sanitize(text),
		Published:   true,
		PublishedAt: s.now(),
	}
	if err := s.statusRepo.Create(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to create status: %w", err)
	}

	slog.Info("status posted",
		slog.String("status_id", status.ID),
		slog.String("account_id", account.ID),
	)
	return status, nil
}
