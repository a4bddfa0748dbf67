package content

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/security"
)

// --- モック定義 ---

type mockAccountRepo struct {
	findByUserIDFn func(ctx context.Context, userID string) (*model.Account, error)
}

func (m *mockAccountRepo) FindByUserID(ctx context.Context, userID string) (*model.Account, error) {
	if m.findByUserIDFn != nil {
		return m.findByUserIDFn(ctx, userID)
	}
	return nil, nil
}

type mockStatusRepo struct {
	created []*model.Status
	err     error
}

func (m *mockStatusRepo) Create(ctx context.Context, status *model.Status) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, status)
	return nil
}

func accountFor(userID string) *mockAccountRepo {
	return &mockAccountRepo{
		findByUserIDFn: func(ctx context.Context, id string) (*model.Account, error) {
			if id == userID {
				return &model.Account{ID: "account-1", UserID: id, Username: "alice"}, nil
			}
			return nil, nil
		},
	}
}

// --- テスト ---

func TestPost_StoresSanitizedStatus(t *testing.T) {
	statuses := &mockStatusRepo{}
	svc := NewService(accountFor("user-1"), statuses, security.NewContentSanitizer())

	status, err := svc.Post(context.Background(), "user-1",
		`hello <script>alert(1)</script><strong>world</strong>`, "<b>spoiler</b>")
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	if len(statuses.created) != 1 || statuses.created[0] != status {
		t.Fatalf("created = %v", statuses.created)
	}
	if strings.Contains(status.Body, "<script>") || !strings.Contains(status.Body, "<strong>world</strong>") {
		t.Errorf("Body = %q", status.Body)
	}
	if status.CW != "spoiler" {
		t.Errorf("CW = %q, want spoiler", status.CW)
	}
	if status.PublisherID != "account-1" || !status.Published || status.PublishedAt.IsZero() {
		t.Errorf("status = %+v", status)
	}
}

func TestPost_LengthLimit(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"500文字はOK", strings.Repeat("あ", 500), false},
		{"501文字はNG", strings.Repeat("あ", 501), true},
		// サニタイズで消える部分も文字数に含める
		{"タグ込みで501文字はNG", "<b>" + strings.Repeat("a", 494) + "</b>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statuses := &mockStatusRepo{}
			svc := NewService(accountFor("user-1"), statuses, security.NewContentSanitizer())

			_, err := svc.Post(context.Background(), "user-1", tt.text, "")
			if !tt.wantErr {
				if err != nil {
					t.Errorf("Post() error = %v", err)
				}
				return
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeContentTooLong {
				t.Errorf("Post() error = %v, want content too long", err)
			}
			if len(statuses.created) != 0 {
				t.Error("status must not be stored")
			}
		})
	}
}

func TestPost_EmptyText(t *testing.T) {
	svc := NewService(accountFor("user-1"), &mockStatusRepo{}, security.NewContentSanitizer())

	_, err := svc.Post(context.Background(), "user-1", "   ", "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Errorf("Post() error = %v, want validation error", err)
	}
}

func TestPost_AccountMissing(t *testing.T) {
	svc := NewService(accountFor("user-1"), &mockStatusRepo{}, security.NewContentSanitizer())

	_, err := svc.Post(context.Background(), "user-2", "hello", "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAccountMissing {
		t.Errorf("Post() error = %v, want account missing", err)
	}
}

func TestPost_RepositoryError(t *testing.T) {
	dbErr := errors.New("disk full")
	svc := NewService(accountFor("user-1"), &mockStatusRepo{err: dbErr}, security.NewContentSanitizer())

	_, err := svc.Post(context.Background(), "user-1", "hello", "")
	if !errors.Is(err, dbErr) {
		t.Errorf("Post() error = %v, want wrapped %v", err, dbErr)
	}
}
