package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/rhodos/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Create はユーザーを登録し、確認メールを送信する。
	Create(ctx context.Context, name, email, password, role string) (*model.User, error)
	// Confirm は確認トークンを検証し、確認済みにしたユーザーIDを返す。
	Confirm(ctx context.Context, token string) (string, error)
}

// UserHandler はユーザー登録・確認のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// userResponse は登録したユーザーのレスポンス。
type userResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Confirmed bool   `json:"confirmed"`
}

// Create はユーザーを登録する。
// POST /user
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	values, err := requestValues(r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストの形式が不正です。"))
		return
	}

	user, err := h.service.Create(r.Context(),
		values.Get("name"),
		values.Get("email"),
		values.Get("password"),
		values.Get("role"),
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		Confirmed: user.Confirmed,
	})
}

// Confirm はメールアドレス確認トークンを検証する。
// GET /user/confirm?confirmation_token=xxx
func (h *UserHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("confirmation_token")
	if token == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("confirmation_tokenが指定されていません。"))
		return
	}

	userID, err := h.service.Confirm(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "confirmed",
		"user_id": userID,
	})
}
