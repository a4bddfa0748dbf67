package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/rhodos/internal/middleware"
	"github.com/hitoshi/rhodos/internal/model"
)

// ContentServiceInterface はコンテンツ投稿ハンドラーが必要とするサービスインターフェース。
type ContentServiceInterface interface {
	Post(ctx context.Context, userID, text, cw string) (*model.Status, error)
}

// ContentHandler はコンテンツ投稿のHTTPハンドラー。
// ブラウザ向け（セッション認証）とAPI向け（Bearer認証）の2つの入口を持つ。
type ContentHandler struct {
	service ContentServiceInterface
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(service ContentServiceInterface) *ContentHandler {
	return &ContentHandler{service: service}
}

// statusResponse は投稿結果のレスポンス。
type statusResponse struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	SpoilerText string    `json:"spoiler_text"`
	Visibility  string    `json:"visibility"`
	CreatedAt   time.Time `json:"created_at"`
}

func toStatusResponse(s *model.Status) statusResponse {
	return statusResponse{
		ID:          s.ID,
		Content:     s.Body,
		SpoilerText: s.CW,
		Visibility:  "public",
		CreatedAt:   s.PublishedAt,
	}
}

// postContentRequest はブラウザ向け投稿のリクエストボディ。
type postContentRequest struct {
	Content struct {
		Text string `json:"text"`
		CW   string `json:"cw"`
	} `json:"content"`
}

// Post はセッションのユーザーとしてコンテンツを投稿する。
// POST /content
func (h *ContentHandler) Post(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationError(err))
		return
	}

	var req postContentRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストの形式が不正です。"))
		return
	}

	status, err := h.service.Post(r.Context(), userID, req.Content.Text, req.Content.CW)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toStatusResponse(status))
}

// PostStatus はアクセストークンの利用者としてコンテンツを投稿する。
// POST /api/v1/statuses
func (h *ContentHandler) PostStatus(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.AccessTokenFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthenticationError(nil))
		return
	}

	values, err := requestValues(r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストの形式が不正です。"))
		return
	}

	status, err := h.service.Post(r.Context(), token.UserID, values.Get("status"), values.Get("spoiler_text"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toStatusResponse(status))
}
