package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/rhodos/internal/oauth"
)

// vapidKeyPlaceholder はWeb Push未対応であることを示すvapid_keyの値。
const vapidKeyPlaceholder = "not_implemented_yet"

// AppRegistrar はアプリ登録ハンドラーが必要とするインターフェース。
type AppRegistrar interface {
	Register(ctx context.Context, req oauth.RegisterRequest) (*oauth.Registration, error)
}

// AppsHandler はOAuthクライアントアプリ登録のHTTPハンドラー。
type AppsHandler struct {
	registrar AppRegistrar
}

// NewAppsHandler はAppsHandlerを生成する。
func NewAppsHandler(registrar AppRegistrar) *AppsHandler {
	return &AppsHandler{registrar: registrar}
}

// appResponse はアプリ登録のレスポンス。
type appResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Website      string `json:"website,omitempty"`
	RedirectURI  string `json:"redirect_uri"`
	VapidKey     string `json:"vapid_key"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// extractorError は入力を解釈できなかった場合のレスポンス。
type extractorError struct {
	Error  string `json:"error"`
	Origin string `json:"origin"`
}

func writeExtractorError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, extractorError{
		Error:  message,
		Origin: "custom_extractor",
	})
}

// Register はクライアントアプリを登録し、client_idとclient_secretを発行する。
// フォームとJSONのどちらの形式も受け付ける。
// POST /api/v1/apps
func (h *AppsHandler) Register(w http.ResponseWriter, r *http.Request) {
	values, err := requestValues(r)
	if err != nil {
		writeExtractorError(w, "request body could not be parsed")
		return
	}

	name := strings.TrimSpace(values.Get("client_name"))
	if name == "" {
		writeExtractorError(w, "client_name is required")
		return
	}
	redirectURIs := strings.TrimSpace(strings.Join(values["redirect_uris"], "\n"))
	if redirectURIs == "" {
		writeExtractorError(w, "redirect_uris is required")
		return
	}

	reg, err := h.registrar.Register(r.Context(), oauth.RegisterRequest{
		Name:         name,
		Website:      values.Get("website"),
		RedirectURIs: redirectURIs,
		Scopes:       values.Get("scopes"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appResponse{
		ID:           reg.ID,
		Name:         reg.Name,
		Website:      reg.Website,
		RedirectURI:  reg.RedirectURI,
		VapidKey:     vapidKeyPlaceholder,
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
	})
}
