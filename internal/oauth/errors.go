package oauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// RFC 6749 のエラーコード。
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidScope            = "invalid_scope"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeServerError             = "server_error"
)

// Error はRFC 6749形式で応答するOAuthエラー。
type Error struct {
	Code        string
	Description string
	Status      int
	Err         error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Description + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Description
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

func serverError(err error) *Error {
	return &Error{Code: CodeServerError, Description: "internal error", Status: http.StatusInternalServerError, Err: err}
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError はエラーをRFC 6749のJSONボディで書き込む。
// *Error以外のエラーはserver_errorとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	var oe *Error
	if !errors.As(err, &oe) {
		oe = serverError(err)
	}

	if oe.Status >= http.StatusInternalServerError {
		slog.Error("oauth request failed",
			slog.String("code", oe.Code),
			slog.String("error", err.Error()),
		)
	}

	if oe.Code == CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="rhodos"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(oe.Status)
	json.NewEncoder(w).Encode(errorBody{Error: oe.Code, ErrorDescription: oe.Description})
}
