package handler

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

var pageTemplates = template.Must(template.New("layout").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.}}</title>
</head>
<body>{{end}}

{{define "foot"}}</body>
</html>{{end}}

{{define "login"}}{{template "head" "ログイン"}}
<h1>ログイン</h1>
{{if .Failed}}<p role="alert">メールアドレスまたはパスワードが正しくありません。</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<input type="hidden" name="next" value="{{.Next}}">
<label>メールアドレス <input type="email" name="email" required></label>
<label>パスワード <input type="password" name="password" required></label>
<button type="submit">ログイン</button>
</form>
{{template "foot"}}{{end}}

{{define "consent"}}{{template "head" "アクセスの許可"}}
<h1>{{.ClientName}} がアカウントへのアクセスを求めています</h1>
<ul>
{{range .Scopes}}<li>{{.}}</li>
{{end}}</ul>
<form method="post" action="{{.Action}}">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<input type="hidden" name="response_type" value="code">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="scope" value="{{.Scope}}">
<input type="hidden" name="state" value="{{.State}}">
<button type="submit" name="consent" value="Allow">許可</button>
<button type="submit" name="consent" value="Deny">拒否</button>
</form>
{{template "foot"}}{{end}}

{{define "oob"}}{{template "head" "認可コード"}}
<h1>認可コード</h1>
<p>次のコードをアプリケーションに入力してください。</p>
<pre>{{.Code}}</pre>
{{template "foot"}}{{end}}
`))

// loginPage はログイン画面の描画データ。
type loginPage struct {
	CSRFToken string
	Next      string
	Failed    bool
}

// consentPage は同意画面の描画データ。
type consentPage struct {
	Action      string
	CSRFToken   string
	ClientName  string
	ClientID    string
	RedirectURI string
	Scope       string
	Scopes      []string
	State       string
}

// oobPage は認可コード表示画面の描画データ。
type oobPage struct {
	Code string
}

// renderPage はテンプレートを描画してHTMLレスポンスを書き込む。
// 描画に失敗した場合は何も書き込まずに500を返す。
func renderPage(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
