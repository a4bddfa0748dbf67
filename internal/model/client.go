package model

import "time"

// ClientApp はOAuthクライアントアプリケーションの登録情報を表す。
// EncodedClientにはリダイレクトURI、デフォルトスコープ、シークレットのハッシュがJSONで格納される。
type ClientApp struct {
	ID            string
	ClientID      string
	Name          string
	Website       string
	EncodedClient string
	CreatedAt     time.Time
}

// Authorization はユーザーがクライアントに付与したスコープを表す。
// (UserID, ClientAppID) の組で一意。
type Authorization struct {
	ID          string
	UserID      string
	ClientAppID string
	Scope       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
