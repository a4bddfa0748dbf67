package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rhodos/internal/model"
	"github.com/hitoshi/rhodos/internal/repository"
	"github.com/hitoshi/rhodos/internal/scope"
	"github.com/hitoshi/rhodos/internal/security"
)

const (
	clientIDLength     = 21
	clientSecretLength = 32
)

var (
	// ErrClientNotFound はclient_idに対応するクライアントが存在しないことを表す。
	ErrClientNotFound = errors.New("oauth client not found")
	// ErrRedirectMismatch は要求されたリダイレクトURIが登録内容と一致しないことを表す。
	ErrRedirectMismatch = errors.New("redirect uri does not match registration")
	// ErrAuthentication はクライアント認証の失敗を表す。
	// 未登録のクライアントとシークレット不一致を区別しない。
	ErrAuthentication = errors.New("client authentication failed")
)

// SecretHasher はクライアントシークレットのハッシュ化と照合を行う。
// credential.Verifierが実装する。
type SecretHasher interface {
	Hash(ctx context.Context, secret string) (string, error)
	Verify(ctx context.Context, candidate, storedHash string, found bool) (bool, error)
}

// EncodedClient はclient_app.encoded_clientに保存されるJSON。
type EncodedClient struct {
	RedirectURI            string   `json:"redirect_uri"`
	AdditionalRedirectURIs []string `json:"additional_redirect_uris"`
	DefaultScope           string   `json:"default_scope"`
	Passdata               string   `json:"passdata"`
}

// Client は登録済みクライアントの復号済み情報。
type Client struct {
	AppID                  string
	ClientID               string
	Name                   string
	Website                string
	RedirectURI            string
	AdditionalRedirectURIs []string
	DefaultScope           scope.Scope
	passdata               string
}

// RegisterRequest はクライアント登録の入力。
// RedirectURIsは改行または空白区切りで複数指定でき、先頭が既定のリダイレクト先になる。
type RegisterRequest struct {
	Name         string
	Website      string
	RedirectURIs string
	Scopes       string
}

// Registration はクライアント登録の結果。ClientSecretはこの時のみ平文で返される。
type Registration struct {
	ID           string
	ClientID     string
	ClientSecret string
	Name         string
	Website      string
	RedirectURI  string
	Scope        scope.Scope
}

// ClientRegistrar はOAuthクライアントの登録と照合を行う。
type ClientRegistrar struct {
	apps   repository.ClientAppRepository
	hasher SecretHasher
}

// NewClientRegistrar はClientRegistrarを生成する。
func NewClientRegistrar(apps repository.ClientAppRepository, hasher SecretHasher) *ClientRegistrar {
	return &ClientRegistrar{apps: apps, hasher: hasher}
}

// Register はクライアントを登録し、client_idとclient_secretを発行する。
// 同一内容での再登録も新しいクライアントとして扱う。
func (r *ClientRegistrar) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	uris := strings.Fields(req.RedirectURIs)
	if len(uris) == 0 {
		return nil, model.NewValidationError("redirect_uris is required")
	}

	defaultScope := scope.ExpandBundle(req.Scopes)

	clientID, err := security.RandomToken(clientIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}
	secret, err := security.RandomToken(clientSecretLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client secret: %w", err)
	}

	passdata, err := r.hasher.Hash(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	encoded, err := json.Marshal(EncodedClient{
		RedirectURI:            uris[0],
		AdditionalRedirectURIs: uris[1:],
		DefaultScope:           defaultScope.String(),
		Passdata:               passdata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode client: %w", err)
	}

	app := &model.ClientApp{
		ID:            uuid.New().String(),
		ClientID:      clientID,
		Name:          req.Name,
		Website:       req.Website,
		EncodedClient: string(encoded),
		CreatedAt:     time.Now(),
	}
	if err := r.apps.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to register client: %w", err)
	}

	return &Registration{
		ID:           app.ID,
		ClientID:     clientID,
		ClientSecret: secret,
		Name:         app.Name,
		Website:      app.Website,
		RedirectURI:  uris[0],
		Scope:        defaultScope,
	}, nil
}

// Lookup はclient_idに対応するクライアントを返す。
// 存在しない場合はErrClientNotFoundを返す。
func (r *ClientRegistrar) Lookup(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}

	app, err := r.apps.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if app == nil {
		return nil, ErrClientNotFound
	}

	var enc EncodedClient
	if err := json.Unmarshal([]byte(app.EncodedClient), &enc); err != nil {
		return nil, fmt.Errorf("failed to decode client %s: %w", clientID, err)
	}
	defaultScope, err := scope.ParseStrict(enc.DefaultScope)
	if err != nil {
		return nil, fmt.Errorf("stored default scope of client %s is corrupt: %w", clientID, err)
	}

	return &Client{
		AppID:                  app.ID,
		ClientID:               app.ClientID,
		Name:                   app.Name,
		Website:                app.Website,
		RedirectURI:            enc.RedirectURI,
		AdditionalRedirectURIs: enc.AdditionalRedirectURIs,
		DefaultScope:           defaultScope,
		passdata:               enc.Passdata,
	}, nil
}

// BoundRedirect は認可リクエストのリダイレクト先を決定する。
// 空の場合は登録済みの既定URI、指定がある場合は登録済みURIとの完全一致のみ許可する。
func (r *ClientRegistrar) BoundRedirect(ctx context.Context, clientID, requested string) (string, error) {
	client, err := r.Lookup(ctx, clientID)
	if err != nil {
		return "", err
	}

	if requested == "" {
		return client.RedirectURI, nil
	}
	if requested == client.RedirectURI {
		return requested, nil
	}
	for _, uri := range client.AdditionalRedirectURIs {
		if requested == uri {
			return requested, nil
		}
	}
	return "", ErrRedirectMismatch
}

// Negotiate は要求スコープを解釈する。未知のトークンは除外し、
// 結果が空の場合はクライアントの既定スコープを返す。
func (r *ClientRegistrar) Negotiate(ctx context.Context, clientID, requested string) (scope.Scope, error) {
	client, err := r.Lookup(ctx, clientID)
	if err != nil {
		return scope.Scope{}, err
	}

	s := scope.Parse(requested)
	if s.Empty() {
		return client.DefaultScope, nil
	}
	return s, nil
}

// CheckSecret はクライアントシークレットを照合する。
// 未登録のクライアントでもダミーハッシュで照合を行い、応答時間から存在を推測させない。
func (r *ClientRegistrar) CheckSecret(ctx context.Context, clientID, candidate string) error {
	client, err := r.Lookup(ctx, clientID)
	if err != nil && !errors.Is(err, ErrClientNotFound) {
		return err
	}

	found := client != nil
	stored := ""
	if found {
		stored = client.passdata
	}

	ok, err := r.hasher.Verify(ctx, candidate, stored, found)
	if err != nil {
		return fmt.Errorf("failed to verify client secret: %w", err)
	}
	if !ok {
		return ErrAuthentication
	}
	return nil
}

// ClientName はクライアントの表示名を返す。
func (r *ClientRegistrar) ClientName(ctx context.Context, clientID string) (string, error) {
	client, err := r.Lookup(ctx, clientID)
	if err != nil {
		return "", err
	}
	return client.Name, nil
}
