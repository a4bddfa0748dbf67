// Package tenant はHostヘッダーからテナントのデータストアハンドルを解決する
// 接続キャッシュを提供する。
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/idna"

	"github.com/hitoshi/rhodos/internal/model"
)

// ErrTenantNotFound はHostに対応するテナントが存在しない場合のエラー。
var ErrTenantNotFound = errors.New("tenant not found")

// InstanceFinder はプライマリDBからテナント情報を検索するインターフェース。
// 見つからない場合はnil, nilを返す。
type InstanceFinder interface {
	FindByDomain(ctx context.Context, domain string) (*model.Instance, error)
}

// Opener はDSNからDBハンドルを開く関数。
type Opener func(dsn string) (*sql.DB, error)

// Recorder はキャッシュのヒット・ミス・接続数を記録するフック。
type Recorder interface {
	RecordTenantCacheHit()
	RecordTenantCacheMiss()
	RecordTenantConnectionOpened()
	RecordTenantConnectionDiscarded()
}

// CacheConfig はCacheの設定。
type CacheConfig struct {
	// PrimaryDomain はプライマリDBを所有するドメイン。
	PrimaryDomain string
	// SSLMode はテナントDSNのsslmodeパラメータ。空の場合は付与しない。
	SSLMode string
	// Opener はテナントDBハンドルを開く関数。nilの場合はlib/pqで開く。
	Opener Opener
	// Recorder はメトリクス記録用のフック。nilの場合は記録しない。
	Recorder Recorder
}

// Cache はテナントドメインをキーにDBハンドルを保持する。
//
// ヒット時は読み取りロックのみで並行に処理する。
// ミス時は読み取りロックを解放してからテナント検索と接続を行い、
// 書き込みロックを取って登録する。この手順は不可分ではないため、
// 同じ未知テナントへの同時初回アクセスではそれぞれが接続を開く。
// 登録時に既にエントリがあれば、後着側は自分のハンドルを閉じて
// マップ上のハンドルを返す。閉じるハンドルはどの呼び出し元にも渡っていない。
type Cache struct {
	primaryDomain string
	primary       *sql.DB
	finder        InstanceFinder
	open          Opener
	sslMode       string
	recorder      Recorder

	mu    sync.RWMutex
	conns map[string]*sql.DB
}

// NewCache はCacheを生成する。
func NewCache(primary *sql.DB, finder InstanceFinder, cfg CacheConfig) *Cache {
	open := cfg.Opener
	if open == nil {
		open = func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		}
	}
	primaryDomain, err := HostKey(cfg.PrimaryDomain)
	if err != nil {
		primaryDomain = strings.ToLower(cfg.PrimaryDomain)
	}
	return &Cache{
		primaryDomain: primaryDomain,
		primary:       primary,
		finder:        finder,
		open:          open,
		sslMode:       cfg.SSLMode,
		recorder:      cfg.Recorder,
		conns:         make(map[string]*sql.DB),
	}
}

// PrimaryDomain はプライマリDBを所有するドメインを返す。
func (c *Cache) PrimaryDomain() string { return c.primaryDomain }

// Resolve はHostヘッダーの値からテナントのDBハンドルを返す。
// プライマリドメインの場合はプライマリDBを返す。
// テナントが存在しない場合はErrTenantNotFoundをラップしたエラーを返す。
func (c *Cache) Resolve(ctx context.Context, host string) (*sql.DB, error) {
	key, err := HostKey(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTenantNotFound, err)
	}

	if key == c.primaryDomain {
		return c.primary, nil
	}

	c.mu.RLock()
	db, ok := c.conns[key]
	c.mu.RUnlock()
	if ok {
		c.recordHit()
		return db, nil
	}

	c.recordMiss()
	return c.connect(ctx, key)
}

// connect はテナントを検索して新しいハンドルを開き、マップに登録する。
// 戻り値は常に登録後にマップが保持しているハンドル。
func (c *Cache) connect(ctx context.Context, key string) (*sql.DB, error) {
	inst, err := c.finder.FindByDomain(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant %q: %w", key, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, key)
	}

	db, err := c.open(BuildDSN(inst, c.sslMode))
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant database for %q: %w", key, err)
	}
	if c.recorder != nil {
		c.recorder.RecordTenantConnectionOpened()
	}

	c.mu.Lock()
	winner, existed := c.conns[key]
	if !existed {
		c.conns[key] = db
		winner = db
	}
	c.mu.Unlock()

	if winner != db {
		slog.Debug("tenant connection already registered by concurrent first access",
			slog.String("tenant", key),
		)
		c.discard(db)
	}

	return winner, nil
}

// discard は競合に負けたハンドルを閉じる。
func (c *Cache) discard(db *sql.DB) {
	if c.recorder != nil {
		c.recorder.RecordTenantConnectionDiscarded()
	}
	if err := db.Close(); err != nil {
		slog.Warn("failed to close discarded tenant connection", slog.String("error", err.Error()))
	}
}

// Domains はキャッシュ済みのテナントドメインを辞書順で返す。
func (c *Cache) Domains() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.conns))
	for k := range c.conns {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close はキャッシュ済みのテナントハンドルをすべて閉じる。プライマリDBは閉じない。
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for k, db := range c.conns {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tenant %q: %w", k, err))
		}
		delete(c.conns, k)
	}
	return errors.Join(errs...)
}

func (c *Cache) recordHit() {
	if c.recorder != nil {
		c.recorder.RecordTenantCacheHit()
	}
}

func (c *Cache) recordMiss() {
	if c.recorder != nil {
		c.recorder.RecordTenantCacheMiss()
	}
}

// HostKey はHostヘッダーの値からキャッシュキーを作る。
// ポートを取り除き、小文字化とIDNA変換を行う。
func HostKey(host string) (string, error) {
	h := strings.TrimSpace(host)
	if strings.HasPrefix(h, "[") {
		if hh, _, err := net.SplitHostPort(h); err == nil {
			h = hh
		} else {
			h = strings.Trim(h, "[]")
		}
		if h == "" {
			return "", errors.New("empty host")
		}
		return strings.ToLower(h), nil
	}
	if i := strings.Index(h, ":"); i >= 0 {
		h = h[:i]
	}
	h = strings.TrimSuffix(strings.ToLower(h), ".")
	if h == "" {
		return "", errors.New("empty host")
	}
	ascii, err := idna.Lookup.ToASCII(h)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", h, err)
	}
	return ascii, nil
}

// BuildDSN はテナント情報からPostgreSQLの接続URLを組み立てる。
// ユーザー部はDBUserが空でない場合のみ、ポートは0より大きい場合のみ付与する。
func BuildDSN(inst *model.Instance, sslMode string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   inst.DBHost,
		Path:   "/" + inst.DBName,
	}
	if inst.DBPort > 0 {
		u.Host = net.JoinHostPort(inst.DBHost, strconv.Itoa(inst.DBPort))
	}
	if inst.DBUser != "" {
		if inst.DBPassword != "" {
			u.User = url.UserPassword(inst.DBUser, inst.DBPassword)
		} else {
			u.User = url.User(inst.DBUser)
		}
	}
	if sslMode != "" {
		u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	}
	return u.String()
}
