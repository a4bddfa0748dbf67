package oauth

import (
	"context"
	"sync"
	"time"
)

// GrantKind は保存するグラントの種類。
type GrantKind string

const (
	// KindCode は認可コード。
	KindCode GrantKind = "code"
	// KindRefresh はリフレッシュトークン。
	KindRefresh GrantKind = "refresh"
)

// Grant は認可コードまたはリフレッシュトークンに紐づく認可内容。
type Grant struct {
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	UserID      string    `json:"user_id"`
	Scope       string    `json:"scope"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// GrantStore は使い捨てのグラントを保存する。キーはテナントごとに分離される。
type GrantStore interface {
	// Put はグラントをttlの間保存する。
	Put(ctx context.Context, kind GrantKind, tenant, token string, g Grant, ttl time.Duration) error
	// Take はグラントを取り出して削除する。存在しないか期限切れの場合はnilを返す。
	Take(ctx context.Context, kind GrantKind, tenant, token string) (*Grant, error)
}

func grantKey(kind GrantKind, tenant, token string) string {
	return "rhodos:" + string(kind) + ":" + tenant + ":" + token
}

const memorySweepInterval = time.Minute

// MemoryGrantStore はプロセス内メモリのGrantStore実装。
// 単一プロセス構成で使用する。
type MemoryGrantStore struct {
	mu        sync.Mutex
	grants    map[string]Grant
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryGrantStore はMemoryGrantStoreを生成する。
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{
		grants: make(map[string]Grant),
		now:    time.Now,
	}
}

// Put はグラントを保存する。期限切れのエントリは一定間隔で掃除する。
func (s *MemoryGrantStore) Put(ctx context.Context, kind GrantKind, tenant, token string, g Grant, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	g.ExpiresAt = now.Add(ttl)
	s.grants[grantKey(kind, tenant, token)] = g

	if now.Sub(s.lastSweep) >= memorySweepInterval {
		for k, v := range s.grants {
			if !now.Before(v.ExpiresAt) {
				delete(s.grants, k)
			}
		}
		s.lastSweep = now
	}
	return nil
}

// Take はグラントを取り出して削除する。
func (s *MemoryGrantStore) Take(ctx context.Context, kind GrantKind, tenant, token string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey(kind, tenant, token)
	g, ok := s.grants[key]
	if !ok {
		return nil, nil
	}
	delete(s.grants, key)

	if !s.now().Before(g.ExpiresAt) {
		return nil, nil
	}
	return &g, nil
}

// Len は保存中のエントリ数を返す。
func (s *MemoryGrantStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}

var _ GrantStore = (*MemoryGrantStore)(nil)
