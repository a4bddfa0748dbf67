// Package scope はOAuthスコープ（権限トークンの集合）のカタログと包含関係を提供する。
//
// スコープは空白区切り・順序無関係のトークン集合で、集合の包含関係による半順序を持つ。
// "A が B を包含する" は B のすべてのトークンが A に含まれることを意味する。
package scope

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Access はリソースに対するアクセス方向を表す。
type Access int

const (
	// Read は読み取りアクセス。
	Read Access = iota
	// Write は書き込みアクセス。
	Write
)

func (a Access) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}

// バンドル名
const (
	BundleRead   = "read"
	BundleWrite  = "write"
	BundleFollow = "follow"
)

var (
	// ErrUnknownResource はカタログに存在しないリソース名が指定された場合のエラー。
	ErrUnknownResource = errors.New("unknown scope resource")
	// ErrUnsupportedAccess はリソースがサポートしないアクセス方向が指定された場合のエラー。
	ErrUnsupportedAccess = errors.New("unsupported access for scope resource")
	// ErrUnknownToken は厳格な解析で未知のトークンが見つかった場合のエラー。
	ErrUnknownToken = errors.New("unknown scope token")
)

type resource struct {
	name  string
	read  bool
	write bool
}

// catalog はリソースと対応するアクセス方向の閉じた一覧。
var catalog = []resource{
	{name: "accounts", read: true, write: true},
	{name: "blocks", read: true, write: true},
	{name: "bookmarks", read: true, write: true},
	{name: "conversations", write: true},
	{name: "favourites", read: true, write: true},
	{name: "filters", read: true, write: true},
	{name: "follows", read: true, write: true},
	{name: "lists", read: true, write: true},
	{name: "media", write: true},
	{name: "mutes", read: true, write: true},
	{name: "notifications", read: true, write: true},
	{name: "reports", write: true},
	{name: "search", read: true},
	{name: "statuses", read: true, write: true},
}

var (
	known        = map[string]struct{}{}
	readBundle   []string
	writeBundle  []string
	followBundle []string
)

func init() {
	for _, r := range catalog {
		if r.read {
			t := "read:" + r.name
			readBundle = append(readBundle, t)
			known[t] = struct{}{}
		}
		if r.write {
			t := "write:" + r.name
			writeBundle = append(writeBundle, t)
			known[t] = struct{}{}
		}
	}
	for _, name := range []string{"blocks", "follows", "mutes"} {
		followBundle = append(followBundle, "read:"+name, "write:"+name)
	}
}

// Token はリソースとアクセス方向からトークン文字列を返す。
// リソースがその方向をサポートしない場合はErrUnsupportedAccessを返す。
func Token(resourceName string, access Access) (string, error) {
	for _, r := range catalog {
		if r.name != resourceName {
			continue
		}
		if (access == Read && !r.read) || (access == Write && !r.write) {
			return "", fmt.Errorf("%w: %s:%s", ErrUnsupportedAccess, access, resourceName)
		}
		return access.String() + ":" + resourceName, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownResource, resourceName)
}

// Scope はトークンの集合。ゼロ値は空のスコープとして扱える。
// 生成後は変更されない。
type Scope struct {
	set map[string]struct{}
}

// New は指定トークンからスコープを生成する。未知のトークンも保持する。
func New(tokens ...string) Scope {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return Scope{set: set}
}

// ReadBundle は全読み取りトークンからなる "read" バンドルを返す。
func ReadBundle() Scope { return New(readBundle...) }

// WriteBundle は全書き込みトークンからなる "write" バンドルを返す。
func WriteBundle() Scope { return New(writeBundle...) }

// FollowBundle は blocks, follows, mutes の読み書きからなるレガシーバンドルを返す。
func FollowBundle() Scope { return New(followBundle...) }

// All はカタログ上のすべてのトークンを返す。
func All() Scope { return ReadBundle().Union(WriteBundle()) }

// Parse は空白区切りの文字列をスコープに変換する。
// バンドル名は展開し、未知のトークンは黙って除外する。
// 結果が空であってもエラーにはしない（空を許すかは呼び出し側が判断する）。
func Parse(s string) Scope {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(s) {
		for _, t := range expand(f) {
			if _, ok := known[t]; ok {
				set[t] = struct{}{}
			}
		}
	}
	return Scope{set: set}
}

// ParseStrict は保存済みスコープの解析に使う。未知のトークンがあればエラーを返す。
func ParseStrict(s string) (Scope, error) {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(s) {
		for _, t := range expand(f) {
			if _, ok := known[t]; !ok {
				return Scope{}, fmt.Errorf("%w: %q", ErrUnknownToken, t)
			}
			set[t] = struct{}{}
		}
	}
	return Scope{set: set}, nil
}

// ExpandBundle は登録時の省略形をスコープに展開する。
// 空文字列と "read" は read バンドル、"write"、"follow" はそれぞれのバンドルになる。
// それ以外はParseで解析し、結果が空ならreadバンドルとする。
func ExpandBundle(name string) Scope {
	switch strings.TrimSpace(name) {
	case "", BundleRead:
		return ReadBundle()
	case BundleWrite:
		return WriteBundle()
	case BundleFollow:
		return FollowBundle()
	}
	s := Parse(name)
	if s.Empty() {
		return ReadBundle()
	}
	return s
}

func expand(token string) []string {
	switch token {
	case BundleRead:
		return readBundle
	case BundleWrite:
		return writeBundle
	case BundleFollow:
		return followBundle
	default:
		return []string{token}
	}
}

// Covers は b のすべてのトークンが a に含まれる場合にtrueを返す。
func Covers(a, b Scope) bool {
	return a.Covers(b)
}

// Covers は other のすべてのトークンがsに含まれる場合にtrueを返す。
func (s Scope) Covers(other Scope) bool {
	for t := range other.set {
		if _, ok := s.set[t]; !ok {
			return false
		}
	}
	return true
}

// Union は2つのスコープの和集合を返す。
func (s Scope) Union(other Scope) Scope {
	set := make(map[string]struct{}, len(s.set)+len(other.set))
	for t := range s.set {
		set[t] = struct{}{}
	}
	for t := range other.set {
		set[t] = struct{}{}
	}
	return Scope{set: set}
}

// Contains はトークンが含まれているかを返す。
func (s Scope) Contains(token string) bool {
	_, ok := s.set[token]
	return ok
}

// Len はトークン数を返す。
func (s Scope) Len() int { return len(s.set) }

// Empty はスコープが空かどうかを返す。
func (s Scope) Empty() bool { return len(s.set) == 0 }

// Equal は2つのスコープが同じトークン集合かどうかを返す。
func (s Scope) Equal(other Scope) bool {
	return s.Len() == other.Len() && s.Covers(other)
}

// Tokens はトークンを辞書順で返す。
func (s Scope) Tokens() []string {
	out := make([]string, 0, len(s.set))
	for t := range s.set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// String は辞書順・空白区切りの正規形を返す。
func (s Scope) String() string {
	return strings.Join(s.Tokens(), " ")
}
