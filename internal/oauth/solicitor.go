package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/rhodos/internal/repository"
	"github.com/hitoshi/rhodos/internal/scope"
)

// Outcome は同意確認の結果。
type Outcome int

const (
	// OutcomeError は同意確認を継続できないことを表す（未登録クライアント等）。
	OutcomeError Outcome = iota
	// OutcomeAlreadyAuthorized は既存の認可が要求スコープを包含していることを表す。
	OutcomeAlreadyAuthorized
	// OutcomeInProgress は利用者に同意画面を提示する必要があることを表す。
	OutcomeInProgress
	// OutcomeAllowed は利用者が許可したことを表す。
	OutcomeAllowed
	// OutcomeDenied は利用者が拒否したことを表す。
	OutcomeDenied
)

// String はメトリクスのラベル等に使用する名前を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyAuthorized:
		return "already_authorized"
	case OutcomeInProgress:
		return "in_progress"
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	default:
		return "error"
	}
}

// ErrCorruptGrant は保存済みの認可スコープが解釈できないことを表す。
var ErrCorruptGrant = errors.New("stored authorization scope is corrupt")

// ClientLookup はclient_idからクライアントを引く。ClientRegistrarが実装する。
type ClientLookup interface {
	Lookup(ctx context.Context, clientID string) (*Client, error)
}

// ConsentRecorder は同意確認の結果を記録する。
type ConsentRecorder interface {
	RecordConsent(outcome string)
}

// ConsentRequest は同意確認の入力。
type ConsentRequest struct {
	UserID      string
	ClientID    string
	RedirectURI string
	State       string
	Scope       scope.Scope
}

// Prompt は同意画面に表示する内容。
type Prompt struct {
	ClientName  string
	ClientID    string
	Scope       scope.Scope
	RedirectURI string
	State       string
}

// Consent は同意確認の結果。
// OutcomeAlreadyAuthorizedとOutcomeAllowedではUserIDが認可主体となる。
type Consent struct {
	Outcome Outcome
	Prompt  *Prompt
	UserID  string
	Err     error
}

// ConsentSolicitor は利用者の同意状態を管理する。
// 認可は(ユーザー, クライアント)ごとに1行で、スコープは狭まらない。
type ConsentSolicitor struct {
	clients  ClientLookup
	authz    repository.AuthorizationRepository
	recorder ConsentRecorder
}

// NewConsentSolicitor はConsentSolicitorを生成する。recorderはnilでもよい。
func NewConsentSolicitor(clients ClientLookup, authz repository.AuthorizationRepository, recorder ConsentRecorder) *ConsentSolicitor {
	return &ConsentSolicitor{clients: clients, authz: authz, recorder: recorder}
}

// Check は既存の認可が要求スコープを包含するか確認する。
// 包含する場合は書き込みも画面提示も行わない。
func (s *ConsentSolicitor) Check(ctx context.Context, req ConsentRequest) Consent {
	client, prior, err := s.load(ctx, req)
	if err != nil {
		return s.finish(errorConsent(err))
	}

	if prior != nil && prior.Covers(req.Scope) {
		return s.finish(Consent{Outcome: OutcomeAlreadyAuthorized, UserID: req.UserID})
	}

	return s.finish(Consent{
		Outcome: OutcomeInProgress,
		Prompt: &Prompt{
			ClientName:  client.Name,
			ClientID:    client.ClientID,
			Scope:       req.Scope,
			RedirectURI: req.RedirectURI,
			State:       req.State,
		},
	})
}

// Decide は利用者の許可・拒否を反映する。
// 許可時は既存スコープと要求スコープの和集合を保存する。拒否時は何も書き込まない。
func (s *ConsentSolicitor) Decide(ctx context.Context, req ConsentRequest, allow bool) Consent {
	client, prior, err := s.load(ctx, req)
	if err != nil {
		return s.finish(errorConsent(err))
	}

	if !allow {
		return s.finish(Consent{Outcome: OutcomeDenied})
	}

	if prior == nil || !prior.Covers(req.Scope) {
		merged := req.Scope
		if prior != nil {
			merged = prior.Union(req.Scope)
		}
		if err := s.authz.Upsert(ctx, req.UserID, client.AppID, merged.String()); err != nil {
			return s.finish(errorConsent(fmt.Errorf("failed to store authorization: %w", err)))
		}
	}

	return s.finish(Consent{Outcome: OutcomeAllowed, UserID: req.UserID})
}

// load はクライアントと既存の認可スコープを読み込む。認可が無い場合のスコープはnil。
func (s *ConsentSolicitor) load(ctx context.Context, req ConsentRequest) (*Client, *scope.Scope, error) {
	client, err := s.clients.Lookup(ctx, req.ClientID)
	if err != nil {
		return nil, nil, err
	}

	auth, err := s.authz.Get(ctx, req.UserID, client.AppID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load authorization: %w", err)
	}
	if auth == nil {
		return client, nil, nil
	}

	prior, err := scope.ParseStrict(auth.Scope)
	if err != nil {
		slog.Error("stored authorization scope is corrupt",
			slog.String("user_id", req.UserID),
			slog.String("client_id", req.ClientID),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptGrant, err)
	}
	return client, &prior, nil
}

func (s *ConsentSolicitor) finish(c Consent) Consent {
	if s.recorder != nil {
		s.recorder.RecordConsent(c.Outcome.String())
	}
	return c
}

func errorConsent(err error) Consent {
	return Consent{Outcome: OutcomeError, Err: err}
}
