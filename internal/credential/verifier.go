// Package credential はパスワードおよびクライアントシークレットのハッシュ化と検証を提供する。
//
// ハッシュはArgon2id（m=15000KiB, t=2, p=1, ランダムソルト）のPHC形式文字列。
// 識別子が存在しない場合もダミーハッシュで検証処理を必ず実行し、
// 応答時間から識別子の存在が推測できないようにする。
// ハッシュ処理はすべてblocking.Pool上で実行する。
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-crypt/crypt/algorithm/argon2"

	"github.com/hitoshi/rhodos/internal/worker/blocking"
)

// DummyHash は存在しない識別子に対して検証処理を行うための固定ハッシュ。
const DummyHash = "$argon2id$v=19$m=15000,t=2,p=1$gZiV/M1gPc22ElAH/Jh1Hw$CWOrkoo7oJBQ/iyh7uJ0LO2aLEfrHwTWllSAxT0zRno"

// Argon2idパラメータ
const (
	memoryKiB   = 15000
	iterations  = 2
	parallelism = 1
)

// ErrInvalidHash は保存済みハッシュがPHC形式として解析できない場合のエラー。
var ErrInvalidHash = errors.New("invalid stored password hash")

// Verifier はArgon2idによるハッシュ化と検証を行う。
type Verifier struct {
	pool   *blocking.Pool
	hasher *argon2.Hasher
}

// NewVerifier はVerifierを生成する。
func NewVerifier(pool *blocking.Pool) (*Verifier, error) {
	hasher, err := argon2.New(
		argon2.WithVariant(argon2.VariantID),
		argon2.WithM(memoryKiB),
		argon2.WithT(iterations),
		argon2.WithP(parallelism),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create argon2 hasher: %w", err)
	}
	return &Verifier{pool: pool, hasher: hasher}, nil
}

// Hash はsecretをArgon2idでハッシュ化し、PHC形式の文字列を返す。
func (v *Verifier) Hash(ctx context.Context, secret string) (string, error) {
	return blocking.Run(ctx, v.pool, "argon2_hash", func() (string, error) {
		digest, err := v.hasher.Hash(secret)
		if err != nil {
			return "", fmt.Errorf("failed to hash secret: %w", err)
		}
		return digest.Encode(), nil
	})
}

// Verify はcandidateが保存済みハッシュと一致するかを検証する。
// foundがfalseの場合はDummyHashに対して検証を行い、常にfalseを返す。
// 保存済みハッシュが不正な場合はErrInvalidHashをラップしたエラーを返す。
func (v *Verifier) Verify(ctx context.Context, candidate, storedHash string, found bool) (bool, error) {
	if !found {
		storedHash = DummyHash
	}

	match, err := blocking.Run(ctx, v.pool, "argon2_verify", func() (bool, error) {
		digest, err := argon2.Decode(storedHash)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
		return digest.MatchAdvanced(candidate)
	})
	if err != nil {
		return false, err
	}

	return match && found, nil
}
