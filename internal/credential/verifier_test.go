package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/rhodos/internal/worker/blocking"
)

func newTestVerifier(t *testing.T) (*Verifier, *blocking.Pool) {
	t.Helper()
	pool := blocking.NewPool(2, nil)
	v, err := NewVerifier(pool)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return v, pool
}

func TestHash_ProducesArgon2idPHC(t *testing.T) {
	v, _ := newTestVerifier(t)

	hash, err := v.Hash(context.Background(), "correct horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=15000,t=2,p=1$") {
		t.Errorf("Hash() = %q, want argon2id PHC with m=15000,t=2,p=1", hash)
	}
}

func TestHash_UsesRandomSalt(t *testing.T) {
	v, _ := newTestVerifier(t)

	a, _ := v.Hash(context.Background(), "same")
	b, _ := v.Hash(context.Background(), "same")
	if a == b {
		t.Error("two hashes of the same secret must differ (random salt)")
	}
}

func TestVerify_CorrectAndWrongSecret(t *testing.T) {
	v, _ := newTestVerifier(t)
	ctx := context.Background()

	hash, err := v.Hash(ctx, "s3cret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	ok, err := v.Verify(ctx, "s3cret", hash, true)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify(correct) = false, want true")
	}

	for _, wrong := range []string{"", "s3cre", "s3cret ", "S3CRET"} {
		ok, err := v.Verify(ctx, wrong, hash, true)
		if err != nil {
			t.Fatalf("Verify(%q) error = %v", wrong, err)
		}
		if ok {
			t.Errorf("Verify(%q) = true, want false", wrong)
		}
	}
}

// 識別子が存在しない場合でもダミーハッシュで検証が実行されることを検証する。
func TestVerify_AbsentIdentifier_StillHashes(t *testing.T) {
	v, pool := newTestVerifier(t)

	before := pool.Completed()
	ok, err := v.Verify(context.Background(), "anything", "", false)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() for absent identifier = true, want false")
	}
	if got := pool.Completed() - before; got != 1 {
		t.Errorf("hash jobs executed = %d, want 1", got)
	}
}

// ダミーハッシュのパスワードを知っていても、存在しない識別子では成功しないこと。
func TestVerify_AbsentIdentifier_NeverSucceeds(t *testing.T) {
	v, _ := newTestVerifier(t)

	ok, _ := v.Verify(context.Background(), "password", DummyHash, false)
	if ok {
		t.Error("Verify() with found=false must never succeed")
	}
}

func TestVerify_AbsentAndWrongTakeComparableTime(t *testing.T) {
	v, _ := newTestVerifier(t)
	ctx := context.Background()
	hash, _ := v.Hash(ctx, "real-password")

	measure := func(stored string, found bool) time.Duration {
		start := time.Now()
		for i := 0; i < 3; i++ {
			v.Verify(ctx, "guess", stored, found)
		}
		return time.Since(start)
	}

	present := measure(hash, true)
	absent := measure("", false)

	// 同じパラメータのArgon2idを実行するため、桁が変わるほどの差は出ない
	if absent < present/5 || absent > present*5 {
		t.Errorf("absent=%v present=%v differ by more than 5x", absent, present)
	}
}

func TestVerify_InvalidStoredHash(t *testing.T) {
	v, _ := newTestVerifier(t)

	_, err := v.Verify(context.Background(), "x", "not-a-phc-string", true)
	if !errors.Is(err, ErrInvalidHash) {
		t.Errorf("Verify() error = %v, want ErrInvalidHash", err)
	}
}

func TestVerify_ConcurrentCallsShareHasher(t *testing.T) {
	v, _ := newTestVerifier(t)
	ctx := context.Background()
	hash, _ := v.Hash(ctx, "pw")

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := v.Verify(ctx, "pw", hash, true)
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- errors.New("concurrent verify returned false")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
