package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- モック定義 ---

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []interface{}
}

// mockExecutor はExecutorのモック。クエリごとにrowsを返す。
type mockExecutor struct {
	mu    sync.Mutex
	calls []execCall
	rows  int64
	err   error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, execCall{query: query, args: args})
	if m.err != nil {
		return nil, m.err
	}
	return &fakeResult{rowsAffected: m.rows}, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	deleted map[string]int64
}

func (r *mockRecorder) RecordCleanupDeleted(target string, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted == nil {
		r.deleted = map[string]int64{}
	}
	r.deleted[target] += count
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// lastLogEntry は最後に出力されたJSONログを返す。
func lastLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("failed to parse log: %v\n%s", err, buf.String())
	}
	return entry
}

// --- テスト ---

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(newTestLogger(&buf), nil)

	if job.TokenRetentionDays != 7 {
		t.Errorf("TokenRetentionDays = %d, want 7", job.TokenRetentionDays)
	}
}

func TestCleanupJob_Run_DeletesSessionsAndTokens(t *testing.T) {
	var buf bytes.Buffer
	db := &mockExecutor{rows: 3}
	rec := &mockRecorder{}
	job := NewCleanupJob(newTestLogger(&buf), rec)

	if err := job.Run(context.Background(), "primary", db); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(db.calls) != 2 {
		t.Fatalf("exec calls = %d, want 2", len(db.calls))
	}
	if !strings.Contains(db.calls[0].query, "DELETE FROM sessions") || !strings.Contains(db.calls[0].query, "expires_at < now()") {
		t.Errorf("first query = %q", db.calls[0].query)
	}
	if !strings.Contains(db.calls[1].query, "DELETE FROM user_token") {
		t.Errorf("second query = %q", db.calls[1].query)
	}
	if len(db.calls[1].args) != 1 || db.calls[1].args[0] != "7 days" {
		t.Errorf("token interval args = %v, want [7 days]", db.calls[1].args)
	}

	if rec.deleted["sessions"] != 3 || rec.deleted["user_token"] != 3 {
		t.Errorf("recorded = %v", rec.deleted)
	}

	entry := lastLogEntry(t, &buf)
	if entry["target"] != "primary" || entry["deleted_sessions"] != float64(3) {
		t.Errorf("log entry = %v", entry)
	}
}

func TestCleanupJob_Run_CustomRetention(t *testing.T) {
	var buf bytes.Buffer
	db := &mockExecutor{}
	job := NewCleanupJob(newTestLogger(&buf), nil)
	job.TokenRetentionDays = 30

	if err := job.Run(context.Background(), "primary", db); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if db.calls[1].args[0] != "30 days" {
		t.Errorf("interval = %v, want 30 days", db.calls[1].args[0])
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	job := NewCleanupJob(newTestLogger(&buf), nil)

	err := job.Run(context.Background(), "social.example", &mockExecutor{err: dbErr})
	if !errors.Is(err, dbErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, dbErr)
	}
	if !strings.Contains(err.Error(), "social.example") {
		t.Errorf("error %q does not name the target", err)
	}

	entry := lastLogEntry(t, &buf)
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

func TestSweeper_Sweep_RunsEveryTarget(t *testing.T) {
	var buf bytes.Buffer
	primary := &mockExecutor{}
	tenantA := &mockExecutor{}
	tenantB := &mockExecutor{}
	lister := func(ctx context.Context) ([]Target, error) {
		return []Target{
			{Name: "primary", DB: primary},
			{Name: "a.example", DB: tenantA},
			{Name: "b.example", DB: tenantB},
		}, nil
	}
	s := NewSweeper(NewCleanupJob(newTestLogger(&buf), nil), lister, 1000, newTestLogger(&buf))

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	for name, db := range map[string]*mockExecutor{"primary": primary, "a": tenantA, "b": tenantB} {
		if len(db.calls) != 2 {
			t.Errorf("%s exec calls = %d, want 2", name, len(db.calls))
		}
	}
}

func TestSweeper_Sweep_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	broken := &mockExecutor{err: errors.New("down")}
	healthy := &mockExecutor{}
	lister := func(ctx context.Context) ([]Target, error) {
		return []Target{{Name: "broken", DB: broken}, {Name: "healthy", DB: healthy}}, nil
	}
	s := NewSweeper(NewCleanupJob(newTestLogger(&buf), nil), lister, 1000, newTestLogger(&buf))

	err := s.Sweep(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("Sweep() error = %v, want failure naming broken", err)
	}
	if len(healthy.calls) != 2 {
		t.Errorf("healthy target was not cleaned: %d calls", len(healthy.calls))
	}
}

func TestSweeper_Sweep_ListerError(t *testing.T) {
	var buf bytes.Buffer
	listErr := errors.New("primary unavailable")
	lister := func(ctx context.Context) ([]Target, error) { return nil, listErr }
	s := NewSweeper(NewCleanupJob(newTestLogger(&buf), nil), lister, 1, newTestLogger(&buf))

	if err := s.Sweep(context.Background()); !errors.Is(err, listErr) {
		t.Errorf("Sweep() error = %v, want wrapped %v", err, listErr)
	}
}

func TestSweeper_Sweep_PacesTargets(t *testing.T) {
	var buf bytes.Buffer
	lister := func(ctx context.Context) ([]Target, error) {
		return []Target{
			{Name: "a", DB: &mockExecutor{}},
			{Name: "b", DB: &mockExecutor{}},
			{Name: "c", DB: &mockExecutor{}},
		}, nil
	}
	// 20件/秒、バースト1なので2件目以降はそれぞれ50ms待つ
	s := NewSweeper(NewCleanupJob(newTestLogger(&buf), nil), lister, 20, newTestLogger(&buf))

	start := time.Now()
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("sweep took %v, want at least ~100ms of pacing", elapsed)
	}
}

func TestSweeper_Sweep_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	second := &mockExecutor{}
	lister := func(ctx context.Context) ([]Target, error) {
		return []Target{{Name: "a", DB: &mockExecutor{}}, {Name: "b", DB: second}}, nil
	}
	s := NewSweeper(NewCleanupJob(newTestLogger(&buf), nil), lister, 0.01, newTestLogger(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Sweep(ctx); err == nil {
		t.Fatal("Sweep() should fail when the context ends while waiting")
	}
	if len(second.calls) != 0 {
		t.Error("second target should not run after cancellation")
	}
}

func TestSweeper_Start_RunsImmediatelyAndStops(t *testing.T) {
	var buf bytes.Buffer
	db := &mockExecutor{}
	lister := func(ctx context.Context) ([]Target, error) {
		return []Target{{Name: "primary", DB: db}}, nil
	}
	s := NewSweeper(NewCleanupJob(newTestLogger(&buf), nil), lister, 1000, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		db.mu.Lock()
		n := len(db.calls)
		db.mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.calls) != 2 {
		t.Errorf("exec calls = %d, want 2 from the initial sweep", len(db.calls))
	}
}
