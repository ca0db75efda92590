package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quickreach/backend/internal/config"
	"github.com/quickreach/backend/internal/models"
	"github.com/quickreach/backend/internal/syncer"
)

func testConfig(backendName string) config.Config {
	return config.Config{
		AppPort: 8080,
		Backend: backendName,
		Auth: config.AuthConfig{
			JWTSecret:       "deps-test-secret",
			AccessTTL:       time.Minute,
			RefreshTTL:      time.Hour,
			RateLimit:       10,
			RateLimitWindow: time.Minute,
			RateLimitBurst:  5,
		},
		Archive: config.ArchiveConfig{Workers: 1, QueueSize: 4},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestBuildServicesMemoryBackend(t *testing.T) {
	svc, err := buildServices(context.Background(), nil, testConfig(config.BackendMemory), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.Shutdown(context.Background())

	if svc.Accounts == nil || svc.Sync == nil || svc.Store == nil {
		t.Fatalf("expected services to be wired: %+v", svc)
	}
	if len(svc.background) != 0 {
		t.Fatalf("memory backend needs no background tasks, got %d", len(svc.background))
	}

	deps := svc.routes(testConfig(config.BackendMemory))
	if deps.Accounts == nil || deps.Requests == nil || deps.Tokens == nil || deps.AuthLimiter == nil {
		t.Fatalf("expected route dependencies to be configured: %+v", deps)
	}
	if deps.BackendName != config.BackendMemory {
		t.Fatalf("unexpected backend name %q", deps.BackendName)
	}
}

func TestBuildServicesWithArchive(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg := testConfig(config.BackendMemory)
	cfg.Archive.Store = config.ObjectStoreConfig{Bucket: "deleted-requests", Region: "us-east-1", Endpoint: "http://localhost:9000"}

	svc, err := buildServices(context.Background(), nil, cfg, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.cleanup) != 1 {
		t.Fatalf("expected archive queue shutdown hook, got %d", len(svc.cleanup))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestBuildServicesRejectsBadBackends(t *testing.T) {
	if _, err := buildServices(context.Background(), nil, testConfig(config.BackendPostgres), discardLogger()); err == nil {
		t.Fatal("expected postgres backend without a pool to fail")
	}
	if _, err := buildServices(context.Background(), nil, testConfig("redis"), discardLogger()); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}

func TestSigningSecret(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	configured, err := signingSecret("s3cret", logger)
	if err != nil || string(configured) != "s3cret" {
		t.Fatalf("expected configured secret, got %q %v", configured, err)
	}
	if logs.Len() != 0 {
		t.Fatalf("configured secret should not warn: %s", logs.String())
	}

	first, err := signingSecret("", logger)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, _ := signingSecret("", logger)
	if len(first) == 0 || bytes.Equal(first, second) {
		t.Fatal("expected distinct generated secrets")
	}
	if !strings.Contains(logs.String(), "ephemeral secret") {
		t.Fatalf("expected a warning, got %s", logs.String())
	}
}

type pruneStub struct {
	mu    sync.Mutex
	calls int
}

func (p *pruneStub) DeleteExpired(context.Context, time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 0, nil
}

func TestPruneSessionsStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pruneSessions(ctx, &pruneStub{}, discardLogger()) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}

func TestListMigrationsOrdersSQLFiles(t *testing.T) {
	migrations, err := listMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"0001_init.sql", "0002_delivery_requests.sql"}
	if strings.Join(migrations, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, migrations)
	}

	dir := t.TempDir()
	for _, name := range []string{"b.sql", "a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := listMigrations(dir)
	if err != nil || strings.Join(got, ",") != "a.sql,b.sql" {
		t.Fatalf("unexpected listing %v %v", got, err)
	}
}

func TestMigrationBackoff(t *testing.T) {
	cases := map[int]time.Duration{
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		3:  400 * time.Millisecond,
		10: migrationMaxBackoff,
		80: migrationMaxBackoff,
	}
	for attempt, want := range cases {
		if got := migrationBackoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestSeedFileName(t *testing.T) {
	if got := seedFileName("dev"); got != "dev_seed.sql" {
		t.Fatalf("unexpected seed name %q", got)
	}
	if got := seedFileName("custom.sql"); got != "custom.sql" {
		t.Fatalf("unexpected seed name %q", got)
	}
}

func TestRendererListsRequests(t *testing.T) {
	r := newRenderer()

	empty := r.list("rider@example.com", nil)
	if !strings.Contains(empty, "No delivery requests yet.") {
		t.Fatalf("expected empty state, got %q", empty)
	}

	views := []syncer.RequestView{
		syncer.NewRequestView(models.DeliveryRequest{ItemName: "Chickenjoy", Status: models.StatusPending, Priority: 80, DropoffLocation: "Dorm 4"}),
		syncer.NewRequestView(models.DeliveryRequest{ItemName: "Documents", Status: models.StatusCompleted, Priority: 10, DropoffLocation: "City Hall"}),
	}
	out := r.list("rider@example.com", views)
	for _, want := range []string{"(2)", "Chickenjoy", "Critical", "Documents", "Completed", "Low"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "Chickenjoy") > strings.Index(out, "Documents") {
		t.Fatal("rows should keep the emission order")
	}
}

// lockedBuffer is a bytes.Buffer safe for the watch goroutine and the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchRendersOwnedRequests(t *testing.T) {
	svc, err := buildServices(context.Background(), nil, testConfig(config.BackendMemory), discardLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	identity, err := svc.Accounts.Register(context.Background(), "rider@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Sync.CreateRequest(context.Background(), identity.UserID, syncer.NewRequest{ItemName: "Chickenjoy", DropoffLocation: "Dorm 4", Priority: 80}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	client := syncer.NewClient(syncer.NewSession(svc.Accounts), svc.Sync)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, client, watchOptions{email: "rider@example.com", password: "secret1"}, out)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "Chickenjoy") {
		if time.Now().After(deadline) {
			t.Fatalf("watch never rendered the request:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "loading...") {
		t.Fatalf("expected loading state first, got %q", out.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchReportsBadCredentials(t *testing.T) {
	svc, err := buildServices(context.Background(), nil, testConfig(config.BackendMemory), discardLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	client := syncer.NewClient(syncer.NewSession(svc.Accounts), svc.Sync)
	err = watch(context.Background(), client, watchOptions{email: "ghost@example.com", password: "secret1"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "Incorrect email or password") {
		t.Fatalf("expected user-readable credentials error, got %v", err)
	}
}
