package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"user-service/internal/audit"
	"user-service/internal/metrics"
	"user-service/internal/password"
	"user-service/internal/rate"
)

// memStore is an in-memory CredentialStore for engine tests.
type memStore struct {
	mu         sync.Mutex
	byUsername map[string]*Account
	byEmail    map[string]*Account
}

func newMemStore() *memStore {
	return &memStore{
		byUsername: make(map[string]*Account),
		byEmail:    make(map[string]*Account),
	}
}

func (m *memStore) Create(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[account.Username]; ok {
		return ErrAccountExists
	}
	if _, ok := m.byEmail[account.Email]; ok {
		return ErrAccountExists
	}
	clone := *account
	m.byUsername[account.Username] = &clone
	m.byEmail[account.Email] = &clone
	return nil
}

func (m *memStore) ByUsername(_ context.Context, username string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *account
	return &clone, nil
}

func (m *memStore) ByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.byUsername {
		if account.ID == id {
			clone := *account
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	// Fastest parameters the hasher accepts, to keep the suite quick.
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.Rate = rate.Config{
		MaxLoginAttempts: 3,
		LoginCooldown:    time.Minute,
	}
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, sink audit.Sink) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(newMemStore()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, mr
}

func register(t *testing.T, engine *Engine, username, passwd string) *Account {
	t.Helper()

	account, err := engine.Register(context.Background(), username, username+"@example.com", passwd, "")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return account
}

func TestRegisterValidation(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		passwd   string
		role     string
	}{
		{"short username", "al", "al@example.com", "password1", ""},
		{"bad email", "alice", "not-an-email", "password1", ""},
		{"short password", "alice", "alice@example.com", "short", ""},
		{"unknown role", "alice", "alice@example.com", "password1", "superuser"},
	}
	for _, tc := range cases {
		if _, err := engine.Register(ctx, tc.username, tc.email, tc.passwd, tc.role); !errors.Is(err, ErrRegistrationInvalid) {
			t.Errorf("%s: expected ErrRegistrationInvalid, got %v", tc.name, err)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	if _, err := engine.Register(ctx, "alice", "alice2@example.com", "password1", ""); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestRegisterDefaultRole(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)

	account := register(t, engine, "alice", "password1")
	if account.Role != "customer" {
		t.Fatalf("expected default role customer, got %q", account.Role)
	}
}

func TestLoginAndAuthorize(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	account := register(t, engine, "alice", "password1")

	pair, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	identity, err := engine.Authorize(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if identity.UserID != account.ID || identity.Role != "customer" || identity.SessionID == "" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	active, err := engine.SessionActive(ctx, identity.SessionID)
	if err != nil {
		t.Fatalf("session check failed: %v", err)
	}
	if !active {
		t.Fatal("fresh session must be active")
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")

	if _, err := engine.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := engine.Login(ctx, "nobody", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRateLimit(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")

	// The counter trips once it exceeds the budget of 3.
	for i := 0; i < 4; i++ {
		if _, err := engine.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// Budget exhausted: even the correct password is refused now.
	if _, err := engine.Login(ctx, "alice", "password1"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
}

func TestLoginResetsCounterOnSuccess(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")

	for i := 0; i < 2; i++ {
		_, _ = engine.Login(ctx, "alice", "wrong-password")
	}
	if _, err := engine.Login(ctx, "alice", "password1"); err != nil {
		t.Fatalf("login within budget failed: %v", err)
	}

	// The earlier failures must not count against the next window.
	for i := 0; i < 2; i++ {
		_, _ = engine.Login(ctx, "alice", "wrong-password")
	}
	if _, err := engine.Login(ctx, "alice", "password1"); err != nil {
		t.Fatalf("login after counter reset failed: %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	first, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	second, err := engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	// The successor works.
	if _, err := engine.Authorize(ctx, second.AccessToken); err != nil {
		t.Fatalf("authorize with rotated pair failed: %v", err)
	}

	// Authorization stays stateless: the pre-rotation access token is
	// still valid until it expires.
	if _, err := engine.Authorize(ctx, first.AccessToken); err != nil {
		t.Fatalf("old access token rejected: %v", err)
	}
}

func TestRefreshReuseRevokesEverything(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	laptop, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	phone, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	rotated, err := engine.Refresh(ctx, laptop.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// The spent token comes back: reuse.
	if _, err := engine.Refresh(ctx, laptop.RefreshToken); !errors.Is(err, ErrSessionReuse) {
		t.Fatalf("expected ErrSessionReuse, got %v", err)
	}

	// Chain revocation took the successor and the unrelated device down
	// with it.
	if _, err := engine.Refresh(ctx, rotated.RefreshToken); err == nil {
		t.Fatal("successor session must be dead after reuse")
	}
	if _, err := engine.Refresh(ctx, phone.RefreshToken); err == nil {
		t.Fatal("other device session must be dead after reuse")
	}
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	pair, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: expected ErrTokenInvalid, got %v", err)
	}
	// An access token is not accepted where a refresh token is required.
	if _, err := engine.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token: expected ErrTokenInvalid, got %v", err)
	}

	// Tokens signed under a different secret are forged as far as this
	// engine is concerned.
	otherCfg := testConfig()
	otherCfg.Token.Secret = []byte("ffffffffffffffffffffffffffffffff")
	other, _ := newTestEngine(t, otherCfg, nil)
	register(t, other, "alice", "password1")
	forged, err := other.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login on other engine failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, forged.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("forged: expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.EnableRefreshThrottle = true
	cfg.Rate.MaxRefreshAttempts = 0
	cfg.Rate.RefreshCooldown = time.Minute
	engine, _ := newTestEngine(t, cfg, nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	pair, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected ErrRefreshRateLimited, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	pair, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		reuses  int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrSessionReuse):
				reuses++
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if reuses != workers-1 {
		t.Fatalf("expected %d reuse rejections, got %d", workers-1, reuses)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[metrics.RefreshSuccess] != 1 {
		t.Fatalf("expected one successful refresh, got %d", snap.Counters[metrics.RefreshSuccess])
	}
	if snap.Counters[metrics.RefreshReuseDetected] != uint64(workers-1) {
		t.Fatalf("expected %d reuse detections, got %d", workers-1, snap.Counters[metrics.RefreshReuseDetected])
	}
}

func TestLogout(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	pair, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	engine.Logout(ctx, pair.RefreshToken)

	// The revoked session cannot be refreshed.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Fatal("refresh after logout must fail")
	}

	// Logout is idempotent and swallows garbage.
	engine.Logout(ctx, pair.RefreshToken)
	engine.Logout(ctx, "not-a-token")
}

func TestLogoutAll(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	account := register(t, engine, "alice", "password1")
	a, _ := engine.Login(ctx, "alice", "password1")
	b, _ := engine.Login(ctx, "alice", "password1")
	if a == nil || b == nil {
		t.Fatal("logins failed")
	}

	revoked, err := engine.LogoutAll(ctx, account.ID)
	if err != nil {
		t.Fatalf("logout all failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revocations, got %d", revoked)
	}

	if _, err := engine.Refresh(ctx, a.RefreshToken); err == nil {
		t.Fatal("first session must be dead")
	}
	if _, err := engine.Refresh(ctx, b.RefreshToken); err == nil {
		t.Fatal("second session must be dead")
	}
}

func TestAuthorizeRejectsGarbage(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := engine.Authorize(ctx, tok); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("token %q: expected ErrUnauthorized, got %v", tok, err)
		}
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[metrics.AuthorizeFailure] != 3 {
		t.Fatalf("expected 3 authorize failures, got %d", snap.Counters[metrics.AuthorizeFailure])
	}
}

func TestMe(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	account := register(t, engine, "alice", "password1")

	got, err := engine.Me(ctx, account.ID)
	if err != nil {
		t.Fatalf("me failed: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("unexpected account: %+v", got)
	}

	if _, err := engine.Me(ctx, "unknown-id"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestStoreOutage(t *testing.T) {
	engine, mr := newTestEngine(t, testConfig(), nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	pair, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	mr.Close()

	if _, err := engine.Login(ctx, "alice", "password1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("login: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("refresh: expected ErrStoreUnavailable, got %v", err)
	}
	if err := engine.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("ping: expected ErrStoreUnavailable, got %v", err)
	}

	// Stateless verification keeps working through the outage.
	if _, err := engine.Authorize(ctx, pair.AccessToken); err != nil {
		t.Fatalf("authorize during outage failed: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[metrics.StoreRetry] == 0 {
		t.Fatal("expected store retries to be recorded")
	}
}

func TestLimiterOutageRetried(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.EnableRefreshThrottle = true
	cfg.Rate.MaxRefreshAttempts = 100
	cfg.Rate.RefreshCooldown = time.Minute
	engine, mr := newTestEngine(t, cfg, nil)
	ctx := context.Background()

	register(t, engine, "alice", "password1")
	pair, err := engine.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	mr.Close()

	// The rate counters are the first store touch in both flows; a dead
	// counter store gets the same retry-once treatment as the registry.
	if _, err := engine.Login(ctx, "alice", "password1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("login: expected ErrStoreUnavailable, got %v", err)
	}
	snap := engine.MetricsSnapshot()
	if got := snap.Counters[metrics.StoreRetry]; got != 1 {
		t.Fatalf("expected one retry on the login counter check, got %d", got)
	}

	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("refresh: expected ErrStoreUnavailable, got %v", err)
	}
	snap = engine.MetricsSnapshot()
	if got := snap.Counters[metrics.StoreRetry]; got != 2 {
		t.Fatalf("expected a retry on the refresh counter check, got %d", got)
	}
}

func TestAuditEvents(t *testing.T) {
	sink := audit.NewChannelSink(16)
	engine, _ := newTestEngine(t, testConfig(), sink)
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	account := register(t, engine, "alice", "password1")
	if _, err := engine.Login(ctx, "alice", "password1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	want := map[audit.EventType]bool{audit.EventRegister: false, audit.EventLogin: false}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sink.Events():
			if _, ok := want[event.Type]; !ok {
				continue
			}
			if !event.Success {
				t.Fatalf("expected success event, got %+v", event)
			}
			if event.Type == audit.EventLogin {
				if event.UserID != account.ID || event.IP != "10.0.0.1" || event.SessionID == "" {
					t.Fatalf("login event missing fields: %+v", event)
				}
			}
			want[event.Type] = true
			done := true
			for _, seen := range want {
				done = done && seen
			}
			if done {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for audit events, got %+v", want)
		}
	}
}
