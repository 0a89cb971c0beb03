package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/pickletv/internal/apperr"
	"github.com/dukerupert/pickletv/internal/database"
	"github.com/dukerupert/pickletv/internal/email"
	"github.com/dukerupert/pickletv/internal/middleware"
	"github.com/dukerupert/pickletv/internal/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// lastToken extracts the token from the most recently sent email.
func (f *fakeSender) lastToken(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no email sent")
	}
	body := f.sent[len(f.sent)-1].TextBody
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "https://") {
			u, err := url.Parse(strings.TrimSpace(line))
			if err != nil {
				t.Fatalf("parse link: %v", err)
			}
			return u.Query().Get("token")
		}
	}
	t.Fatalf("no link in email body: %s", body)
	return ""
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc    *Service
	sender *fakeSender
	clock  *clock
	links  *store.MagicLinkStore
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	sender := &fakeSender{}
	links := store.NewMagicLinkStore(db)
	limiter := middleware.NewRateLimiter(middleware.WithClock(c.Now))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(links, limiter, sender, DefaultConfig("https://tv.test/auth/verify"), logger, WithClock(c.Now))
	return &testEnv{svc: svc, sender: sender, clock: c, links: links}
}

func (e *testEnv) issue(t *testing.T, addr, deviceID string) string {
	t.Helper()
	_, err := e.svc.Issue(context.Background(), IssueRequest{Email: addr, DeviceID: deviceID, ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return e.sender.lastToken(t)
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %v", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("kind = %v, want %v (err: %v)", got, kind, err)
	}
}

func TestIssue(t *testing.T) {
	env := setupService(t)

	ml, err := env.svc.Issue(context.Background(), IssueRequest{
		Email:    "  Alice@Example.COM ",
		DeviceID: "D1",
		ClientIP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ml.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized", ml.Email)
	}
	if len(ml.Token) != 43 {
		t.Errorf("token length = %d, want 43", len(ml.Token))
	}
	if !ml.ExpiresAt.Equal(env.clock.Now().Add(15 * time.Minute)) {
		t.Errorf("expires_at = %v, want now+15m", ml.ExpiresAt)
	}
	if ml.Platform == nil || *ml.Platform != "android-tv" {
		t.Errorf("platform = %v, want android-tv", ml.Platform)
	}

	if len(env.sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(env.sender.sent))
	}
	msg := env.sender.sent[0]
	if msg.To != "alice@example.com" {
		t.Errorf("to = %q", msg.To)
	}
	if tok := env.sender.lastToken(t); tok != ml.Token {
		t.Errorf("emailed token = %q, want %q", tok, ml.Token)
	}
	if !strings.Contains(msg.TextBody, "deviceId=D1") {
		t.Error("link should carry the device id")
	}
}

func TestIssueTokensUnique(t *testing.T) {
	env := setupService(t)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		tok := env.issue(t, "alice@example.com", "D1")
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestIssueEmailRateLimit(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.issue(t, "a@example.com", "D1")
	}
	_, err := env.svc.Issue(ctx, IssueRequest{Email: "A@example.com", DeviceID: "D1", ClientIP: "10.0.0.2"})
	wantKind(t, err, apperr.RateLimited)

	// Another address is unaffected.
	env.issue(t, "b@example.com", "D1")

	env.clock.Advance(time.Hour + time.Second)
	env.issue(t, "a@example.com", "D1")
}

func TestIssueIPRateLimit(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		addr := string(rune('a'+i)) + "@example.com"
		if _, err := env.svc.Issue(ctx, IssueRequest{Email: addr, DeviceID: "D1", ClientIP: "10.0.0.9"}); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	_, err := env.svc.Issue(ctx, IssueRequest{Email: "z@example.com", DeviceID: "D1", ClientIP: "10.0.0.9"})
	wantKind(t, err, apperr.RateLimited)
}

func TestIssueDeliveryFailure(t *testing.T) {
	env := setupService(t)
	env.sender.err = errors.New("smtp down")

	ml, err := env.svc.Issue(context.Background(), IssueRequest{Email: "a@example.com", DeviceID: "D1", ClientIP: "10.0.0.1"})
	wantKind(t, err, apperr.DeliveryFailure)
	if ml != nil {
		t.Error("expected no link on delivery failure")
	}
}

func TestVerifyScenario(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	tok := env.issue(t, "a@example.com", "D1")

	res, err := env.svc.Verify(ctx, tok, "D1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.User.Email != "a@example.com" || res.User.ID == "" {
		t.Errorf("user = %+v", res.User)
	}

	_, err = env.svc.Verify(ctx, tok, "D1")
	wantKind(t, err, apperr.AlreadyUsed)

	tok2 := env.issue(t, "a@example.com", "D1")
	_, err = env.svc.Verify(ctx, tok2, "D2")
	wantKind(t, err, apperr.Unauthorized)
	if !strings.Contains(err.Error(), "different device") {
		t.Errorf("err = %v, want device mismatch message", err)
	}

	// A device mismatch does not consume the token.
	if _, err := env.svc.Verify(ctx, tok2, "D1"); err != nil {
		t.Errorf("verify on bound device after mismatch: %v", err)
	}
}

func TestVerifyExpiredMatchesUnknown(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	tok := env.issue(t, "a@example.com", "D1")

	env.clock.Advance(15*time.Minute + time.Second)

	_, expiredErr := env.svc.Verify(ctx, tok, "D1")
	wantKind(t, expiredErr, apperr.Unauthorized)

	_, unknownErr := env.svc.Verify(ctx, "no-such-token", "D1")
	wantKind(t, unknownErr, apperr.Unauthorized)

	if expiredErr.Error() != unknownErr.Error() {
		t.Errorf("expired %q and unknown %q should be indistinguishable", expiredErr, unknownErr)
	}
}

func TestVerifyAtExpiryInstant(t *testing.T) {
	env := setupService(t)
	tok := env.issue(t, "a@example.com", "D1")

	env.clock.Advance(15 * time.Minute)
	if _, err := env.svc.Verify(context.Background(), tok, "D1"); err != nil {
		t.Fatalf("verify at expiry instant: %v", err)
	}
}

func TestVerifyConcurrent(t *testing.T) {
	env := setupService(t)
	tok := env.issue(t, "a@example.com", "D1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Verify(context.Background(), tok, "D1")
		}(i)
	}
	wg.Wait()

	ok, gone := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.KindOf(err) == apperr.AlreadyUsed:
			gone++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || gone != 1 {
		t.Errorf("ok = %d, already used = %d, want 1 and 1", ok, gone)
	}
}

func TestStatus(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	st, err := env.svc.Status(ctx, "D1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Authenticated {
		t.Fatal("should not be authenticated before verify")
	}

	tok := env.issue(t, "a@example.com", "D1")
	if _, err := env.svc.Verify(ctx, tok, "D1"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	st, err = env.svc.Status(ctx, "D1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Authenticated || st.Email == nil || *st.Email != "a@example.com" || st.UserID == nil {
		t.Fatalf("status = %+v, want authenticated a@example.com", st)
	}
	if st.DeviceID != "D1" {
		t.Errorf("device id = %q, want D1", st.DeviceID)
	}

	other, _ := env.svc.Status(ctx, "D2")
	if other.Authenticated {
		t.Error("other device should not be authenticated")
	}

	env.clock.Advance(5*time.Minute + time.Second)
	st, err = env.svc.Status(ctx, "D1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Authenticated {
		t.Error("should not be authenticated after the lookback window")
	}
}

func TestLogout(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	tok1 := env.issue(t, "a@example.com", "D1")
	tok2 := env.issue(t, "a@example.com", "D1")

	n, err := env.svc.Logout(ctx, "D1")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if n != 2 {
		t.Errorf("invalidated = %d, want 2", n)
	}

	for _, tok := range []string{tok1, tok2} {
		_, err := env.svc.Verify(ctx, tok, "D1")
		wantKind(t, err, apperr.AlreadyUsed)
	}

	st, err := env.svc.Status(ctx, "D1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Authenticated {
		t.Error("logout must not report the device as authenticated")
	}

	n, err = env.svc.Logout(ctx, "D1")
	if err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if n != 0 {
		t.Errorf("second logout = %d, want 0", n)
	}
}

func TestStatusListener(t *testing.T) {
	env := setupService(t)
	var notified []string
	env.svc.onChange = func(deviceID string) { notified = append(notified, deviceID) }

	tok := env.issue(t, "a@example.com", "D1")
	if _, err := env.svc.Verify(context.Background(), tok, "D1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := env.svc.Logout(context.Background(), "D1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(notified) != 2 || notified[0] != "D1" || notified[1] != "D1" {
		t.Errorf("notified = %v, want [D1 D1]", notified)
	}
}

func TestVerifyURL(t *testing.T) {
	svc := &Service{cfg: Config{BaseURL: "https://tv.test/auth/verify"}}
	got := svc.VerifyURL("a+b/c", "dev 1")
	want := "https://tv.test/auth/verify?token=a%2Bb%2Fc&deviceId=dev+1"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}

	svc.cfg.BaseURL = "https://tv.test/verify?src=email"
	if got := svc.VerifyURL("t", "d"); got != "https://tv.test/verify?src=email&token=t&deviceId=d" {
		t.Errorf("url = %q", got)
	}
}
