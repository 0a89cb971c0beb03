package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/pickletv/internal/database"
	"github.com/dukerupert/pickletv/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupMagicLinkTestDB(t *testing.T) *MagicLinkStore {
	t.Helper()
	return NewMagicLinkStore(openTestDB(t))
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func createLink(t *testing.T, ms *MagicLinkStore, token, email, deviceID string) *model.MagicLink {
	t.Helper()
	platform := model.DefaultPlatform
	ml := &model.MagicLink{
		Token:     token,
		Email:     email,
		DeviceID:  deviceID,
		Platform:  &platform,
		ExpiresAt: testNow.Add(15 * time.Minute),
	}
	if err := ms.Create(context.Background(), ml, testNow); err != nil {
		t.Fatalf("create magic link: %v", err)
	}
	return ml
}

func TestMagicLinkCreate(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	ctx := context.Background()

	created := createLink(t, ms, "tok-1", "alice@example.com", "D1")
	if created.ID == "" {
		t.Error("expected non-empty id")
	}

	ml, err := ms.GetByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if ml == nil {
		t.Fatal("expected magic link, got nil")
	}
	if ml.ID != created.ID {
		t.Errorf("id = %q, want %q", ml.ID, created.ID)
	}
	if ml.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", ml.Email, "alice@example.com")
	}
	if ml.Used {
		t.Error("new link should be unused")
	}
	if ml.UsedAt != nil {
		t.Errorf("used_at = %v, want nil", ml.UsedAt)
	}
	if ml.Platform == nil || *ml.Platform != model.DefaultPlatform {
		t.Errorf("platform = %v, want %q", ml.Platform, model.DefaultPlatform)
	}
	if ml.DeviceModel != nil {
		t.Errorf("device_model = %v, want nil", ml.DeviceModel)
	}
	if !ml.ExpiresAt.Equal(testNow.Add(15 * time.Minute)) {
		t.Errorf("expires_at = %v, want %v", ml.ExpiresAt, testNow.Add(15*time.Minute))
	}
}

func TestMagicLinkCreateDuplicateToken(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	createLink(t, ms, "dup", "alice@example.com", "D1")

	ml := &model.MagicLink{Token: "dup", Email: "bob@example.com", DeviceID: "D2", ExpiresAt: testNow}
	if err := ms.Create(context.Background(), ml, testNow); err == nil {
		t.Fatal("expected error for duplicate token, got nil")
	}
}

func TestMagicLinkGetByTokenNotFound(t *testing.T) {
	ms := setupMagicLinkTestDB(t)

	ml, err := ms.GetByToken(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if ml != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestMagicLinkRedeem(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	ctx := context.Background()
	createLink(t, ms, "tok-1", "alice@example.com", "D1")

	usedAt := testNow.Add(time.Minute)
	ml, u, err := ms.Redeem(ctx, "tok-1", usedAt, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !ml.Used || ml.UsedAt == nil || !ml.UsedAt.Equal(usedAt) {
		t.Errorf("link not marked used: used=%v used_at=%v", ml.Used, ml.UsedAt)
	}
	if u == nil || u.Email != "alice@example.com" {
		t.Fatalf("user = %+v, want alice@example.com", u)
	}

	stored, _ := ms.GetByToken(ctx, "tok-1")
	if !stored.Used {
		t.Error("stored link should be used")
	}

	if _, _, err := ms.Redeem(ctx, "tok-1", usedAt, nil); !errors.Is(err, ErrAlreadyUsed) {
		t.Errorf("second redeem err = %v, want ErrAlreadyUsed", err)
	}
}

func TestMagicLinkRedeemNotFound(t *testing.T) {
	ms := setupMagicLinkTestDB(t)

	_, _, err := ms.Redeem(context.Background(), "missing", testNow, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMagicLinkRedeemValidateAborts(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	ctx := context.Background()
	createLink(t, ms, "tok-1", "alice@example.com", "D1")

	errWrongDevice := errors.New("wrong device")
	_, _, err := ms.Redeem(ctx, "tok-1", testNow, func(*model.MagicLink) error { return errWrongDevice })
	if !errors.Is(err, errWrongDevice) {
		t.Fatalf("err = %v, want errWrongDevice", err)
	}

	stored, _ := ms.GetByToken(ctx, "tok-1")
	if stored.Used {
		t.Error("link should remain unused after validation failure")
	}

	us := NewUserStore(ms.db)
	u, err := us.GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u != nil {
		t.Error("no user should be created when validation fails")
	}
}

func TestMagicLinkRedeemReusesExistingUser(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	ctx := context.Background()
	createLink(t, ms, "tok-1", "alice@example.com", "D1")
	createLink(t, ms, "tok-2", "alice@example.com", "D1")

	_, u1, err := ms.Redeem(ctx, "tok-1", testNow, nil)
	if err != nil {
		t.Fatalf("redeem 1: %v", err)
	}
	_, u2, err := ms.Redeem(ctx, "tok-2", testNow.Add(time.Second), nil)
	if err != nil {
		t.Fatalf("redeem 2: %v", err)
	}
	if u1.ID != u2.ID {
		t.Errorf("user ids differ: %q vs %q", u1.ID, u2.ID)
	}
}

func TestMagicLinkRedeemConcurrent(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	createLink(t, ms, "tok-1", "alice@example.com", "D1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, alreadyUsed int
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := ms.Redeem(context.Background(), "tok-1", testNow, func(ml *model.MagicLink) error {
				if ml.Used {
					return ErrAlreadyUsed
				}
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyUsed):
				alreadyUsed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || alreadyUsed != 1 {
		t.Errorf("successes = %d, already used = %d, want 1 and 1", successes, alreadyUsed)
	}
}

func TestMagicLinkLatestVerifiedForDevice(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	ctx := context.Background()
	createLink(t, ms, "tok-1", "alice@example.com", "D1")

	ml, u, err := ms.LatestVerifiedForDevice(ctx, "D1", testNow.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("latest before verify: %v", err)
	}
	if ml != nil || u != nil {
		t.Fatal("expected no verified link before redeem")
	}

	usedAt := testNow.Add(time.Minute)
	if _, _, err := ms.Redeem(ctx, "tok-1", usedAt, nil); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	ml, u, err = ms.LatestVerifiedForDevice(ctx, "D1", usedAt.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("latest after verify: %v", err)
	}
	if ml == nil || u == nil {
		t.Fatal("expected verified link within lookback")
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.com")
	}

	ml, _, err = ms.LatestVerifiedForDevice(ctx, "D1", usedAt.Add(time.Second))
	if err != nil {
		t.Fatalf("latest outside lookback: %v", err)
	}
	if ml != nil {
		t.Error("expected no link once used_at falls outside the lookback")
	}

	ml, _, err = ms.LatestVerifiedForDevice(ctx, "D2", usedAt.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("latest other device: %v", err)
	}
	if ml != nil {
		t.Error("other device should not see the verification")
	}
}

func TestMagicLinkInvalidateDevice(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	ctx := context.Background()
	createLink(t, ms, "tok-1", "alice@example.com", "D1")
	createLink(t, ms, "tok-2", "alice@example.com", "D1")
	createLink(t, ms, "tok-3", "bob@example.com", "D2")

	n, err := ms.InvalidateDevice(ctx, "D1", testNow)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 2 {
		t.Errorf("invalidated = %d, want 2", n)
	}

	for _, tok := range []string{"tok-1", "tok-2"} {
		ml, _ := ms.GetByToken(ctx, tok)
		if !ml.Used || ml.RevokedAt == nil {
			t.Errorf("%s: used=%v revoked_at=%v, want used and revoked", tok, ml.Used, ml.RevokedAt)
		}
	}
	other, _ := ms.GetByToken(ctx, "tok-3")
	if other.Used {
		t.Error("other device's link should be untouched")
	}

	n, err = ms.InvalidateDevice(ctx, "D1", testNow)
	if err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
	if n != 0 {
		t.Errorf("second invalidate = %d, want 0", n)
	}

	// Revoked links never count as a verification.
	ml, _, err := ms.LatestVerifiedForDevice(ctx, "D1", testNow.Add(-time.Minute))
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if ml != nil {
		t.Error("revoked link reported as verified")
	}
}
