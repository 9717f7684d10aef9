package settings

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/streamforge/botfleet/crypto"
	"github.com/streamforge/botfleet/testutil"
)

func testEncryptor(t *testing.T) crypto.Encryptor {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func TestStorePersistAndGet(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	store := NewStore(dbx, testEncryptor(t), 4)
	ctx := context.Background()

	ts := baseSettings()
	ts.TenantID = "store-test-1"
	ts.BotRefreshToken = "refresh-secret"
	if err := store.Persist(ctx, ts); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got, err := store.Get(ctx, "store-test-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BotOAuthToken != "token-a" {
		t.Errorf("BotOAuthToken = %q, want decrypted token-a", got.BotOAuthToken)
	}
	if got.BotRefreshToken != "refresh-secret" {
		t.Errorf("BotRefreshToken = %q, want decrypted refresh-secret", got.BotRefreshToken)
	}
	if len(got.Features) != 2 {
		t.Errorf("features = %d, want 2", len(got.Features))
	}

	// Credentials must not be readable straight off the row.
	var raw string
	err = dbx.QueryRowContext(ctx,
		`SELECT settings->>'bot_oauth_token' FROM tenant_settings WHERE tenant_id = $1`, "store-test-1").Scan(&raw)
	if err != nil {
		t.Fatalf("query raw settings: %v", err)
	}
	if raw == "token-a" {
		t.Error("bot oauth token stored in plaintext")
	}
}

func TestStoreGetMissing(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	store := NewStore(dbx, nil, 4)
	if _, err := store.Get(context.Background(), "no-such-tenant"); err != ErrNotFound {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestStoreScanActiveSkipsInactive(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	store := NewStore(dbx, nil, 4)
	ctx := context.Background()

	active := baseSettings()
	active.TenantID = "scan-active"
	inactive := baseSettings()
	inactive.TenantID = "scan-inactive"
	inactive.IsActive = false
	if err := store.Persist(ctx, active); err != nil {
		t.Fatalf("Persist active: %v", err)
	}
	if err := store.Persist(ctx, inactive); err != nil {
		t.Fatalf("Persist inactive: %v", err)
	}

	all, err := store.ScanActive(ctx)
	if err != nil {
		t.Fatalf("ScanActive: %v", err)
	}
	for _, ts := range all {
		if ts.TenantID == "scan-inactive" {
			t.Error("ScanActive returned an inactive tenant")
		}
	}
}

func TestFeedObservesPersistedChanges(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	store := NewStore(dbx, nil, 1)
	feed := NewPostgresFeed(dbx, 1)
	ctx := context.Background()

	// Position at the tail before writing.
	_, cursor, err := feed.Poll(ctx, 0, "")
	if err != nil {
		t.Fatalf("initial poll: %v", err)
	}
	if cursor == "" {
		t.Fatal("initial poll returned empty cursor")
	}

	ts := baseSettings()
	ts.TenantID = "feed-test-1"
	if err := store.Persist(ctx, ts); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := store.Delete(ctx, "feed-test-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	records, next, err := feed.Poll(ctx, 0, cursor)
	if err != nil {
		t.Fatalf("poll after writes: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].TenantID != "feed-test-1" || records[0].ChangeType != ChangeUpsert {
		t.Errorf("first record = %+v, want upsert for feed-test-1", records[0])
	}
	if records[1].ChangeType != ChangeDelete {
		t.Errorf("second record = %+v, want delete", records[1])
	}
	if next == cursor {
		t.Error("cursor did not advance")
	}

	// Feed is drained; the cursor holds position instead of exhausting.
	more, again, err := feed.Poll(ctx, 0, next)
	if err != nil {
		t.Fatalf("drained poll: %v", err)
	}
	if len(more) != 0 {
		t.Errorf("drained poll returned %d records", len(more))
	}
	if again != next {
		t.Errorf("drained cursor moved from %s to %s", next, again)
	}
}

func TestFeedPartitions(t *testing.T) {
	feed := NewPostgresFeed(nil, 4)
	parts, err := feed.Partitions(context.Background())
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(parts) != 4 {
		t.Fatalf("partitions = %d, want 4", len(parts))
	}
}

func TestFeedInvalidCursor(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	feed := NewPostgresFeed(dbx, 1)
	if _, _, err := feed.Poll(context.Background(), 0, "not-a-number"); err == nil {
		t.Fatal("expected error for invalid cursor")
	}
}
