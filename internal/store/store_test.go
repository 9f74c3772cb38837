package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/farmstream/bchwatch/internal/models"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(entries))
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			t.Errorf("unexpected file in migrations: %s", entry.Name())
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d", &version); err != nil {
			t.Errorf("migration %s has no numeric version prefix", entry.Name())
		}
	}
}

// testStore connects to the database named by BCHWATCH_TEST_DSN and applies
// migrations. Tests that need a live Postgres are skipped without it.
func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("BCHWATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("BCHWATCH_TEST_DSN not set, skipping database test")
	}

	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return s
}

func insertUser(t *testing.T, s *Store, username *string) int64 {
	t.Helper()

	var id int64
	err := s.conn.QueryRow(
		`INSERT INTO users (username) VALUES ($1) RETURNING id`, username,
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	t.Cleanup(func() {
		s.conn.Exec(`DELETE FROM users WHERE id = $1`, id)
	})
	return id
}

func insertDevice(t *testing.T, s *Store, alias *string, feedPrice *float64) int64 {
	t.Helper()

	var id int64
	err := s.conn.QueryRow(
		`INSERT INTO devices (alias, crypto_feed_price) VALUES ($1, $2) RETURNING id`,
		alias, feedPrice,
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert device: %v", err)
	}
	t.Cleanup(func() {
		s.conn.Exec(`DELETE FROM devices WHERE id = $1`, id)
	})
	return id
}

func insertWatch(t *testing.T, s *Store, address string, userID, deviceID *int64, age time.Duration) {
	t.Helper()

	_, err := s.conn.Exec(`
		INSERT INTO bch (address, created_at, user_id, device_id)
		VALUES ($1, NOW() - ($2 * interval '1 second'), $3, $4)`,
		address, int64(age.Seconds()), userID, deviceID,
	)
	if err != nil {
		t.Fatalf("insert watch: %v", err)
	}
	t.Cleanup(func() {
		s.conn.Exec(`DELETE FROM bch WHERE address = $1`, address)
	})
}

func strPtr(v string) *string     { return &v }
func intPtr(v int64) *int64       { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestLoadWatches(t *testing.T) {
	s := testStore(t)
	userID := insertUser(t, s, strPtr("carol"))
	insertWatch(t, s, "bitcoincash:qloadwatch", intPtr(userID), nil, 0)

	watches, err := s.LoadWatches(context.Background())
	if err != nil {
		t.Fatalf("LoadWatches() error = %v", err)
	}

	var found *models.WatchedAddress
	for i := range watches {
		if watches[i].Address == "bitcoincash:qloadwatch" {
			found = &watches[i]
			break
		}
	}
	if found == nil {
		t.Fatal("inserted watch missing from LoadWatches")
	}
	if found.UserID == nil || *found.UserID != userID {
		t.Errorf("user_id = %v, want %d", found.UserID, userID)
	}
	if found.DeviceID != nil {
		t.Errorf("device_id = %v, want nil", found.DeviceID)
	}
	if time.Since(found.CreatedAt) > time.Minute {
		t.Errorf("created_at too old: %v", found.CreatedAt)
	}
}

func TestLookupUsername(t *testing.T) {
	s := testStore(t)

	named := insertUser(t, s, strPtr("dave"))
	anon := insertUser(t, s, nil)

	username, err := s.LookupUsername(context.Background(), named)
	if err != nil {
		t.Fatalf("LookupUsername() error = %v", err)
	}
	if username == nil || *username != "dave" {
		t.Errorf("username = %v, want dave", username)
	}

	username, err = s.LookupUsername(context.Background(), anon)
	if err != nil {
		t.Fatalf("LookupUsername() error = %v", err)
	}
	if username != nil {
		t.Errorf("NULL username = %v, want nil", *username)
	}

	username, err = s.LookupUsername(context.Background(), -1)
	if err != nil {
		t.Fatalf("LookupUsername() for missing row error = %v", err)
	}
	if username != nil {
		t.Errorf("missing user username = %v, want nil", *username)
	}
}

func TestApplyGrainReward_CoalescesNullBalance(t *testing.T) {
	s := testStore(t)
	userID := insertUser(t, s, strPtr("erin"))

	// Balance starts NULL; the first reward must land on 0, not fail.
	if err := s.ApplyGrainReward(context.Background(), userID, 40); err != nil {
		t.Fatalf("ApplyGrainReward() error = %v", err)
	}
	if err := s.ApplyGrainReward(context.Background(), userID, 5); err != nil {
		t.Fatalf("second ApplyGrainReward() error = %v", err)
	}

	var balance int64
	if err := s.conn.QueryRow(`SELECT grain_balance FROM users WHERE id = $1`, userID).Scan(&balance); err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance != 45 {
		t.Errorf("grain_balance = %d, want 45", balance)
	}

	if err := s.ApplyGrainReward(context.Background(), -1, 10); err == nil {
		t.Error("expected error rewarding a missing user")
	}
}

func TestDeviceLookupsAndFeeding(t *testing.T) {
	s := testStore(t)
	deviceID := insertDevice(t, s, strPtr("barn-cam"), floatPtr(2.50))

	d, err := s.LookupDevice(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("LookupDevice() error = %v", err)
	}
	if d == nil || d.Alias == nil || *d.Alias != "barn-cam" {
		t.Errorf("device = %+v, want alias barn-cam", d)
	}

	d, err = s.LookupDevice(context.Background(), -1)
	if err != nil {
		t.Fatalf("LookupDevice() for missing row error = %v", err)
	}
	if d != nil {
		t.Errorf("missing device = %+v, want nil", d)
	}

	price, err := s.LookupDeviceFeedPrice(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("LookupDeviceFeedPrice() error = %v", err)
	}
	if price == nil || *price != 2.50 {
		t.Errorf("feed price = %v, want 2.50", price)
	}

	now := time.Now().UTC()
	if err := s.ApplyFeeding(context.Background(), deviceID, now); err != nil {
		t.Fatalf("ApplyFeeding() error = %v", err)
	}
	if err := s.ApplyFeeding(context.Background(), deviceID, now); err != nil {
		t.Fatalf("second ApplyFeeding() error = %v", err)
	}

	var today, total int
	var last time.Time
	err = s.conn.QueryRow(
		`SELECT total_feedings_today, total_feedings, last_feeding FROM devices WHERE id = $1`, deviceID,
	).Scan(&today, &total, &last)
	if err != nil {
		t.Fatalf("read counters: %v", err)
	}
	if today != 2 || total != 2 {
		t.Errorf("counters = %d/%d, want 2/2", today, total)
	}
	if last.IsZero() {
		t.Error("last_feeding not set")
	}
}

func TestInsertAndListPayments(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 3; i++ {
		p := &models.PaymentRecord{
			TxID:        fmt.Sprintf("paytest-%d-%d", time.Now().UnixNano(), i),
			Address:     "bitcoincash:qpaytest",
			AmountSats:  int64(1000 * (i + 1)),
			Reference:   "42",
			Description: "test payment",
			EuroAmount:  floatPtr(1.25),
		}
		if err := s.InsertPayment(context.Background(), p); err != nil {
			t.Fatalf("InsertPayment() error = %v", err)
		}
		t.Cleanup(func() {
			s.conn.Exec(`DELETE FROM bchpayment WHERE tx_id = $1`, p.TxID)
		})
	}

	payments, err := s.RecentPayments(context.Background(), 50)
	if err != nil {
		t.Fatalf("RecentPayments() error = %v", err)
	}

	var mine []models.PaymentRecord
	for _, p := range payments {
		if p.Address == "bitcoincash:qpaytest" {
			mine = append(mine, p)
		}
	}
	if len(mine) != 3 {
		t.Fatalf("found %d test payments, want 3", len(mine))
	}
	for _, p := range mine {
		if p.SucceededAt == "" {
			t.Error("succeeded_at not populated")
		}
		if p.EuroAmount == nil || *p.EuroAmount != 1.25 {
			t.Errorf("euro_amount = %v, want 1.25", p.EuroAmount)
		}
		if p.UsdAmount != nil {
			t.Errorf("usd_amount = %v, want nil", p.UsdAmount)
		}
	}
}

func TestDeleteExpiredWatches(t *testing.T) {
	s := testStore(t)
	userID := insertUser(t, s, strPtr("frank"))

	insertWatch(t, s, "bitcoincash:qsweep_old", intPtr(userID), nil, 25*time.Hour)
	insertWatch(t, s, "bitcoincash:qsweep_fresh", intPtr(userID), nil, time.Hour)
	insertWatch(t, s, "bitcoincash:qsweep_paid", intPtr(userID), nil, 25*time.Hour)

	paid := &models.PaymentRecord{
		TxID:       fmt.Sprintf("sweeptest-%d", time.Now().UnixNano()),
		Address:    "bitcoincash:qsweep_paid",
		AmountSats: 5000,
	}
	if err := s.InsertPayment(context.Background(), paid); err != nil {
		t.Fatalf("InsertPayment() error = %v", err)
	}
	t.Cleanup(func() {
		s.conn.Exec(`DELETE FROM bchpayment WHERE tx_id = $1`, paid.TxID)
	})

	if _, err := s.DeleteExpiredWatches(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("DeleteExpiredWatches() error = %v", err)
	}

	remaining := map[string]bool{}
	watches, err := s.LoadWatches(context.Background())
	if err != nil {
		t.Fatalf("LoadWatches() error = %v", err)
	}
	for _, w := range watches {
		remaining[w.Address] = true
	}

	if remaining["bitcoincash:qsweep_old"] {
		t.Error("stale unpaid watch survived the sweep")
	}
	if !remaining["bitcoincash:qsweep_fresh"] {
		t.Error("fresh watch was swept")
	}
	if !remaining["bitcoincash:qsweep_paid"] {
		t.Error("paid watch was swept")
	}
}
