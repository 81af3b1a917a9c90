package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sales-forecast/internal/config"
	"sales-forecast/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, logger)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sale(day int, item, category string, qty int) models.Transaction {
	price := decimal.RequireFromString("50000")
	return models.Transaction{
		Date:         time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		CustomerName: "Budi",
		ItemName:     item,
		Quantity:     qty,
		UnitPrice:    price,
		TotalPayment: price.Mul(decimal.NewFromInt(int64(qty))),
		Size:         "M",
		Category:     category,
	}
}

func TestStore_InsertAssignsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sale(1, "Kaos Polos", "Atasan", 2)
	second := sale(2, "Kaos Polos", "Atasan", 3)

	if err := s.Insert(ctx, &first); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := s.Insert(ctx, &second); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	if first.ID == 0 || second.ID == 0 {
		t.Fatalf("IDs not assigned: %d, %d", first.ID, second.ID)
	}
	if second.ID <= first.ID {
		t.Errorf("IDs should increase: %d then %d", first.ID, second.ID)
	}
}

func TestStore_QueryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sale(15, "Celana Jeans", "Bawahan", 4)
	want.UnitPrice = decimal.RequireFromString("125000.50")
	want.TotalPayment = decimal.RequireFromString("500002")
	if err := s.Insert(ctx, &want); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	got, err := s.Query(ctx, models.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}

	row := got[0]
	if row.Date.Format(models.DateLayout) != "2024-01-15" {
		t.Errorf("Date = %s, want 2024-01-15", row.Date.Format(models.DateLayout))
	}
	if row.ItemName != want.ItemName || row.Category != want.Category || row.CustomerName != want.CustomerName {
		t.Errorf("text fields = %+v", row)
	}
	if row.Quantity != 4 {
		t.Errorf("Quantity = %d, want 4", row.Quantity)
	}
	if !row.UnitPrice.Equal(want.UnitPrice) {
		t.Errorf("UnitPrice = %s, want %s", row.UnitPrice, want.UnitPrice)
	}
	if !row.TotalPayment.Equal(want.TotalPayment) {
		t.Errorf("TotalPayment = %s, want %s", row.TotalPayment, want.TotalPayment)
	}
}

func TestStore_QueryFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []models.Transaction{
		sale(5, "Kaos Polos", "Atasan", 1),
		sale(1, "Kemeja", "Atasan", 2),
		sale(3, "Kaos Polos", "Atasan", 3),
		sale(2, "Kaos Polos", "Promo", 4),
	}
	if err := s.InsertBatch(ctx, rows); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}

	tests := []struct {
		name   string
		filter models.Filter
		qty    []int
	}{
		{"no filter", models.Filter{}, []int{1, 2, 3, 4}},
		{"category", models.Filter{Category: "Atasan"}, []int{1, 2, 3}},
		{"item", models.Filter{ItemName: "Kaos Polos"}, []int{1, 3, 4}},
		{"both", models.Filter{Category: "Atasan", ItemName: "Kaos Polos"}, []int{1, 3}},
		{"no match", models.Filter{Category: "Sepatu"}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error: %v", err)
			}
			if got == nil {
				t.Fatal("Query() returned nil slice")
			}
			qty := make([]int, len(got))
			for i, tx := range got {
				qty[i] = tx.Quantity
			}
			if !slices.Equal(qty, tt.qty) {
				t.Errorf("quantities = %v, want %v (insertion order)", qty, tt.qty)
			}
		})
	}
}

func TestStore_InsertBatchAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	existing := sale(1, "Kaos Polos", "Atasan", 1)
	if err := s.Insert(ctx, &existing); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	dup := sale(2, "Kemeja", "Atasan", 1)
	dup.ID = existing.ID
	batch := []models.Transaction{sale(3, "Rok", "Bawahan", 1), dup}

	if err := s.InsertBatch(ctx, batch); err == nil {
		t.Fatal("InsertBatch() with a conflicting primary key should fail")
	}

	n, err := s.Count(ctx, models.Filter{})
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after failed batch, want 1", n)
	}
}

func TestStore_InsertBatchEmpty(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertBatch(context.Background(), nil); err != nil {
		t.Errorf("InsertBatch(nil) error: %v", err)
	}
}

func TestStore_DistinctValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []models.Transaction{
		sale(1, "Kaos Polos", "Atasan", 1),
		sale(2, "Kaos Polos", "Atasan", 1),
		sale(3, "Kemeja", "Atasan", 1),
		sale(4, "Celana Jeans", "Bawahan", 1),
		sale(5, "Celana Jeans", "Bawahan", 1),
	}
	if err := s.InsertBatch(ctx, rows); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}

	tests := []struct {
		name   string
		column models.Column
		filter models.Filter
		want   []string
	}{
		{"categories", models.ColumnCategory, models.Filter{}, []string{"Atasan", "Bawahan"}},
		{"all items", models.ColumnItemName, models.Filter{}, []string{"Celana Jeans", "Kaos Polos", "Kemeja"}},
		{"items in category", models.ColumnItemName, models.Filter{Category: "Atasan"}, []string{"Kaos Polos", "Kemeja"}},
		{"unknown category", models.ColumnItemName, models.Filter{Category: "Sepatu"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.DistinctValues(ctx, tt.column, tt.filter)
			if err != nil {
				t.Fatalf("DistinctValues() error: %v", err)
			}
			if got == nil {
				t.Fatal("DistinctValues() returned nil slice")
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("DistinctValues() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := s.DistinctValues(ctx, models.Column("nama_customer; DROP TABLE transactions"), models.Filter{}); err == nil {
		t.Error("DistinctValues() should reject columns outside the whitelist")
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "persist.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, DSN: dsn}
	ctx := context.Background()

	s, err := Open(cfg, logger)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	tx := sale(1, "Kaos Polos", "Atasan", 1)
	if err := s.Insert(ctx, &tx); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := Open(cfg, logger)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(ctx, models.Filter{})
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
	if err := reopened.Ping(ctx); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}, logger); err == nil {
		t.Error("Open() with unknown driver should fail")
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"data.db", "data.db?_pragma=busy_timeout(5000)"},
		{"file:data.db?mode=rwc", "file:data.db?mode=rwc&_pragma=busy_timeout(5000)"},
		{"data.db?_pragma=busy_timeout(100)", "data.db?_pragma=busy_timeout(100)"},
	}
	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
