package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sales-forecast/internal/models"
)

// memStore is an in-memory RecordStore with the same ordering rules as the
// gorm store: queries in insertion order, distinct values sorted.
type memStore struct {
	mu      sync.Mutex
	rows    []models.Transaction
	nextID  uint
	queries int
	failErr error
}

func newMemStore(rows ...models.Transaction) *memStore {
	s := &memStore{}
	for _, r := range rows {
		s.add(r)
	}
	return s
}

func (s *memStore) add(tx models.Transaction) models.Transaction {
	s.nextID++
	tx.ID = s.nextID
	s.rows = append(s.rows, tx)
	return tx
}

func (s *memStore) Insert(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	*tx = s.add(*tx)
	return nil
}

func (s *memStore) InsertBatch(_ context.Context, txs []models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	for _, tx := range txs {
		s.add(tx)
	}
	return nil
}

func (s *memStore) Query(_ context.Context, f models.Filter) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.failErr != nil {
		return nil, s.failErr
	}
	out := []models.Transaction{}
	for _, tx := range s.rows {
		if matches(tx, f) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *memStore) DistinctValues(_ context.Context, column models.Column, f models.Filter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !column.Valid() {
		return nil, fmt.Errorf("column %q cannot be projected", column)
	}
	if s.failErr != nil {
		return nil, s.failErr
	}
	out := []string{}
	for _, tx := range s.rows {
		if !matches(tx, f) {
			continue
		}
		v := tx.Category
		if column == models.ColumnItemName {
			v = tx.ItemName
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *memStore) Count(_ context.Context, f models.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	var n int64
	for _, tx := range s.rows {
		if matches(tx, f) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func matches(tx models.Transaction, f models.Filter) bool {
	return (f.Category == "" || tx.Category == f.Category) &&
		(f.ItemName == "" || tx.ItemName == f.ItemName)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sale(date string, item, category string, qty int, total string) models.Transaction {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return models.Transaction{
		Date:         d,
		CustomerName: "Budi",
		ItemName:     item,
		Quantity:     qty,
		UnitPrice:    decimal.RequireFromString(total).Div(decimal.NewFromInt(int64(max(qty, 1)))),
		TotalPayment: decimal.RequireFromString(total),
		Size:         "M",
		Category:     category,
	}
}
