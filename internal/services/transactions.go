package services

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"sales-forecast/internal/errors"
	"sales-forecast/internal/models"
	"sales-forecast/internal/observability"
)

const (
	csvChunkSize = 1000
	maxWorkers   = 10
)

var (
	ingestMeter     = otel.Meter("sales-forecast/ingest")
	ingestedRows, _ = ingestMeter.Int64Counter("transactions.ingested",
		metric.WithDescription("Transactions stored, by source"),
	)
	ingestFailures, _ = ingestMeter.Int64Counter("transactions.ingest_failures",
		metric.WithDescription("Rejected inserts and imports, by source"),
	)
)

var errEmptyCSV = stderrors.New("no columns to parse from file")

// csvColumns are the header names every import must carry. Other columns
// are ignored.
var csvColumns = []string{
	"tanggal",
	"nama_customer",
	"nama_barang",
	"jumlah_barang",
	"harga_satuan",
	"total_pembayaran",
	"size",
	"kategori",
}

// RecordStore is the persistence the services need. *store.Store satisfies it.
type RecordStore interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	InsertBatch(ctx context.Context, txs []models.Transaction) error
	Query(ctx context.Context, f models.Filter) ([]models.Transaction, error)
	DistinctValues(ctx context.Context, column models.Column, f models.Filter) ([]string, error)
	Count(ctx context.Context, f models.Filter) (int64, error)
}

type TransactionService struct {
	store  RecordStore
	logger *slog.Logger
}

func NewTransactionService(store RecordStore, logger *slog.Logger) *TransactionService {
	return &TransactionService{
		store:  store,
		logger: logger,
	}
}

// NewTransaction builds a row from input. Every key must be present, the
// date must be YYYY-MM-DD and the numeric fields non-negative. The total is
// taken as given.
func NewTransaction(in models.TransactionInput) (models.Transaction, error) {
	missing := func(key string) (models.Transaction, error) {
		return models.Transaction{}, fmt.Errorf("missing field %q", key)
	}

	switch {
	case in.Date == nil:
		return missing("tanggal")
	case in.CustomerName == nil:
		return missing("nama_customer")
	case in.ItemName == nil:
		return missing("nama_barang")
	case in.Quantity == nil:
		return missing("jumlah_barang")
	case in.UnitPrice == nil:
		return missing("harga_satuan")
	case in.TotalPayment == nil:
		return missing("total_pembayaran")
	case in.Size == nil:
		return missing("size")
	case in.Category == nil:
		return missing("kategori")
	}

	date, err := time.Parse(models.DateLayout, *in.Date)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("time data %q does not match format YYYY-MM-DD", *in.Date)
	}
	if *in.Quantity < 0 {
		return models.Transaction{}, fmt.Errorf("jumlah_barang must not be negative, got %d", *in.Quantity)
	}
	if in.UnitPrice.IsNegative() {
		return models.Transaction{}, fmt.Errorf("harga_satuan must not be negative, got %s", in.UnitPrice)
	}
	if in.TotalPayment.IsNegative() {
		return models.Transaction{}, fmt.Errorf("total_pembayaran must not be negative, got %s", in.TotalPayment)
	}

	return models.Transaction{
		Date:         date,
		CustomerName: *in.CustomerName,
		ItemName:     *in.ItemName,
		Quantity:     *in.Quantity,
		UnitPrice:    *in.UnitPrice,
		TotalPayment: *in.TotalPayment,
		Size:         *in.Size,
		Category:     *in.Category,
	}, nil
}

// Create validates and stores a single transaction.
func (s *TransactionService) Create(ctx context.Context, in models.TransactionInput) (*models.Transaction, error) {
	tx, err := NewTransaction(in)
	if err != nil {
		ingestFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "json")))
		return nil, errors.ValidationWrap(err, err.Error())
	}

	if err := s.store.Insert(ctx, &tx); err != nil {
		ingestFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "json")))
		return nil, errors.InternalWrap(err, "Failed to store transaction")
	}

	ingestedRows.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "json")))
	s.logger.DebugContext(ctx, "transaction stored",
		"id", tx.ID,
		"kategori", tx.Category,
		"nama_barang", tx.ItemName,
	)
	return &tx, nil
}

// ImportCSV parses a CSV document and stores every row in one database
// transaction. Any failure leaves the store untouched and is reported as
// INGEST_FAILED carrying the underlying error text.
func (s *TransactionService) ImportCSV(ctx context.Context, r io.Reader) (n int, err error) {
	batchID := uuid.NewString()
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "transactions.ImportCSV",
		attribute.String("import.batch_id", batchID),
	)
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			ingestFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "csv")))
		}
	}()

	txs, err := parseTransactionsCSV(ctx, r)
	if err != nil {
		s.logger.WarnContext(ctx, "csv import rejected", "batch_id", batchID, "error", err)
		return 0, errors.Ingest(err)
	}

	if err := s.store.InsertBatch(ctx, txs); err != nil {
		s.logger.ErrorContext(ctx, "csv import failed", "batch_id", batchID, "rows", len(txs), "error", err)
		return 0, errors.Ingest(err)
	}

	span.SetAttributes(attribute.Int("import.rows", len(txs)))
	ingestedRows.Add(ctx, int64(len(txs)), metric.WithAttributes(attribute.String("source", "csv")))

	duration := time.Since(start)
	s.logger.InfoContext(ctx, "csv import complete",
		"batch_id", batchID,
		"rows", len(txs),
		"duration", duration,
	)
	return len(txs), nil
}

func parseTransactionsCSV(ctx context.Context, r io.Reader) ([]models.Transaction, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errEmptyCSV
	}

	index, err := headerIndex(records[0])
	if err != nil {
		return nil, err
	}

	rows := records[1:]
	txs := make([]models.Transaction, len(rows))
	chunkErrs := make([]error, (len(rows)+csvChunkSize-1)/csvChunkSize)

	var g errgroup.Group
	g.SetLimit(maxWorkers)

	for c := range chunkErrs {
		lo := c * csvChunkSize
		hi := min(lo+csvChunkSize, len(rows))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				tx, err := rowTransaction(rows[i], index)
				if err != nil {
					// Rows after the first failure in a chunk are not needed.
					chunkErrs[c] = fmt.Errorf("row %d: %w", i+1, err)
					return nil
				}
				txs[i] = tx
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, err := range chunkErrs {
		if err != nil {
			return nil, err
		}
	}

	return txs, nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, seen := index[name]; !seen {
			index[name] = i
		}
	}

	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	return index, nil
}

func rowTransaction(record []string, index map[string]int) (models.Transaction, error) {
	field := func(name string) *string {
		v := strings.TrimSpace(record[index[name]])
		return &v
	}

	qtyText := *field("jumlah_barang")
	qty, err := strconv.Atoi(qtyText)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("invalid jumlah_barang %q", qtyText)
	}

	price, err := parseAmount("harga_satuan", *field("harga_satuan"))
	if err != nil {
		return models.Transaction{}, err
	}
	total, err := parseAmount("total_pembayaran", *field("total_pembayaran"))
	if err != nil {
		return models.Transaction{}, err
	}

	return NewTransaction(models.TransactionInput{
		Date:         field("tanggal"),
		CustomerName: field("nama_customer"),
		ItemName:     field("nama_barang"),
		Quantity:     &qty,
		UnitPrice:    &price,
		TotalPayment: &total,
		Size:         field("size"),
		Category:     field("kategori"),
	})
}

func parseAmount(column, text string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q", column, text)
	}
	return d, nil
}

// Categories returns every distinct category.
func (s *TransactionService) Categories(ctx context.Context) ([]string, error) {
	values, err := s.store.DistinctValues(ctx, models.ColumnCategory, models.Filter{})
	if err != nil {
		return nil, errors.InternalWrap(err, "Failed to list categories")
	}
	return values, nil
}

// Items returns every distinct item name, limited to category when it is
// not empty.
func (s *TransactionService) Items(ctx context.Context, category string) ([]string, error) {
	values, err := s.store.DistinctValues(ctx, models.ColumnItemName, models.Filter{Category: category})
	if err != nil {
		return nil, errors.InternalWrap(err, "Failed to list items")
	}
	return values, nil
}

func (s *TransactionService) List(ctx context.Context, f models.Filter) ([]models.Transaction, error) {
	txs, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, errors.InternalWrap(err, "Failed to query transactions")
	}
	return txs, nil
}
