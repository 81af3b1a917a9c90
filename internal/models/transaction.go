package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and CSV format of transaction and forecast dates.
const DateLayout = "2006-01-02"

// Transaction is one sale. Column names keep the original store schema.
type Transaction struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Date         time.Time       `gorm:"column:tanggal;type:date;not null" json:"tanggal"`
	CustomerName string          `gorm:"column:nama_customer;size:100" json:"nama_customer"`
	ItemName     string          `gorm:"column:nama_barang;size:100;index:idx_kategori_barang,priority:2" json:"nama_barang"`
	Quantity     int             `gorm:"column:jumlah_barang" json:"jumlah_barang"`
	UnitPrice    decimal.Decimal `gorm:"column:harga_satuan;type:decimal(14,2)" json:"harga_satuan"`
	TotalPayment decimal.Decimal `gorm:"column:total_pembayaran;type:decimal(14,2)" json:"total_pembayaran"`
	Size         string          `gorm:"column:size;size:10" json:"size"`
	Category     string          `gorm:"column:kategori;size:50;index:idx_kategori_barang,priority:1" json:"kategori"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// MarshalJSON renders the date as YYYY-MM-DD.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	return json.Marshal(struct {
		plain
		Date string `json:"tanggal"`
	}{
		plain: plain(t),
		Date:  t.Date.Format(DateLayout),
	})
}

// TransactionInput is the single-insert request body. Pointer fields let
// validation tell a missing key from a zero value.
type TransactionInput struct {
	Date         *string          `json:"tanggal"`
	CustomerName *string          `json:"nama_customer"`
	ItemName     *string          `json:"nama_barang"`
	Quantity     *int             `json:"jumlah_barang"`
	UnitPrice    *decimal.Decimal `json:"harga_satuan"`
	TotalPayment *decimal.Decimal `json:"total_pembayaran"`
	Size         *string          `json:"size"`
	Category     *string          `json:"kategori"`
}

// Column names a projectable text column of the transactions table.
type Column string

const (
	ColumnCategory Column = "kategori"
	ColumnItemName Column = "nama_barang"
)

func (c Column) Valid() bool {
	return c == ColumnCategory || c == ColumnItemName
}

// Filter holds equality constraints; empty fields are unconstrained.
type Filter struct {
	Category string
	ItemName string
}

type CategoryRevenue struct {
	Category     string  `json:"category"`
	TotalRevenue float64 `json:"total_revenue"`
	Transactions int     `json:"transactions"`
}

type ItemSales struct {
	ItemName     string `json:"item_name"`
	Category     string `json:"category"`
	QuantitySold int    `json:"quantity_sold"`
	Frequency    int    `json:"frequency"`
}

type MonthlyData struct {
	Month  string  `json:"month"`
	Volume float64 `json:"volume"`
}

type Summary struct {
	CategoryRevenue []CategoryRevenue `json:"category_revenue"`
	TopItems        []ItemSales       `json:"top_items"`
	MonthlySales    []MonthlyData     `json:"monthly_sales"`
	RecordCount     int64             `json:"record_count"`
}
