package domain

import "time"

// Product is a catalog entry. Prices are carried in paise (1/100 rupee) so
// totals stay exact; GSTPercent is the tax rate applied on top of the sell
// price at billing time.
type Product struct {
	ID             string    `json:"id"`
	PartNo         string    `json:"part_no"`
	Barcode        string    `json:"barcode,omitempty"`
	Name           string    `json:"name"`
	MRPPaise       int64     `json:"mrp_paise"`
	SellPricePaise int64     `json:"sell_price_paise"`
	CostPricePaise int64     `json:"cost_price_paise"`
	StockQty       int       `json:"stock_qty"`
	MinStock       int       `json:"min_stock"`
	GSTPercent     float64   `json:"gst_percent"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	PartNo         string  `json:"part_no"`
	Barcode        string  `json:"barcode,omitempty"`
	Name           string  `json:"name"`
	MRPPaise       int64   `json:"mrp_paise"`
	SellPricePaise int64   `json:"sell_price_paise"`
	CostPricePaise int64   `json:"cost_price_paise"`
	StockQty       int     `json:"stock_qty"`
	MinStock       int     `json:"min_stock"`
	GSTPercent     float64 `json:"gst_percent"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

// CartLine is one pending sale line. UnitPricePaise and GSTPercent are
// snapshots of the product at add time; LineTotalPaise already includes GST,
// rounded to the nearest paisa.
type CartLine struct {
	ProductID      string  `json:"product_id"`
	PartNo         string  `json:"part_no"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	UnitPricePaise int64   `json:"unit_price_paise"`
	GSTPercent     float64 `json:"gst_percent"`
	LineTotalPaise int64   `json:"line_total_paise"`
}

// Cart is the transient, session-owned bill being built up. It never touches
// the relational store; it lives in the session store until finalization or
// an explicit reset clears it.
type Cart struct {
	Lines           []CartLine `json:"lines"`
	GrandTotalPaise int64      `json:"grand_total_paise"`
}

func (c Cart) Empty() bool {
	return len(c.Lines) == 0
}

type AddLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Invoice is the immutable header of a committed sale.
type Invoice struct {
	ID         string        `json:"id"`
	InvoiceNo  string        `json:"invoice_no"`
	TotalPaise int64         `json:"total_paise"`
	CreatedAt  time.Time     `json:"created_at"`
	Items      []InvoiceItem `json:"items,omitempty"`
}

// InvoiceItem is one committed line, immutable after finalization. It
// references the product but does not own it; display fields are joined at
// read time.
type InvoiceItem struct {
	InvoiceID      string `json:"invoice_id"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPricePaise int64  `json:"unit_price_paise"`
	TotalPaise     int64  `json:"total_paise"`
}

// InvoiceLineView is an invoice item joined to its product for rendering.
type InvoiceLineView struct {
	PartNo         string `json:"part_no"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPricePaise int64  `json:"unit_price_paise"`
	TotalPaise     int64  `json:"total_paise"`
}

type InvoiceView struct {
	ID         string            `json:"id"`
	InvoiceNo  string            `json:"invoice_no"`
	TotalPaise int64             `json:"total_paise"`
	CreatedAt  time.Time         `json:"created_at"`
	Lines      []InvoiceLineView `json:"lines"`
}

type FinalizeResponse struct {
	InvoiceNo  string `json:"invoice_no"`
	InvoiceID  string `json:"invoice_id"`
	TotalPaise int64  `json:"total_paise"`
	CreatedAt  string `json:"created_at"`
}

// InvoiceDocument is the printable rendering of a committed invoice,
// produced from the reader's view. Page layout is left to the caller.
type InvoiceDocument struct {
	InvoiceNo string `json:"invoice_no"`
	Text      string `json:"text"`
	FileName  string `json:"file_name"`
}

type StockSummaryRow struct {
	ProductID string `json:"product_id"`
	PartNo    string `json:"part_no"`
	Name      string `json:"name"`
	StockQty  int    `json:"stock_qty"`
	MinStock  int    `json:"min_stock"`
}

type StockSummaryResponse struct {
	GeneratedAt string            `json:"generated_at"`
	LowStock    []StockSummaryRow `json:"low_stock"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserView is the collaborator-facing shape of an account; the password
// never leaves the auth layer.
type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
