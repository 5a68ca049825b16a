package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"partsbill/backend/internal/domain"
	"partsbill/backend/internal/session"
	"partsbill/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const searchLimit = 10

// Service implements the billing workflow: catalog operations, the
// session-owned cart, finalization into invoices, and invoice reads.
type Service struct {
	repo     store.Repository
	carts    session.CartStore
	shopName string
}

func New(repo store.Repository, carts session.CartStore, shopName string) *Service {
	if shopName == "" {
		shopName = "Sri Vinayaga Auto Parts"
	}

	return &Service{
		repo:     repo,
		carts:    carts,
		shopName: shopName,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	req.PartNo = strings.ToUpper(strings.TrimSpace(req.PartNo))
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)

	if req.PartNo == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.SellPricePaise < 1 || req.MRPPaise < 0 || req.CostPricePaise < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.StockQty < 0 || req.MinStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.GSTPercent < 0 || req.GSTPercent > 100 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		PartNo:         req.PartNo,
		Barcode:        req.Barcode,
		Name:           req.Name,
		MRPPaise:       req.MRPPaise,
		SellPricePaise: req.SellPricePaise,
		CostPricePaise: req.CostPricePaise,
		StockQty:       req.StockQty,
		MinStock:       req.MinStock,
		GSTPercent:     req.GSTPercent,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	log.Printf("[audit] product_create actor=%s part_no=%s price=%d stock=%d", actor.Username, created.PartNo, created.SellPricePaise, created.StockQty)

	return *created, nil
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Product{}, nil
	}
	return s.repo.SearchProducts(ctx, query, searchLimit)
}

// LookupProduct resolves an exact part number or barcode, the scan-gun path.
func (s *Service) LookupProduct(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	product, err := s.repo.GetProductByCode(ctx, code)
	if err == nil {
		return *product, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, err
	}

	// Part numbers are stored uppercase; retry so lowercase scans still hit.
	product, err = s.repo.GetProductByCode(ctx, strings.ToUpper(code))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	if productID == "" || delta == 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	updated, err := s.repo.AdjustStock(ctx, productID, delta)
	if err != nil {
		return domain.Product{}, err
	}

	log.Printf("[audit] stock_adjust actor=%s product=%s delta=%d stock=%d", actor.Username, productID, delta, updated.StockQty)

	return *updated, nil
}

// StockSummary lists products at or below their minimum stock level.
func (s *Service) StockSummary(ctx context.Context) (domain.StockSummaryResponse, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.StockSummaryResponse{}, err
	}

	low := make([]domain.StockSummaryRow, 0, 8)
	for _, p := range products {
		if p.StockQty > p.MinStock {
			continue
		}
		low = append(low, domain.StockSummaryRow{
			ProductID: p.ID,
			PartNo:    p.PartNo,
			Name:      p.Name,
			StockQty:  p.StockQty,
			MinStock:  p.MinStock,
		})
	}

	return domain.StockSummaryResponse{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		LowStock:    low,
	}, nil
}

// AddToCart appends a line to the session's cart. The stock check here is
// advisory only: nothing is reserved, and the authoritative check happens
// inside the finalize transaction.
func (s *Service) AddToCart(ctx context.Context, sessionID string, req domain.AddLineRequest) (domain.Cart, error) {
	if sessionID == "" {
		return domain.Cart{}, store.ErrInvalidInput
	}
	if req.ProductID == "" || req.Quantity < 1 {
		return domain.Cart{}, store.ErrInvalidInput
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Cart{}, err
	}

	cart, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}

	// Count quantity already carted for this product so repeated adds get the
	// same advisory answer a single large add would.
	pending := 0
	for _, line := range cart.Lines {
		if line.ProductID == req.ProductID {
			pending += line.Quantity
		}
	}
	if pending+req.Quantity > product.StockQty {
		return domain.Cart{}, store.ErrInsufficientStock
	}

	line := domain.CartLine{
		ProductID:      product.ID,
		PartNo:         product.PartNo,
		Name:           product.Name,
		Quantity:       req.Quantity,
		UnitPricePaise: product.SellPricePaise,
		GSTPercent:     product.GSTPercent,
	}
	line.LineTotalPaise = lineTotalPaise(line.Quantity, line.UnitPricePaise, line.GSTPercent)

	cart.Lines = append(cart.Lines, line)
	cart.GrandTotalPaise = grandTotalPaise(cart.Lines)

	if err := s.carts.Save(ctx, sessionID, cart); err != nil {
		return domain.Cart{}, err
	}

	return cart, nil
}

func (s *Service) GetCart(ctx context.Context, sessionID string) (domain.Cart, error) {
	if sessionID == "" {
		return domain.Cart{}, store.ErrInvalidInput
	}
	cart, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	return cart, nil
}

func (s *Service) ResetCart(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return store.ErrInvalidInput
	}
	return s.carts.Clear(ctx, sessionID)
}

// Finalize commits the session's cart into an invoice. On any failure the
// cart is left untouched so the cashier can adjust and retry; on success the
// cart is cleared and the invoice number returned for document rendering.
func (s *Service) Finalize(ctx context.Context, sessionID string) (domain.FinalizeResponse, error) {
	if sessionID == "" {
		return domain.FinalizeResponse{}, store.ErrInvalidInput
	}

	cart, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	if cart.Empty() {
		return domain.FinalizeResponse{}, store.ErrEmptyCart
	}

	invoice, err := s.repo.FinalizeCart(ctx, cart, time.Now().UTC())
	if err != nil {
		return domain.FinalizeResponse{}, err
	}

	if err := s.carts.Clear(ctx, sessionID); err != nil {
		// The invoice is committed; a stale session cart is recoverable while
		// a lost invoice is not, so log and continue.
		log.Printf("[service] WARN: failed to clear cart for session %s after finalize: %v", sessionID, err)
	}

	actorName := "-"
	if actor, ok := ActorFromContext(ctx); ok {
		actorName = actor.Username
	}
	log.Printf("[audit] finalize actor=%s invoice_no=%s total=%d lines=%d", actorName, invoice.InvoiceNo, invoice.TotalPaise, len(invoice.Items))

	return domain.FinalizeResponse{
		InvoiceNo:  invoice.InvoiceNo,
		InvoiceID:  invoice.ID,
		TotalPaise: invoice.TotalPaise,
		CreatedAt:  invoice.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceNo string) (domain.InvoiceView, error) {
	invoiceNo = strings.TrimSpace(invoiceNo)
	if invoiceNo == "" {
		return domain.InvoiceView{}, store.ErrInvalidInput
	}

	view, err := s.repo.GetInvoiceByNo(ctx, invoiceNo)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	return *view, nil
}

// BuildInvoiceDocument renders a committed invoice as a printable plain-text
// document. Page layout and PDF conversion are the rendering layer's job.
func (s *Service) BuildInvoiceDocument(ctx context.Context, invoiceNo string) (domain.InvoiceDocument, error) {
	view, err := s.GetInvoice(ctx, invoiceNo)
	if err != nil {
		return domain.InvoiceDocument{}, err
	}

	lines := []string{
		s.shopName,
		"================================",
		"Invoice No : " + view.InvoiceNo,
		"Date       : " + view.CreatedAt.Format("02-01-2006"),
		"--------------------------------",
	}
	for _, item := range view.Lines {
		lines = append(lines, fmt.Sprintf("%-10s %s", item.PartNo, item.Name))
		lines = append(lines, fmt.Sprintf("  %3d x %10s = %12s", item.Quantity, formatPaise(item.UnitPricePaise), formatPaise(item.TotalPaise)))
	}
	lines = append(lines,
		"--------------------------------",
		fmt.Sprintf("Total : %s", formatPaise(view.TotalPaise)),
		"================================",
		"Thank you, visit again",
		"",
	)

	return domain.InvoiceDocument{
		InvoiceNo: view.InvoiceNo,
		Text:      strings.Join(lines, "\n"),
		FileName:  fmt.Sprintf("invoice-%s.txt", view.InvoiceNo),
	}, nil
}

// lineTotalPaise applies GST on top of the unit price and rounds to the
// nearest paisa, the integer equivalent of rounding to 2 decimals.
func lineTotalPaise(qty int, unitPricePaise int64, gstPercent float64) int64 {
	base := float64(qty) * float64(unitPricePaise)
	return int64(math.Round(base * (1 + gstPercent/100)))
}

func grandTotalPaise(lines []domain.CartLine) int64 {
	total := int64(0)
	for _, line := range lines {
		total += line.LineTotalPaise
	}
	return total
}

func formatPaise(p int64) string {
	sign := ""
	if p < 0 {
		sign = "-"
		p = -p
	}
	return fmt.Sprintf("%s%d.%02d", sign, p/100, p%100)
}
