package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"partsbill/backend/internal/domain"
	"partsbill/backend/internal/store"
)

func mustProduct(t *testing.T, s *Store, code string) domain.Product {
	t.Helper()
	p, err := s.GetProductByCode(context.Background(), code)
	if err != nil {
		t.Fatalf("get product %s: %v", code, err)
	}
	return *p
}

func cartFor(product domain.Product, qty int) domain.Cart {
	total := int64(qty) * product.SellPricePaise
	return domain.Cart{
		Lines: []domain.CartLine{{
			ProductID:      product.ID,
			PartNo:         product.PartNo,
			Name:           product.Name,
			Quantity:       qty,
			UnitPricePaise: product.SellPricePaise,
			GSTPercent:     product.GSTPercent,
			LineTotalPaise: total,
		}},
		GrandTotalPaise: total,
	}
}

func TestCreateProductRejectsDuplicatePartNo(t *testing.T) {
	s := NewSeeded("SV")

	_, err := s.CreateProduct(context.Background(), domain.Product{
		PartNo:         "BP-1042",
		Name:           "Another Brake Pad",
		SellPricePaise: 1000,
	})
	if !errors.Is(err, store.ErrDuplicatePartNo) {
		t.Fatalf("expected ErrDuplicatePartNo, got %v", err)
	}
}

func TestCreateProductRejectsDuplicateBarcode(t *testing.T) {
	s := NewSeeded("SV")

	_, err := s.CreateProduct(context.Background(), domain.Product{
		PartNo:         "NEW-0001",
		Barcode:        "8901042000017",
		Name:           "Clone",
		SellPricePaise: 1000,
	})
	if !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("expected ErrDuplicateBarcode, got %v", err)
	}
}

func TestAdjustStockCannotGoNegative(t *testing.T) {
	s := NewSeeded("SV")
	product := mustProduct(t, s, "GR-1107") // seeded with stock 2

	_, err := s.AdjustStock(context.Background(), product.ID, -3)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after := mustProduct(t, s, "GR-1107")
	if after.StockQty != product.StockQty {
		t.Fatalf("stock changed on failed adjust: %d -> %d", product.StockQty, after.StockQty)
	}
}

func TestFinalizeCartDecrementsStockAndNumbersSequentially(t *testing.T) {
	s := NewSeeded("SV")
	ctx := context.Background()
	product := mustProduct(t, s, "OF-2201")
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		invoice, err := s.FinalizeCart(ctx, cartFor(product, 2), at)
		if err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
		want := fmt.Sprintf("SV-2026-%04d", i)
		if invoice.InvoiceNo != want {
			t.Fatalf("expected %s, got %s", want, invoice.InvoiceNo)
		}
	}

	after := mustProduct(t, s, "OF-2201")
	if after.StockQty != product.StockQty-6 {
		t.Fatalf("expected stock %d, got %d", product.StockQty-6, after.StockQty)
	}
}

func TestFinalizeCartIsAtomicOnStockFailure(t *testing.T) {
	s := NewSeeded("SV")
	ctx := context.Background()
	good := mustProduct(t, s, "BP-1042")
	scarce := mustProduct(t, s, "GR-1107") // stock 2

	cart := cartFor(good, 1)
	cart.Lines = append(cart.Lines, domain.CartLine{
		ProductID:      scarce.ID,
		PartNo:         scarce.PartNo,
		Name:           scarce.Name,
		Quantity:       scarce.StockQty + 1,
		UnitPricePaise: scarce.SellPricePaise,
		LineTotalPaise: int64(scarce.StockQty+1) * scarce.SellPricePaise,
	})

	_, err := s.FinalizeCart(ctx, cart, time.Now().UTC())
	if !errors.Is(err, store.ErrStockExhausted) {
		t.Fatalf("expected ErrStockExhausted, got %v", err)
	}

	// The passing line must not have been committed either.
	if after := mustProduct(t, s, "BP-1042"); after.StockQty != good.StockQty {
		t.Fatalf("stock for %s changed on failed finalize: %d -> %d", good.PartNo, good.StockQty, after.StockQty)
	}
	if after := mustProduct(t, s, "GR-1107"); after.StockQty != scarce.StockQty {
		t.Fatalf("stock for %s changed on failed finalize: %d -> %d", scarce.PartNo, scarce.StockQty, after.StockQty)
	}
	firstNo := fmt.Sprintf("SV-%d-0001", time.Now().UTC().Year())
	if _, err := s.GetInvoiceByNo(ctx, firstNo); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no invoice after failed finalize, got %v", err)
	}
}

func TestFinalizeCartAggregatesRepeatLines(t *testing.T) {
	s := NewSeeded("SV")
	scarce := mustProduct(t, s, "GR-1107") // stock 2

	// Two lines of 1 each pass; a third pushes the aggregate past stock.
	cart := cartFor(scarce, 1)
	cart.Lines = append(cart.Lines, cart.Lines[0], cart.Lines[0])

	_, err := s.FinalizeCart(context.Background(), cart, time.Now().UTC())
	if !errors.Is(err, store.ErrStockExhausted) {
		t.Fatalf("expected ErrStockExhausted for aggregated lines, got %v", err)
	}
}

func TestFinalizeCartRejectsEmptyCart(t *testing.T) {
	s := NewSeeded("SV")

	_, err := s.FinalizeCart(context.Background(), domain.Cart{}, time.Now().UTC())
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestGetInvoiceByNoJoinsProducts(t *testing.T) {
	s := NewSeeded("SV")
	ctx := context.Background()
	product := mustProduct(t, s, "WB-7008")

	invoice, err := s.FinalizeCart(ctx, cartFor(product, 2), time.Now().UTC())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	view, err := s.GetInvoiceByNo(ctx, invoice.InvoiceNo)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(view.Lines))
	}
	if view.Lines[0].PartNo != "WB-7008" || view.Lines[0].Name != product.Name {
		t.Fatalf("expected joined product fields, got %+v", view.Lines[0])
	}
	if view.TotalPaise != invoice.TotalPaise {
		t.Fatalf("total mismatch: %d vs %d", view.TotalPaise, invoice.TotalPaise)
	}
}

func TestGetInvoiceByNoUnknown(t *testing.T) {
	s := NewSeeded("SV")

	_, err := s.GetInvoiceByNo(context.Background(), "SV-2026-9999")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchProductsPrefixAndLimit(t *testing.T) {
	s := NewSeeded("SV")
	ctx := context.Background()

	matches, err := s.SearchProducts(ctx, "bp-10", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].PartNo != "BP-1042" {
		t.Fatalf("expected BP-1042 match, got %+v", matches)
	}

	for i := 0; i < 15; i++ {
		_, err := s.CreateProduct(ctx, domain.Product{
			PartNo:         fmt.Sprintf("ZZ-%04d", i),
			Name:           fmt.Sprintf("Widget %02d", i),
			SellPricePaise: 1000,
			StockQty:       1,
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	matches, err = s.SearchProducts(ctx, "ZZ-", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 10 {
		t.Fatalf("expected limit of 10 matches, got %d", len(matches))
	}
}
