package store

import (
	"context"
	"errors"
	"time"

	"partsbill/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is the advisory add-time failure: the requested
	// quantity exceeds stock right now, but nothing is reserved.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockExhausted is the authoritative commit-time failure: stock
	// dropped below the cart's quantity between add and finalize. The whole
	// finalization rolls back.
	ErrStockExhausted    = errors.New("stock exhausted at commit")
	ErrDuplicatePartNo   = errors.New("duplicate part number")
	ErrDuplicateBarcode  = errors.New("duplicate barcode")
	ErrNumberingConflict = errors.New("invoice number conflict")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidInput      = errors.New("invalid input")
	// ErrForbidden marks an operation the actor's role does not permit.
	ErrForbidden = errors.New("forbidden")
)

// Repository is the shared persistent store. Implementations must serialize
// stock check-and-decrement and invoice-number allocation themselves;
// FinalizeCart is all-or-nothing.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	SearchProducts(ctx context.Context, prefix string, limit int) ([]domain.Product, error)
	AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error)
	FinalizeCart(ctx context.Context, cart domain.Cart, at time.Time) (*domain.Invoice, error)
	GetInvoiceByNo(ctx context.Context, invoiceNo string) (*domain.InvoiceView, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
