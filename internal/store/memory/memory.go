package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"partsbill/backend/internal/domain"
	"partsbill/backend/internal/invoiceno"
	"partsbill/backend/internal/store"
	"partsbill/backend/internal/xid"
)

// Store is an in-process Repository used for dev mode and tests. One mutex
// serializes every mutation, so check-then-decrement and invoice-number
// allocation are trivially atomic.
type Store struct {
	mu              sync.RWMutex
	invoicePrefix   string
	productsByID    map[string]domain.Product
	productIDByPart map[string]string
	productIDByBar  map[string]string
	invoicesByNo    map[string]domain.Invoice
	lastNoByYear    map[int]string
	usersByUsername map[string]domain.UserAccount
}

func New(invoicePrefix string) *Store {
	if invoicePrefix == "" {
		invoicePrefix = "SV"
	}
	return &Store{
		invoicePrefix:   invoicePrefix,
		productsByID:    make(map[string]domain.Product),
		productIDByPart: make(map[string]string),
		productIDByBar:  make(map[string]string),
		invoicesByNo:    make(map[string]domain.Invoice),
		lastNoByYear:    make(map[int]string),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production
// deployments use PostgreSQL (DATABASE_URL) and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded(invoicePrefix string) *Store {
	s := New(invoicePrefix)

	now := time.Now().UTC()
	products := []domain.Product{
		{PartNo: "BP-1042", Barcode: "8901042000017", Name: "Brake Pad Set Front", MRPPaise: 145000, SellPricePaise: 129000, CostPricePaise: 98000, StockQty: 24, MinStock: 6, GSTPercent: 18},
		{PartNo: "OF-2201", Barcode: "8902201000024", Name: "Oil Filter", MRPPaise: 38000, SellPricePaise: 32000, CostPricePaise: 21000, StockQty: 60, MinStock: 12, GSTPercent: 18},
		{PartNo: "AF-3310", Name: "Air Filter Element", MRPPaise: 52000, SellPricePaise: 46500, CostPricePaise: 31000, StockQty: 35, MinStock: 8, GSTPercent: 18},
		{PartNo: "SP-4150", Barcode: "8904150000048", Name: "Spark Plug Iridium", MRPPaise: 42000, SellPricePaise: 38000, CostPricePaise: 24000, StockQty: 80, MinStock: 16, GSTPercent: 28},
		{PartNo: "CL-5077", Name: "Clutch Plate Assembly", MRPPaise: 265000, SellPricePaise: 238000, CostPricePaise: 182000, StockQty: 10, MinStock: 4, GSTPercent: 28},
		{PartNo: "HL-6120", Name: "Headlight Bulb H4", MRPPaise: 18500, SellPricePaise: 16000, CostPricePaise: 9500, StockQty: 48, MinStock: 10, GSTPercent: 18},
		{PartNo: "WB-7008", Barcode: "8907008000079", Name: "Wiper Blade 16in", MRPPaise: 29000, SellPricePaise: 25500, CostPricePaise: 16500, StockQty: 30, MinStock: 6, GSTPercent: 18},
		{PartNo: "CH-8844", Name: "Chain Sprocket Kit", MRPPaise: 198000, SellPricePaise: 179000, CostPricePaise: 132000, StockQty: 12, MinStock: 4, GSTPercent: 28},
		{PartNo: "BT-9035", Barcode: "8909035000093", Name: "Battery 12V 35Ah", MRPPaise: 485000, SellPricePaise: 449000, CostPricePaise: 362000, StockQty: 8, MinStock: 3, GSTPercent: 28},
		{PartNo: "GR-1107", Name: "Multi-Purpose Grease 500g", MRPPaise: 24000, SellPricePaise: 21000, CostPricePaise: 13500, StockQty: 2, MinStock: 5, GSTPercent: 18},
	}

	for _, p := range products {
		p.ID = xid.New("prd")
		p.CreatedAt = now
		s.productsByID[p.ID] = p
		s.productIDByPart[p.PartNo] = p.ID
		if p.Barcode != "" {
			s.productIDByBar[p.Barcode] = p.ID
		}
	}
	s.usersByUsername = seedUsers()

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.PartNo == "" || product.Name == "" || product.SellPricePaise < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.StockQty < 0 || product.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.GSTPercent < 0 || product.GSTPercent > 100 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.productIDByPart[product.PartNo]; exists {
		return nil, store.ErrDuplicatePartNo
	}
	if product.Barcode != "" {
		if _, exists := s.productIDByBar[product.Barcode]; exists {
			return nil, store.ErrDuplicateBarcode
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.productsByID[product.ID] = product
	s.productIDByPart[product.PartNo] = product.ID
	if product.Barcode != "" {
		s.productIDByBar[product.Barcode] = product.ID
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productIDByPart[code]
	if !ok {
		id, ok = s.productIDByBar[code]
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := s.productsByID[id]
	return &copied, nil
}

func (s *Store) SearchProducts(_ context.Context, prefix string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 10
	}
	needle := strings.ToUpper(strings.TrimSpace(prefix))
	if needle == "" {
		return []domain.Product{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.Product, 0, limit)
	for _, p := range s.productsByID {
		if strings.HasPrefix(strings.ToUpper(p.PartNo), needle) || strings.HasPrefix(strings.ToUpper(p.Name), needle) {
			matches = append(matches, p)
		}
	}
	slices.SortFunc(matches, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

func (s *Store) AdjustStock(_ context.Context, id string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	next := product.StockQty + delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}
	product.StockQty = next
	s.productsByID[id] = product

	updated := product
	return &updated, nil
}

// FinalizeCart validates the whole cart first and mutates only after every
// line has passed, so any failure leaves the store exactly as it was.
func (s *Store) FinalizeCart(_ context.Context, cart domain.Cart, at time.Time) (*domain.Invoice, error) {
	if cart.Empty() {
		return nil, store.ErrEmptyCart
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	needed := make(map[string]int, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		if _, exists := s.productsByID[line.ProductID]; !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		needed[line.ProductID] += line.Quantity
	}

	// Commit-time re-validation: the authoritative stock gate.
	for productID, qty := range needed {
		if s.productsByID[productID].StockQty < qty {
			return nil, fmt.Errorf("%w: product %s", store.ErrStockExhausted, productID)
		}
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	year := at.Year()
	invoiceNo, err := invoiceno.Next(s.invoicePrefix, year, s.lastNoByYear[year])
	if err != nil {
		return nil, err
	}
	if _, exists := s.invoicesByNo[invoiceNo]; exists {
		return nil, store.ErrNumberingConflict
	}

	invoice := domain.Invoice{
		ID:         xid.New("inv"),
		InvoiceNo:  invoiceNo,
		TotalPaise: cart.GrandTotalPaise,
		CreatedAt:  at,
		Items:      make([]domain.InvoiceItem, 0, len(cart.Lines)),
	}
	for _, line := range cart.Lines {
		invoice.Items = append(invoice.Items, domain.InvoiceItem{
			InvoiceID:      invoice.ID,
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPricePaise: line.UnitPricePaise,
			TotalPaise:     line.LineTotalPaise,
		})
	}

	for productID, qty := range needed {
		product := s.productsByID[productID]
		product.StockQty -= qty
		s.productsByID[productID] = product
	}
	s.invoicesByNo[invoiceNo] = invoice
	s.lastNoByYear[year] = invoiceNo

	created := invoice
	return &created, nil
}

func (s *Store) GetInvoiceByNo(_ context.Context, invoiceNo string) (*domain.InvoiceView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.invoicesByNo[invoiceNo]
	if !exists {
		return nil, store.ErrNotFound
	}

	view := domain.InvoiceView{
		ID:         invoice.ID,
		InvoiceNo:  invoice.InvoiceNo,
		TotalPaise: invoice.TotalPaise,
		CreatedAt:  invoice.CreatedAt,
		Lines:      make([]domain.InvoiceLineView, 0, len(invoice.Items)),
	}
	for _, item := range invoice.Items {
		product := s.productsByID[item.ProductID]
		view.Lines = append(view.Lines, domain.InvoiceLineView{
			PartNo:         product.PartNo,
			Name:           product.Name,
			Quantity:       item.Quantity,
			UnitPricePaise: item.UnitPricePaise,
			TotalPaise:     item.TotalPaise,
		})
	}

	return &view, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
