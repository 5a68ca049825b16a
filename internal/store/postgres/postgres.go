package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"partsbill/backend/internal/domain"
	"partsbill/backend/internal/invoiceno"
	"partsbill/backend/internal/store"
	"partsbill/backend/internal/xid"
)

type Store struct {
	db            *sql.DB
	invoicePrefix string
}

func New(ctx context.Context, databaseURL string, invoicePrefix string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if invoicePrefix == "" {
		invoicePrefix = "SV"
	}

	return &Store{db: db, invoicePrefix: invoicePrefix}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, part_no, COALESCE(barcode, ''), name, mrp_paise, sell_price_paise,
			cost_price_paise, stock_qty, min_stock, gst_percent, created_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.PartNo == "" || product.Name == "" || product.SellPricePaise < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.StockQty < 0 || product.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.GSTPercent < 0 || product.GSTPercent > 100 {
		return nil, store.ErrInvalidInput
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, part_no, barcode, name, mrp_paise, sell_price_paise,
			cost_price_paise, stock_qty, min_stock, gst_percent, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	`, product.ID, product.PartNo, nullIfEmpty(product.Barcode), product.Name,
		product.MRPPaise, product.SellPricePaise, product.CostPricePaise,
		product.StockQty, product.MinStock, product.GSTPercent, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "products_part_no_key") {
			return nil, store.ErrDuplicatePartNo
		}
		if isUniqueViolation(err, "products_barcode_key") {
			return nil, store.ErrDuplicateBarcode
		}
		if isUniqueViolation(err, "") {
			return nil, store.ErrDuplicatePartNo
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE part_no = $1 OR barcode = $1`, code)
}

func (s *Store) getProduct(ctx context.Context, where string, arg any) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, part_no, COALESCE(barcode, ''), name, mrp_paise, sell_price_paise,
			cost_price_paise, stock_qty, min_stock, gst_percent, created_at
		FROM products
		`+where+`
		LIMIT 1
	`, arg)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) SearchProducts(ctx context.Context, prefix string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 10
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, part_no, COALESCE(barcode, ''), name, mrp_paise, sell_price_paise,
			cost_price_paise, stock_qty, min_stock, gst_percent, created_at
		FROM products
		WHERE part_no ILIKE $1 OR name ILIKE $1
		ORDER BY name
		LIMIT $2
	`, prefix+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	// Check and adjust in one statement; the WHERE clause enforces the
	// stock_qty >= 0 invariant without a separate read.
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty + $2, updated_at = now()
		WHERE id = $1 AND stock_qty + $2 >= 0
	`, id, delta)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, lookupErr := s.GetProductByID(ctx, id); errors.Is(lookupErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrInsufficientStock
	}

	return s.GetProductByID(ctx, id)
}

// FinalizeCart commits a cart in a single serializable transaction: stock
// rows are locked and re-validated, the invoice number is allocated with the
// previous year-row locked, and header, items and decrements all land or
// none do.
func (s *Store) FinalizeCart(ctx context.Context, cart domain.Cart, at time.Time) (*domain.Invoice, error) {
	if cart.Empty() {
		return nil, store.ErrEmptyCart
	}
	for _, line := range cart.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	needed := make(map[string]int, len(cart.Lines))
	for _, line := range cart.Lines {
		needed[line.ProductID] += line.Quantity
	}
	productIDs := make([]string, 0, len(needed))
	for id := range needed {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	// Lock stock rows in a stable order so concurrent finalizations cannot
	// deadlock against each other.
	stockRows, err := tx.QueryContext(ctx, `
		SELECT id, stock_qty
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	stockByID := make(map[string]int, len(productIDs))
	for stockRows.Next() {
		var id string
		var qty int
		if err := stockRows.Scan(&id, &qty); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockByID[id] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	// Commit-time re-validation: the authoritative stock gate.
	for _, id := range productIDs {
		qty, exists := stockByID[id]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		if qty < needed[id] {
			return nil, fmt.Errorf("%w: product %s", store.ErrStockExhausted, id)
		}
	}

	invoiceNo, err := s.allocateInvoiceNo(ctx, tx, at.Year())
	if err != nil {
		return nil, err
	}

	invoice := domain.Invoice{
		ID:         xid.New("inv"),
		InvoiceNo:  invoiceNo,
		TotalPaise: cart.GrandTotalPaise,
		CreatedAt:  at,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_no, total_paise, created_at)
		VALUES ($1,$2,$3,$4)
	`, invoice.ID, invoice.InvoiceNo, invoice.TotalPaise, invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, store.ErrNumberingConflict
		}
		return nil, err
	}

	for _, line := range cart.Lines {
		item := domain.InvoiceItem{
			InvoiceID:      invoice.ID,
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPricePaise: line.UnitPricePaise,
			TotalPaise:     line.LineTotalPaise,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, product_id, quantity, unit_price_paise, total_paise)
			VALUES ($1,$2,$3,$4,$5)
		`, item.InvoiceID, item.ProductID, item.Quantity, item.UnitPricePaise, item.TotalPaise)
		if err != nil {
			return nil, err
		}
		invoice.Items = append(invoice.Items, item)
	}

	for _, id := range productIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = stock_qty - $2, updated_at = now()
			WHERE id = $1 AND stock_qty >= $2
		`, id, needed[id])
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: product %s", store.ErrStockExhausted, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := invoice
	return &created, nil
}

// allocateInvoiceNo finds the highest invoice number for the year, locks it,
// and returns the next one. Ordering by length before value keeps the scan
// numeric once a sequence outgrows its zero padding: "-10000" must sort
// above "-9999" even though it loses a plain lexical comparison.
func (s *Store) allocateInvoiceNo(ctx context.Context, tx *sql.Tx, year int) (string, error) {
	var last string
	err := tx.QueryRowContext(ctx, `
		SELECT invoice_no
		FROM invoices
		WHERE invoice_no LIKE $1
		ORDER BY length(invoice_no) DESC, invoice_no DESC
		LIMIT 1
		FOR UPDATE
	`, invoiceno.YearPrefix(s.invoicePrefix, year)+"%").Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	return invoiceno.Next(s.invoicePrefix, year, last)
}

func (s *Store) GetInvoiceByNo(ctx context.Context, invoiceNo string) (*domain.InvoiceView, error) {
	var view domain.InvoiceView
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_no, total_paise, created_at
		FROM invoices
		WHERE invoice_no = $1
	`, invoiceNo).Scan(&view.ID, &view.InvoiceNo, &view.TotalPaise, &view.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	view.CreatedAt = view.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.part_no, p.name, ii.quantity, ii.unit_price_paise, ii.total_paise
		FROM invoice_items ii
		JOIN products p ON ii.product_id = p.id
		WHERE ii.invoice_id = $1
		ORDER BY ii.id ASC
	`, view.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.InvoiceLineView, 0, 8)
	for rows.Next() {
		var line domain.InvoiceLineView
		if err := rows.Scan(&line.PartNo, &line.Name, &line.Quantity, &line.UnitPricePaise, &line.TotalPaise); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	view.Lines = lines

	return &view, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.PartNo, &p.Barcode, &p.Name, &p.MRPPaise, &p.SellPricePaise,
		&p.CostPricePaise, &p.StockQty, &p.MinStock, &p.GSTPercent, &p.CreatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// isUniqueViolation reports whether err is a unique-constraint violation,
// optionally restricted to a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
