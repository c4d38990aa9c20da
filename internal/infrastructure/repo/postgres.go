package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"commerce-backend/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT,
		base_price DOUBLE PRECISION,
		tax_rate DOUBLE PRECISION,
		stock INT,
		active BOOLEAN,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT,
		email TEXT,
		phone TEXT,
		created_at TIMESTAMPTZ
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT,
		lines TEXT,
		subtotal DOUBLE PRECISION,
		tax_amount DOUBLE PRECISION,
		discount_rate DOUBLE PRECISION,
		discount_amount DOUBLE PRECISION,
		total DOUBLE PRECISION,
		status TEXT,
		notes TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT,
		customer_id TEXT,
		amount DOUBLE PRECISION,
		provider TEXT,
		status TEXT,
		external_reference TEXT UNIQUE,
		provider_payment_id TEXT,
		preference_id TEXT UNIQUE,
		idempotency_key TEXT,
		metadata TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_idempotency_key
		ON payments (idempotency_key) WHERE idempotency_key <> '';`)
	return err
}

const productCols = `id,name,base_price,tax_rate,stock,active,created_at,updated_at`

func scanProduct(row *sql.Row) (*domain.Product, bool, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.BasePrice, &p.TaxRate, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*domain.Product, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id)
	return scanProduct(row)
}

func (s *PostgresStore) ListProducts(ctx context.Context, page, limit int) ([]domain.Product, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productCols+` FROM products ORDER BY name ASC LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]domain.Product, 0, limit)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.BasePrice, &p.TaxRate, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM products`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresStore) PutProduct(ctx context.Context, p *domain.Product) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (`+productCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET name=$2,base_price=$3,tax_rate=$4,stock=$5,active=$6,updated_at=$8`,
		p.ID, p.Name, p.BasePrice, p.TaxRate, p.Stock, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `SELECT id,name,email,phone,created_at FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (s *PostgresStore) PutCustomer(ctx context.Context, c *domain.Customer) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO customers (id,name,email,phone,created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET name=$2,email=$3,phone=$4`,
		c.ID, c.Name, c.Email, c.Phone, c.CreatedAt)
	return err
}

const orderCols = `id,customer_id,lines,subtotal,tax_amount,discount_rate,discount_amount,total,status,notes,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var lines string
	err := row.Scan(&o.ID, &o.CustomerID, &lines, &o.Subtotal, &o.TaxAmount, &o.DiscountRate,
		&o.DiscountAmount, &o.Total, (*string)(&o.Status), &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lines), &o.Lines); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, page, limit int) ([]domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderCols+` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]domain.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

const paymentCols = `id,order_id,customer_id,amount,provider,status,external_reference,provider_payment_id,preference_id,idempotency_key,metadata,created_at,updated_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var metadata string
	err := row.Scan(&p.ID, &p.OrderID, &p.CustomerID, &p.Amount, (*string)(&p.Provider), (*string)(&p.Status),
		&p.ExternalReference, &p.ProviderPaymentID, &p.PreferenceID, &p.IdempotencyKey, &metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *PostgresStore) getPaymentWhere(ctx context.Context, where string, arg any) (*domain.Payment, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (*domain.Payment, bool, error) {
	return s.getPaymentWhere(ctx, `id=$1`, id)
}

func (s *PostgresStore) GetPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, bool, error) {
	return s.getPaymentWhere(ctx, `external_reference=$1`, ref)
}

func (s *PostgresStore) GetPaymentByPreferenceID(ctx context.Context, preferenceID string) (*domain.Payment, bool, error) {
	return s.getPaymentWhere(ctx, `preference_id=$1`, preferenceID)
}

func (s *PostgresStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id=$1 ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error) {
	var c domain.Customer
	err := t.tx.QueryRowContext(ctx, `SELECT id,name,email,phone,created_at FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+productCols+` FROM products WHERE id=$1 FOR UPDATE`, id)
	return scanProduct(row)
}

func (t *pgTx) AdjustStock(ctx context.Context, id string, delta int) error {
	// The condition guards against a concurrent reservation racing past the
	// caller's stock check; zero rows affected means the row is gone or the
	// adjustment would drive stock negative.
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = $3 WHERE id = $1 AND stock + $2 >= 0`,
		id, delta, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.InsufficientStockf("insufficient stock for product %s", id)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO orders (`+orderCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.CustomerID, string(lines), o.Subtotal, o.TaxAmount, o.DiscountRate,
		o.DiscountAmount, o.Total, string(o.Status), o.Notes, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, notes string, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET status=$2, notes=CASE WHEN $3='' THEN notes ELSE $3 END, updated_at=$4 WHERE id=$1`,
		id, string(status), notes, updatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundf("order %s not found", id)
	}
	return nil
}

func (t *pgTx) getPaymentWhere(ctx context.Context, where string, arg any) (*domain.Payment, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE `+where, arg)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (t *pgTx) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	return t.getPaymentWhere(ctx, `idempotency_key=$1 FOR UPDATE`, key)
}

func (t *pgTx) GetPaymentByExternalReferenceForUpdate(ctx context.Context, ref string) (*domain.Payment, bool, error) {
	return t.getPaymentWhere(ctx, `external_reference=$1 FOR UPDATE`, ref)
}

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, id string) (*domain.Payment, bool, error) {
	return t.getPaymentWhere(ctx, `id=$1 FOR UPDATE`, id)
}

func (t *pgTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO payments (`+paymentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.OrderID, p.CustomerID, p.Amount, string(p.Provider), string(p.Status),
		p.ExternalReference, p.ProviderPaymentID, p.PreferenceID, p.IdempotencyKey,
		string(metadata), p.CreatedAt, p.UpdatedAt)
	return insertPaymentErr(err, p.ExternalReference)
}

// insertPaymentErr maps a unique-constraint violation to a Conflict error.
// Two writers racing past the FOR UPDATE lookup both insert; the loser must
// surface the same kind the memory store reports.
func insertPaymentErr(err error, externalRef string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.Conflictf("payment for %s already exists", externalRef)
	}
	return err
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE payments SET status=$2, provider_payment_id=$3, preference_id=$4, idempotency_key=$5, metadata=$6, updated_at=$7 WHERE id=$1`,
		p.ID, string(p.Status), p.ProviderPaymentID, p.PreferenceID, p.IdempotencyKey, string(metadata), p.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundf("payment %s not found", p.ID)
	}
	return nil
}
