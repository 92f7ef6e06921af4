package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldops/internal/billing"
	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var invoiceNumberConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fieldops_invoice_number_conflicts_total",
	Help: "Invoice number candidates rejected by the unique constraint",
})

const estimateColumns = `
	estimate_id, COALESCE(lead_id::text, ''), COALESCE(customer_id, ''), COALESCE(jobsite_id, ''),
	subtotal, tax_rate, total, status, COALESCE(signature, ''), created_at, updated_at
`

const invoiceColumns = `
	invoice_id, COALESCE(job_id::text, ''), number, amount, status, issued_at, due_at, created_at
`

func (s *Store) CreateEstimate(ctx context.Context, input store.CreateEstimateInput) (models.Estimate, error) {
	items := make([]models.EstimateItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, models.EstimateItem{
			ItemID:      uuid.NewString(),
			Description: item.Description,
			Qty:         item.Qty,
			UnitPrice:   item.UnitPrice,
		})
	}
	totals, err := billing.ComputeTotals(items, input.TaxRate)
	if err != nil {
		return models.Estimate{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Estimate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	estimateID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO estimates (estimate_id, lead_id, customer_id, jobsite_id, subtotal, tax_rate, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+estimateColumns,
		estimateID, nullIfEmpty(input.LeadID), nullIfEmpty(input.CustomerID), nullIfEmpty(input.JobsiteID),
		totals.Subtotal, input.TaxRate, totals.Total, models.EstimateDraft, now)
	estimate, err := scanEstimate(row)
	if err != nil {
		return models.Estimate{}, err
	}

	for i := range items {
		items[i].EstimateID = estimateID
		if err := insertEstimateItem(ctx, tx, items[i], i); err != nil {
			return models.Estimate{}, err
		}
	}
	estimate.Items = items

	if err := tx.Commit(ctx); err != nil {
		return models.Estimate{}, err
	}
	return estimate, nil
}

func (s *Store) GetEstimate(ctx context.Context, estimateID string) (models.Estimate, error) {
	estimate, err := loadEstimate(ctx, s.pool, estimateID, false)
	if err != nil {
		return models.Estimate{}, err
	}
	estimate.Items, err = listEstimateItems(ctx, s.pool, estimateID)
	if err != nil {
		return models.Estimate{}, err
	}
	return estimate, nil
}

func (s *Store) AddEstimateItem(ctx context.Context, estimateID string, input store.EstimateItemInput) (models.Estimate, error) {
	if input.Qty.IsNegative() || input.UnitPrice.IsNegative() {
		return models.Estimate{}, billing.ErrNegativeAmount
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Estimate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	estimate, err := loadEstimate(ctx, tx, estimateID, true)
	if err != nil {
		return models.Estimate{}, err
	}
	if estimate.Status != models.EstimateDraft && estimate.Status != models.EstimateSent {
		return models.Estimate{}, store.ErrInvalidState
	}

	items, err := listEstimateItems(ctx, tx, estimateID)
	if err != nil {
		return models.Estimate{}, err
	}
	item := models.EstimateItem{
		ItemID:      uuid.NewString(),
		EstimateID:  estimateID,
		Description: input.Description,
		Qty:         input.Qty,
		UnitPrice:   input.UnitPrice,
	}
	if err := insertEstimateItem(ctx, tx, item, len(items)); err != nil {
		return models.Estimate{}, err
	}
	items = append(items, item)

	totals, err := billing.ComputeTotals(items, estimate.TaxRate)
	if err != nil {
		return models.Estimate{}, err
	}
	row := tx.QueryRow(ctx, `
		UPDATE estimates
		SET subtotal = $2, total = $3, updated_at = $4
		WHERE estimate_id = $1
		RETURNING `+estimateColumns,
		estimateID, totals.Subtotal, totals.Total, s.now())
	estimate, err = scanEstimate(row)
	if err != nil {
		return models.Estimate{}, err
	}
	estimate.Items = items

	if err := tx.Commit(ctx); err != nil {
		return models.Estimate{}, err
	}
	return estimate, nil
}

// ConvertEstimate approves an estimate, creates its job and mints the first
// invoice in one transaction. Nothing is visible unless every step succeeds.
func (s *Store) ConvertEstimate(ctx context.Context, input store.ConvertEstimateInput) (store.ConversionResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ConversionResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	estimate, err := loadEstimate(ctx, tx, input.EstimateID, true)
	if err != nil {
		return store.ConversionResult{}, err
	}
	estimate.Items, err = listEstimateItems(ctx, tx, input.EstimateID)
	if err != nil {
		return store.ConversionResult{}, err
	}

	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.now()
	}
	plan, err := billing.PlanConversion(estimate, issuedAt, s.dueDays)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidState) {
			return store.ConversionResult{}, store.ErrInvalidState
		}
		return store.ConversionResult{}, err
	}

	job := plan.Job
	job.JobID = uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO jobs (job_id, estimate_id, lead_id, customer_id, jobsite_id, title, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+jobColumns,
		job.JobID, job.EstimateID, nullIfEmpty(job.LeadID), nullIfEmpty(job.CustomerID), nullIfEmpty(job.JobsiteID),
		job.Title, job.Status, job.CreatedAt)
	job, err = scanJob(row)
	if err != nil {
		return store.ConversionResult{}, err
	}

	invoice := plan.Invoice
	invoice.JobID = job.JobID
	invoice, err = s.mintInvoice(ctx, tx, invoice)
	if err != nil {
		return store.ConversionResult{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE estimates
		SET status = $2, subtotal = $3, total = $4, updated_at = $5
		WHERE estimate_id = $1
		RETURNING `+estimateColumns,
		estimate.EstimateID, models.EstimateApproved, plan.Totals.Subtotal, plan.Totals.Total, s.now())
	items := estimate.Items
	estimate, err = scanEstimate(row)
	if err != nil {
		return store.ConversionResult{}, err
	}
	estimate.Items = items

	if err := tx.Commit(ctx); err != nil {
		return store.ConversionResult{}, err
	}
	return store.ConversionResult{Estimate: estimate, Job: job, Invoice: invoice}, nil
}

func (s *Store) CreateInvoice(ctx context.Context, input store.CreateInvoiceInput) (models.Invoice, error) {
	if input.Amount.IsNegative() {
		return models.Invoice{}, billing.ErrNegativeAmount
	}
	status := input.Status
	if status == "" {
		status = models.InvoiceDraft
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Invoice{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	invoice, err := s.mintInvoice(ctx, tx, models.Invoice{
		JobID:     input.JobID,
		Number:    input.Number,
		Amount:    billing.Round2(input.Amount),
		Status:    status,
		IssuedAt:  input.IssuedAt,
		DueAt:     input.DueAt,
		CreatedAt: s.now(),
	})
	if err != nil {
		return models.Invoice{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error) {
	return loadInvoice(ctx, s.pool, invoiceID, false)
}

func (s *Store) RecordPayment(ctx context.Context, input store.RecordPaymentInput) (store.PaymentResult, error) {
	if !input.Amount.IsPositive() {
		return store.PaymentResult{}, billing.ErrNegativeAmount
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.PaymentResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	invoice, err := loadInvoice(ctx, tx, input.InvoiceID, true)
	if err != nil {
		return store.PaymentResult{}, err
	}
	if invoice.Status == models.InvoiceVoid {
		return store.PaymentResult{}, store.ErrInvalidState
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	method := input.Method
	if method == "" {
		method = "other"
	}
	var payment models.Payment
	row := tx.QueryRow(ctx, `
		INSERT INTO payments (payment_id, invoice_id, amount, method, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING payment_id, invoice_id, amount, method, received_at
	`, uuid.NewString(), input.InvoiceID, billing.Round2(input.Amount), method, receivedAt)
	if err := row.Scan(&payment.PaymentID, &payment.InvoiceID, &payment.Amount, &payment.Method, &payment.ReceivedAt); err != nil {
		return store.PaymentResult{}, err
	}

	payments, err := listPayments(ctx, tx, input.InvoiceID)
	if err != nil {
		return store.PaymentResult{}, err
	}
	summary := billing.DerivePaymentStatus(invoice, payments)
	if summary.Status != invoice.Status {
		if _, err := tx.Exec(ctx, `
			UPDATE invoices SET status = $2 WHERE invoice_id = $1
		`, invoice.InvoiceID, summary.Status); err != nil {
			return store.PaymentResult{}, err
		}
		invoice.Status = summary.Status
	}

	if err := tx.Commit(ctx); err != nil {
		return store.PaymentResult{}, err
	}
	return store.PaymentResult{Invoice: invoice, Payment: payment, Summary: summary}, nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID string) ([]models.Payment, error) {
	if _, err := loadInvoice(ctx, s.pool, invoiceID, false); err != nil {
		return nil, err
	}
	return listPayments(ctx, s.pool, invoiceID)
}

// mintInvoice inserts invoice inside tx. A caller-supplied number is used
// as-is; otherwise numbers come from the sequence and each candidate is
// inserted under its own savepoint so a collision only discards that attempt.
func (s *Store) mintInvoice(ctx context.Context, tx pgx.Tx, invoice models.Invoice) (models.Invoice, error) {
	invoice.InvoiceID = uuid.NewString()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = s.now()
	}

	if invoice.Number != "" {
		created, err := insertInvoice(ctx, tx, invoice)
		if err != nil {
			if isConstraintViolation(err, uniqueViolation, "invoices_number_key") {
				return models.Invoice{}, store.ErrDuplicateInvoiceNumber
			}
			return models.Invoice{}, err
		}
		return created, nil
	}

	var created models.Invoice
	_, err := billing.MintNumber(ctx, s.numberAttempts,
		func(ctx context.Context) (int64, error) {
			return nextInvoiceNumber(ctx, tx)
		},
		func(ctx context.Context, number string) error {
			savepoint, err := tx.Begin(ctx)
			if err != nil {
				return err
			}
			candidate := invoice
			candidate.Number = number
			inserted, err := insertInvoice(ctx, savepoint, candidate)
			if err != nil {
				_ = savepoint.Rollback(ctx)
				if isConstraintViolation(err, uniqueViolation, "invoices_number_key") {
					invoiceNumberConflicts.Inc()
					return billing.ErrNumberTaken
				}
				return err
			}
			if err := savepoint.Commit(ctx); err != nil {
				return err
			}
			created = inserted
			return nil
		})
	if err != nil {
		return models.Invoice{}, fmt.Errorf("mint invoice number: %w", err)
	}
	return created, nil
}

// nextInvoiceNumber advances the invoice counter. The first call seeds it
// from the highest number already stored so imported invoices are skipped.
func nextInvoiceNumber(ctx context.Context, q querier) (int64, error) {
	var next int64
	row := q.QueryRow(ctx, `
		INSERT INTO invoice_sequences (prefix, next_number)
		VALUES ($1, COALESCE((
			SELECT MAX(substring(number FROM '[0-9]+$')::bigint)
			FROM invoices
			WHERE number ~ ('^' || $1 || '-[0-9]+$')
		), 0) + 1)
		ON CONFLICT (prefix)
		DO UPDATE SET next_number = invoice_sequences.next_number + 1
		RETURNING next_number
	`, billing.InvoicePrefix)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertInvoice(ctx context.Context, q querier, invoice models.Invoice) (models.Invoice, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO invoices (invoice_id, job_id, number, amount, status, issued_at, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+invoiceColumns,
		invoice.InvoiceID, nullIfEmpty(invoice.JobID), invoice.Number, invoice.Amount, invoice.Status,
		nullTime(invoice.IssuedAt), nullTime(invoice.DueAt), invoice.CreatedAt)
	return scanInvoice(row)
}

func insertEstimateItem(ctx context.Context, q querier, item models.EstimateItem, position int) error {
	_, err := q.Exec(ctx, `
		INSERT INTO estimate_items (item_id, estimate_id, description, qty, unit_price, position)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ItemID, item.EstimateID, item.Description, item.Qty, item.UnitPrice, position)
	return err
}

func loadEstimate(ctx context.Context, q querier, estimateID string, forUpdate bool) (models.Estimate, error) {
	query := `SELECT ` + estimateColumns + ` FROM estimates WHERE estimate_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	estimate, err := scanEstimate(q.QueryRow(ctx, query, estimateID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Estimate{}, store.ErrEstimateNotFound
		}
		return models.Estimate{}, err
	}
	return estimate, nil
}

func listEstimateItems(ctx context.Context, q querier, estimateID string) ([]models.EstimateItem, error) {
	rows, err := q.Query(ctx, `
		SELECT item_id, estimate_id, description, qty, unit_price
		FROM estimate_items
		WHERE estimate_id = $1
		ORDER BY position ASC
	`, estimateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.EstimateItem
	for rows.Next() {
		var item models.EstimateItem
		if err := rows.Scan(&item.ItemID, &item.EstimateID, &item.Description, &item.Qty, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadInvoice(ctx context.Context, q querier, invoiceID string, forUpdate bool) (models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	invoice, err := scanInvoice(q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Invoice{}, store.ErrInvoiceNotFound
		}
		return models.Invoice{}, err
	}
	return invoice, nil
}

func listPayments(ctx context.Context, q querier, invoiceID string) ([]models.Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT payment_id, invoice_id, amount, method, received_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY received_at ASC, payment_id ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var payment models.Payment
		if err := rows.Scan(&payment.PaymentID, &payment.InvoiceID, &payment.Amount, &payment.Method, &payment.ReceivedAt); err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func scanEstimate(row pgx.Row) (models.Estimate, error) {
	var e models.Estimate
	err := row.Scan(&e.EstimateID, &e.LeadID, &e.CustomerID, &e.JobsiteID,
		&e.Subtotal, &e.TaxRate, &e.Total, &e.Status, &e.Signature, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func scanInvoice(row pgx.Row) (models.Invoice, error) {
	var inv models.Invoice
	var issuedAt, dueAt *time.Time
	err := row.Scan(&inv.InvoiceID, &inv.JobID, &inv.Number, &inv.Amount, &inv.Status, &issuedAt, &dueAt, &inv.CreatedAt)
	inv.IssuedAt = issuedAt
	inv.DueAt = dueAt
	return inv, err
}
