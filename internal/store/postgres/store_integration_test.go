package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldops/internal/billing"
	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var invoiceNumberPattern = regexp.MustCompile(`^INV-\d{4,}$`)

func TestCreateInvoiceConcurrentNumbers(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan invoiceResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			invoice, err := st.CreateInvoice(ctx, store.CreateInvoiceInput{Amount: decimal.RequireFromString("10.00")})
			results <- invoiceResult{number: invoice.Number, err: err}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for result := range results {
		if result.err != nil {
			t.Fatalf("create invoice error: %v", result.err)
		}
		if !invoiceNumberPattern.MatchString(result.number) {
			t.Fatalf("unexpected invoice number %q", result.number)
		}
		if seen[result.number] {
			t.Fatalf("duplicate invoice number %s", result.number)
		}
		seen[result.number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d numbers, got %d", workers, len(seen))
	}
}

func TestCreateInvoiceSkipsImportedNumbers(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	if _, err := st.CreateInvoice(ctx, store.CreateInvoiceInput{Number: "INV-0041", Amount: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("create imported invoice: %v", err)
	}
	invoice, err := st.CreateInvoice(ctx, store.CreateInvoiceInput{Amount: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if invoice.Number != "INV-0042" {
		t.Fatalf("expected INV-0042, got %s", invoice.Number)
	}

	_, err = st.CreateInvoice(ctx, store.CreateInvoiceInput{Number: "INV-0042", Amount: decimal.NewFromInt(5)})
	if !errors.Is(err, store.ErrDuplicateInvoiceNumber) {
		t.Fatalf("expected duplicate number error, got %v", err)
	}
}

func TestConvertEstimate(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	estimate := createEstimate(t, ctx, st)
	if !estimate.Total.Equal(decimal.RequireFromString("220.00")) {
		t.Fatalf("expected total 220.00, got %s", estimate.Total)
	}

	issuedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	result, err := st.ConvertEstimate(ctx, store.ConvertEstimateInput{EstimateID: estimate.EstimateID, IssuedAt: issuedAt})
	if err != nil {
		t.Fatalf("convert estimate: %v", err)
	}
	if result.Estimate.Status != models.EstimateApproved {
		t.Fatalf("expected APPROVED, got %s", result.Estimate.Status)
	}
	if result.Job.EstimateID != estimate.EstimateID {
		t.Fatalf("job not linked to estimate")
	}
	if !invoiceNumberPattern.MatchString(result.Invoice.Number) {
		t.Fatalf("unexpected invoice number %q", result.Invoice.Number)
	}
	if !result.Invoice.Amount.Equal(decimal.RequireFromString("220.00")) {
		t.Fatalf("expected invoice amount 220.00, got %s", result.Invoice.Amount)
	}
	if result.Invoice.JobID != result.Job.JobID {
		t.Fatalf("invoice not linked to job")
	}
	if result.Invoice.DueAt == nil || !result.Invoice.DueAt.Equal(issuedAt.AddDate(0, 0, billing.DefaultDueDays)) {
		t.Fatalf("unexpected due date %v", result.Invoice.DueAt)
	}

	_, err = st.ConvertEstimate(ctx, store.ConvertEstimateInput{EstimateID: estimate.EstimateID})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on second conversion, got %v", err)
	}
}

func TestConvertEstimateRollsBackOnNumberFailure(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{NumberAttempts: 1})
	t.Cleanup(cleanup)

	// counter behind an existing number forces a collision on the only attempt
	if _, err := st.CreateInvoice(ctx, store.CreateInvoiceInput{Number: "INV-0001", Amount: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO invoice_sequences (prefix, next_number) VALUES ('INV', 0)`); err != nil {
		t.Fatalf("seed sequence: %v", err)
	}

	estimate := createEstimate(t, ctx, st)
	_, err := st.ConvertEstimate(ctx, store.ConvertEstimateInput{EstimateID: estimate.EstimateID})
	if !errors.Is(err, billing.ErrExhaustedRetries) {
		t.Fatalf("expected exhausted retries, got %v", err)
	}

	stored, err := st.GetEstimate(ctx, estimate.EstimateID)
	if err != nil {
		t.Fatalf("get estimate: %v", err)
	}
	if stored.Status != models.EstimateDraft {
		t.Fatalf("expected estimate to stay DRAFT, got %s", stored.Status)
	}
	var jobs, invoices int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&jobs); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&invoices); err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if jobs != 0 || invoices != 1 {
		t.Fatalf("expected no partial conversion, got %d jobs and %d invoices", jobs, invoices)
	}
}

func TestRecordPaymentPartialThenPaid(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	invoice, err := st.CreateInvoice(ctx, store.CreateInvoiceInput{Amount: decimal.RequireFromString("300.00"), Status: models.InvoiceSent})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	first, err := st.RecordPayment(ctx, store.RecordPaymentInput{InvoiceID: invoice.InvoiceID, Amount: decimal.RequireFromString("100.00")})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if first.Invoice.Status != models.InvoicePartPaid {
		t.Fatalf("expected PART_PAID, got %s", first.Invoice.Status)
	}
	if !first.Summary.Balance.Equal(decimal.RequireFromString("200.00")) {
		t.Fatalf("expected balance 200.00, got %s", first.Summary.Balance)
	}

	second, err := st.RecordPayment(ctx, store.RecordPaymentInput{InvoiceID: invoice.InvoiceID, Amount: decimal.RequireFromString("200.00")})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if second.Invoice.Status != models.InvoicePaid {
		t.Fatalf("expected PAID, got %s", second.Invoice.Status)
	}

	payments, err := st.ListPayments(ctx, invoice.InvoiceID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}
}

func TestReminderLifecycle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	user, err := st.CreateUser(ctx, models.User{UserID: uuid.NewString(), Name: "Tech", Email: "tech@example.com"}, "secret")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	now := time.Now().UTC()
	due, err := st.CreateReminder(ctx, store.CreateReminderInput{
		UserID:       user.UserID,
		Channel:      models.ChannelEmail,
		ScheduledFor: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if _, err := st.CreateReminder(ctx, store.CreateReminderInput{
		UserID:       user.UserID,
		Channel:      models.ChannelSMS,
		ScheduledFor: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("create future reminder: %v", err)
	}

	reminders, err := st.ListDueReminders(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due reminders: %v", err)
	}
	if len(reminders) != 1 || reminders[0].ReminderID != due.ReminderID {
		t.Fatalf("expected only the due reminder, got %+v", reminders)
	}

	contact, err := st.ResolveContact(ctx, due)
	if err != nil {
		t.Fatalf("resolve contact: %v", err)
	}
	if contact.Email != "tech@example.com" || contact.PushToken != user.UserID {
		t.Fatalf("unexpected contact %+v", contact)
	}

	failed, err := st.MarkReminderFailed(ctx, due.ReminderID, models.ReminderPending, "smtp down")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.Status != models.ReminderFailed || failed.Attempts != 1 || failed.LastError != "smtp down" {
		t.Fatalf("unexpected failed reminder %+v", failed)
	}
	if _, err := st.MarkReminderSent(ctx, due.ReminderID, models.ReminderPending); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected stale write to be rejected, got %v", err)
	}
	if _, err := st.MarkReminderSent(ctx, uuid.NewString(), models.ReminderPending); !errors.Is(err, store.ErrReminderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	reminders, err = st.ListDueReminders(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list due reminders: %v", err)
	}
	for _, reminder := range reminders {
		if reminder.ReminderID == due.ReminderID {
			t.Fatalf("failed reminder must not be polled again")
		}
	}

	cancelled, err := st.CancelReminder(ctx, due.ReminderID)
	if err != nil {
		t.Fatalf("cancel reminder: %v", err)
	}
	if cancelled.Status != models.ReminderCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if _, err := st.CancelReminder(ctx, due.ReminderID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestCreateLeadIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	requestID := uuid.NewString()
	input := store.CreateLeadInput{RequestID: requestID, Name: "Dana", Phone: "555-0100"}
	first, created, err := st.CreateLead(ctx, input)
	if err != nil || !created {
		t.Fatalf("create lead: created=%v err=%v", created, err)
	}
	second, created, err := st.CreateLead(ctx, input)
	if err != nil {
		t.Fatalf("replay lead: %v", err)
	}
	if created || second.LeadID != first.LeadID {
		t.Fatalf("expected replay to return the original lead")
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads`).Scan(&count); err != nil {
		t.Fatalf("count leads: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 lead, got %d", count)
	}

	records, err := st.Snapshot(ctx, models.KindLead)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 snapshot record, got %d", len(records))
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	if _, err := st.CreateUser(ctx, models.User{UserID: uuid.NewString(), Name: "Office", Email: "Office@Example.com", RoleName: "admin"}, "hunter2"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.CreateUser(ctx, models.User{UserID: uuid.NewString(), Name: "Copy", Email: "office@example.com"}, "hunter3"); !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	user, err := st.Login(ctx, "office@example.com", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.RoleName != "admin" {
		t.Fatalf("expected admin role, got %s", user.RoleName)
	}
	if _, err := st.Login(ctx, "office@example.com", "wrong"); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

type invoiceResult struct {
	number string
	err    error
}

func createEstimate(t *testing.T, ctx context.Context, st *Store) models.Estimate {
	t.Helper()
	estimate, err := st.CreateEstimate(ctx, store.CreateEstimateInput{
		TaxRate: decimal.NewFromInt(10),
		Items: []store.EstimateItemInput{
			{Description: "Labor", Qty: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("50.00")},
			{Description: "Parts", Qty: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("100.00")},
		},
	})
	if err != nil {
		t.Fatalf("create estimate: %v", err)
	}
	return estimate
}

func setupTestStore(t *testing.T, ctx context.Context, options Options) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, options)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
