package billing

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"fieldops/internal/models"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func item(t *testing.T, qty, price string) models.EstimateItem {
	return models.EstimateItem{Qty: dec(t, qty), UnitPrice: dec(t, price)}
}

func TestComputeTotals(t *testing.T) {
	cases := []struct {
		name     string
		items    []models.EstimateItem
		rate     string
		subtotal string
		tax      string
		total    string
	}{
		{"conversion example", []models.EstimateItem{item(t, "1", "100"), item(t, "2", "50")}, "10", "200.00", "20.00", "220.00"},
		{"no items", nil, "8.25", "0", "0", "0"},
		{"float drift", []models.EstimateItem{item(t, "3", "0.1"), item(t, "1", "0.2")}, "0", "0.50", "0", "0.50"},
		{"fractional qty rounds", []models.EstimateItem{item(t, "1.5", "19.99")}, "7.5", "29.99", "2.25", "32.24"},
		{"half cent tax", []models.EstimateItem{item(t, "1", "0.10")}, "5", "0.10", "0.01", "0.11"},
	}
	for _, tt := range cases {
		got, err := ComputeTotals(tt.items, dec(t, tt.rate))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if !got.Subtotal.Equal(dec(t, tt.subtotal)) || !got.Tax.Equal(dec(t, tt.tax)) || !got.Total.Equal(dec(t, tt.total)) {
			t.Fatalf("%s: got subtotal=%s tax=%s total=%s", tt.name, got.Subtotal, got.Tax, got.Total)
		}
		want := Round2(got.Subtotal.Add(got.Subtotal.Mul(dec(t, tt.rate)).Div(decimal.NewFromInt(100))))
		if !got.Total.Equal(want) {
			t.Fatalf("%s: total %s != subtotal+tax %s", tt.name, got.Total, want)
		}
	}
}

func TestComputeTotalsRejectsNegative(t *testing.T) {
	if _, err := ComputeTotals([]models.EstimateItem{item(t, "-1", "5")}, decimal.Zero); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	if _, err := ComputeTotals(nil, dec(t, "-1")); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount for tax rate, got %v", err)
	}
}

func TestFormatAndParseInvoiceNumber(t *testing.T) {
	cases := []struct {
		seq  int64
		want string
	}{
		{1, "INV-0001"},
		{42, "INV-0042"},
		{9999, "INV-9999"},
		{12345, "INV-12345"},
	}
	for _, tt := range cases {
		if got := FormatInvoiceNumber(tt.seq); got != tt.want {
			t.Fatalf("FormatInvoiceNumber(%d)=%s, want %s", tt.seq, got, tt.want)
		}
		seq, ok := ParseInvoiceNumber(tt.want)
		if !ok || seq != tt.seq {
			t.Fatalf("ParseInvoiceNumber(%s)=%d,%v", tt.want, seq, ok)
		}
	}
	for _, bad := range []string{"", "INV-", "INV-abc", "EST-0001", "INV-0000"} {
		if _, ok := ParseInvoiceNumber(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestMintNumberRetriesOnConflict(t *testing.T) {
	taken := map[string]bool{"INV-0001": true, "INV-0002": true}
	counter := int64(0)
	next := func(context.Context) (int64, error) {
		counter++
		return counter, nil
	}
	var tried []string
	insert := func(_ context.Context, number string) error {
		tried = append(tried, number)
		if taken[number] {
			return ErrNumberTaken
		}
		taken[number] = true
		return nil
	}

	number, err := MintNumber(context.Background(), 10, next, insert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if number != "INV-0003" {
		t.Fatalf("expected INV-0003, got %s", number)
	}
	if len(tried) != 3 {
		t.Fatalf("expected 3 attempts, got %v", tried)
	}
}

func TestMintNumberAdvancesPastStaleCandidate(t *testing.T) {
	next := func(context.Context) (int64, error) { return 7, nil }
	calls := 0
	insert := func(_ context.Context, number string) error {
		calls++
		if number == "INV-0007" {
			return ErrNumberTaken
		}
		return nil
	}
	number, err := MintNumber(context.Background(), 3, next, insert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if number != "INV-0008" {
		t.Fatalf("expected stale candidate to be bumped, got %s", number)
	}
}

func TestMintNumberExhaustsRetries(t *testing.T) {
	counter := int64(0)
	next := func(context.Context) (int64, error) {
		counter++
		return counter, nil
	}
	attempts := 0
	insert := func(context.Context, string) error {
		attempts++
		return ErrNumberTaken
	}
	_, err := MintNumber(context.Background(), 10, next, insert)
	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("expected ErrExhaustedRetries, got %v", err)
	}
	if attempts != 10 {
		t.Fatalf("expected 10 attempts, got %d", attempts)
	}
}

func TestMintNumberStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	attempts := 0
	next := func(context.Context) (int64, error) { return 1, nil }
	insert := func(context.Context, string) error {
		attempts++
		return boom
	}
	if _, err := MintNumber(context.Background(), 10, next, insert); !errors.Is(err, boom) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestDerivePaymentStatusPartialThenPaid(t *testing.T) {
	invoice := models.Invoice{Amount: dec(t, "300.00"), Status: models.InvoiceSent}

	first := []models.Payment{{Amount: dec(t, "100.00")}}
	summary := DerivePaymentStatus(invoice, first)
	if summary.Status != models.InvoicePartPaid {
		t.Fatalf("expected PART_PAID, got %s", summary.Status)
	}
	if !summary.Balance.Equal(dec(t, "200.00")) {
		t.Fatalf("expected balance 200.00, got %s", summary.Balance)
	}

	invoice.Status = summary.Status
	second := append(first, models.Payment{Amount: dec(t, "200.00")})
	summary = DerivePaymentStatus(invoice, second)
	if summary.Status != models.InvoicePaid {
		t.Fatalf("expected PAID, got %s", summary.Status)
	}
	if !summary.Balance.Equal(decimal.Zero) {
		t.Fatalf("expected zero balance, got %s", summary.Balance)
	}
}

func TestDerivePaymentStatusOrderIndependent(t *testing.T) {
	amounts := []string{"10.10", "0.20", "45.00", "4.70"}
	invoice := models.Invoice{Amount: dec(t, "60.00"), Status: models.InvoiceDraft}

	forward := make([]models.Payment, 0, len(amounts))
	for _, a := range amounts {
		forward = append(forward, models.Payment{Amount: dec(t, a)})
	}
	backward := make([]models.Payment, 0, len(amounts))
	for i := len(forward) - 1; i >= 0; i-- {
		backward = append(backward, forward[i])
	}

	a := DerivePaymentStatus(invoice, forward)
	b := DerivePaymentStatus(invoice, backward)
	if a.Status != b.Status || !a.Balance.Equal(b.Balance) {
		t.Fatalf("order changed result: %+v vs %+v", a, b)
	}
	if a.Status != models.InvoicePaid {
		t.Fatalf("expected PAID for exact sum, got %s", a.Status)
	}

	again := DerivePaymentStatus(models.Invoice{Amount: invoice.Amount, Status: a.Status}, forward)
	if again.Status != a.Status {
		t.Fatalf("recompute not idempotent: %s vs %s", again.Status, a.Status)
	}
}

func TestDerivePaymentStatusLeavesUnpaidAndVoid(t *testing.T) {
	sent := DerivePaymentStatus(models.Invoice{Amount: dec(t, "50"), Status: models.InvoiceSent}, nil)
	if sent.Status != models.InvoiceSent {
		t.Fatalf("expected SENT to be unchanged, got %s", sent.Status)
	}
	void := DerivePaymentStatus(models.Invoice{Amount: dec(t, "50"), Status: models.InvoiceVoid}, []models.Payment{{Amount: dec(t, "50")}})
	if void.Status != models.InvoiceVoid {
		t.Fatalf("expected VOID to be unchanged, got %s", void.Status)
	}
	over := DerivePaymentStatus(models.Invoice{Amount: dec(t, "50"), Status: models.InvoiceSent}, []models.Payment{{Amount: dec(t, "75")}})
	if !over.Balance.Equal(decimal.Zero) || over.Status != models.InvoicePaid {
		t.Fatalf("expected overpayment to clamp balance, got %+v", over)
	}
}

func TestPlanConversion(t *testing.T) {
	issued := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	estimate := models.Estimate{
		EstimateID: "est-1",
		CustomerID: "cust-1",
		JobsiteID:  "site-1",
		TaxRate:    dec(t, "10"),
		Status:     models.EstimateSent,
		Items: []models.EstimateItem{
			{Description: "Panel upgrade", Qty: dec(t, "1"), UnitPrice: dec(t, "100")},
			{Description: "Breakers", Qty: dec(t, "2"), UnitPrice: dec(t, "50")},
		},
	}

	plan, err := PlanConversion(estimate, issued, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Totals.Subtotal.Equal(dec(t, "200.00")) || !plan.Totals.Total.Equal(dec(t, "220.00")) {
		t.Fatalf("unexpected totals %+v", plan.Totals)
	}
	if !plan.Invoice.Amount.Equal(dec(t, "220.00")) {
		t.Fatalf("expected invoice amount 220.00, got %s", plan.Invoice.Amount)
	}
	if plan.Invoice.DueAt == nil || !plan.Invoice.DueAt.Equal(issued.AddDate(0, 0, 14)) {
		t.Fatalf("expected due date 14 days after issue, got %v", plan.Invoice.DueAt)
	}
	if plan.Job.EstimateID != "est-1" || plan.Job.CustomerID != "cust-1" || plan.Job.JobsiteID != "site-1" {
		t.Fatalf("job does not reference estimate: %+v", plan.Job)
	}
	if !regexp.MustCompile(`^INV-\d{4}$`).MatchString(FormatInvoiceNumber(1)) {
		t.Fatalf("invoice number format changed")
	}
}

func TestPlanConversionRejects(t *testing.T) {
	issued := time.Now()
	approved := models.Estimate{Status: models.EstimateApproved, Items: []models.EstimateItem{item(t, "1", "1")}}
	if _, err := PlanConversion(approved, issued, 14); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	empty := models.Estimate{Status: models.EstimateDraft}
	if _, err := PlanConversion(empty, issued, 14); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}
}
