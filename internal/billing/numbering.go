package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	InvoicePrefix         = "INV"
	invoiceNumberPad      = 4
	DefaultNumberAttempts = 10
)

var (
	// ErrNumberTaken is returned by an insert attempt whose candidate number
	// already exists.
	ErrNumberTaken = errors.New("invoice number taken")
	// ErrExhaustedRetries means every candidate within the attempt budget collided.
	ErrExhaustedRetries = errors.New("invoice numbering exhausted retries")
)

func FormatInvoiceNumber(seq int64) string {
	return fmt.Sprintf("%s-%0*d", InvoicePrefix, invoiceNumberPad, seq)
}

func ParseInvoiceNumber(number string) (int64, bool) {
	raw, ok := strings.CutPrefix(number, InvoicePrefix+"-")
	if !ok || raw == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

// MintNumber asks next for a candidate sequence, formats it and hands it to
// insert. A collision reported as ErrNumberTaken moves on to the next
// candidate; any other error stops the loop. Uniqueness itself is the storage
// layer's job, this only bounds how long a caller keeps losing races.
func MintNumber(ctx context.Context, maxAttempts int, next func(ctx context.Context) (int64, error), insert func(ctx context.Context, number string) error) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultNumberAttempts
	}
	var last int64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seq, err := next(ctx)
		if err != nil {
			return "", err
		}
		if seq <= last {
			seq = last + 1
		}
		last = seq

		number := FormatInvoiceNumber(seq)
		err = insert(ctx, number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, ErrNumberTaken) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhaustedRetries, maxAttempts)
}
