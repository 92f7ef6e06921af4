package billing

import (
	"strings"
	"time"

	"fieldops/internal/models"
)

const DefaultDueDays = 14

type ConversionPlan struct {
	Totals  Totals
	Job     models.Job
	Invoice models.Invoice
}

// PlanConversion computes everything an estimate→job conversion writes. The
// caller persists the plan atomically and assigns the invoice number.
func PlanConversion(estimate models.Estimate, issuedAt time.Time, dueDays int) (ConversionPlan, error) {
	switch estimate.Status {
	case models.EstimateDraft, models.EstimateSent:
	default:
		return ConversionPlan{}, ErrInvalidState
	}
	if len(estimate.Items) == 0 {
		return ConversionPlan{}, ErrNoItems
	}
	if dueDays <= 0 {
		dueDays = DefaultDueDays
	}

	totals, err := ComputeTotals(estimate.Items, estimate.TaxRate)
	if err != nil {
		return ConversionPlan{}, err
	}

	issued := issuedAt.UTC()
	due := issued.AddDate(0, 0, dueDays)

	job := models.Job{
		EstimateID: estimate.EstimateID,
		LeadID:     estimate.LeadID,
		CustomerID: estimate.CustomerID,
		JobsiteID:  estimate.JobsiteID,
		Title:      jobTitle(estimate),
		Status:     models.JobScheduled,
		CreatedAt:  issued,
	}
	invoice := models.Invoice{
		Amount:    totals.Total,
		Status:    models.InvoiceDraft,
		IssuedAt:  &issued,
		DueAt:     &due,
		CreatedAt: issued,
	}

	return ConversionPlan{Totals: totals, Job: job, Invoice: invoice}, nil
}

func jobTitle(estimate models.Estimate) string {
	first := strings.TrimSpace(estimate.Items[0].Description)
	if first == "" {
		return "Job from estimate " + estimate.EstimateID
	}
	if len(estimate.Items) == 1 {
		return first
	}
	return first + " and more"
}
