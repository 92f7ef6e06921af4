package httpapi

import (
	"net/http"
	"strings"
	"time"

	"fieldops/internal/billing"
	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/shopspring/decimal"
)

type estimateItemRequest struct {
	Description string          `json:"description"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createEstimateRequest struct {
	LeadID     string                `json:"lead_id"`
	CustomerID string                `json:"customer_id"`
	JobsiteID  string                `json:"jobsite_id"`
	TaxRate    decimal.Decimal       `json:"tax_rate"`
	Items      []estimateItemRequest `json:"items"`
}

type convertEstimateRequest struct {
	IssuedAt *time.Time `json:"issued_at"`
}

type createInvoiceRequest struct {
	JobID    string          `json:"job_id"`
	Number   string          `json:"number"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
	IssuedAt *time.Time      `json:"issued_at"`
	DueAt    *time.Time      `json:"due_at"`
}

type recordPaymentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	ReceivedAt *time.Time      `json:"received_at"`
}

type invoiceResponse struct {
	Invoice  models.Invoice         `json:"invoice"`
	Payments []models.Payment       `json:"payments"`
	Summary  billing.PaymentSummary `json:"summary"`
}

func (h *Handler) handleCreateEstimate(w http.ResponseWriter, r *http.Request) {
	var req createEstimateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	requestID := requestIDFromRequest(r)
	if req.LeadID != "" && !isValidUUID(req.LeadID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "lead_id must be a UUID when provided")
		return
	}
	items := make([]store.EstimateItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		if !validItem(item) {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "each item needs a description")
			return
		}
		items = append(items, store.EstimateItemInput(item))
	}

	estimate, err := h.billing.CreateEstimate(r.Context(), store.CreateEstimateInput{
		LeadID:     req.LeadID,
		CustomerID: strings.TrimSpace(req.CustomerID),
		JobsiteID:  strings.TrimSpace(req.JobsiteID),
		TaxRate:    req.TaxRate,
		Items:      items,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, estimate)
}

func (h *Handler) handleGetEstimate(w http.ResponseWriter, r *http.Request) {
	estimateID, ok := pathID(w, r, "estimate_id")
	if !ok {
		return
	}
	estimate, err := h.billing.GetEstimate(r.Context(), estimateID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func (h *Handler) handleAddEstimateItem(w http.ResponseWriter, r *http.Request) {
	estimateID, ok := pathID(w, r, "estimate_id")
	if !ok {
		return
	}
	var req estimateItemRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if !validItem(req) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "description is required")
		return
	}
	estimate, err := h.billing.AddEstimateItem(r.Context(), estimateID, store.EstimateItemInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func (h *Handler) handleConvertEstimate(w http.ResponseWriter, r *http.Request) {
	estimateID, ok := pathID(w, r, "estimate_id")
	if !ok {
		return
	}
	var req convertEstimateRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	input := store.ConvertEstimateInput{EstimateID: estimateID, IssuedAt: h.now()}
	if req.IssuedAt != nil {
		input.IssuedAt = req.IssuedAt.UTC()
	}
	result, err := h.billing.ConvertEstimate(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	requestID := requestIDFromRequest(r)
	if req.JobID != "" && !isValidUUID(req.JobID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "job_id must be a UUID when provided")
		return
	}
	req.Number = strings.TrimSpace(req.Number)
	if req.Number != "" {
		if _, ok := billing.ParseInvoiceNumber(req.Number); !ok {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "number must look like "+billing.FormatInvoiceNumber(1))
			return
		}
	}
	switch req.Status {
	case "", models.InvoiceDraft, models.InvoiceSent:
	default:
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "status must be DRAFT or SENT")
		return
	}

	invoice, err := h.billing.CreateInvoice(r.Context(), store.CreateInvoiceInput{
		JobID:    req.JobID,
		Number:   req.Number,
		Amount:   req.Amount,
		Status:   req.Status,
		IssuedAt: req.IssuedAt,
		DueAt:    req.DueAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := pathID(w, r, "invoice_id")
	if !ok {
		return
	}
	invoice, err := h.billing.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payments, err := h.billing.ListPayments(r.Context(), invoiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	writeJSON(w, http.StatusOK, invoiceResponse{
		Invoice:  invoice,
		Payments: payments,
		Summary:  billing.DerivePaymentStatus(invoice, payments),
	})
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := pathID(w, r, "invoice_id")
	if !ok {
		return
	}
	var req recordPaymentRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_amount", "amount must be positive")
		return
	}
	input := store.RecordPaymentInput{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Method:    strings.TrimSpace(req.Method),
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = req.ReceivedAt.UTC()
	}
	result, err := h.billing.RecordPayment(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func validItem(item estimateItemRequest) bool {
	return strings.TrimSpace(item.Description) != ""
}
