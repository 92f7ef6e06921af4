package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/gorilla/mux"
)

type snapshotResponse struct {
	Kind    models.Kind       `json:"kind"`
	Records []json.RawMessage `json:"records"`
}

type createLeadRequest struct {
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Source    string `json:"source"`
}

type addJobPhotoRequest struct {
	RequestID string `json:"request_id"`
	URL       string `json:"url"`
	Caption   string `json:"caption"`
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	kind, ok := models.ParseKind(mux.Vars(r)["kind"])
	if !ok {
		h.fail(w, r, store.ErrUnknownKind)
		return
	}
	records, err := h.field.Snapshot(r.Context(), kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Kind: kind, Records: records})
}

// handleCreateLead is idempotent on the Idempotency-Key header (or
// request_id in the body): a replay answers 200 with the original lead.
func (h *Handler) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	requestID := idempotencyKey(r, req.RequestID)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "email is not valid")
		return
	}

	lead, created, err := h.field.CreateLead(r.Context(), store.CreateLeadInput{
		RequestID: requestID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   strings.TrimSpace(req.Address),
		Source:    strings.TrimSpace(req.Source),
		CreatedAt: h.now(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdStatus(created), lead)
}

func (h *Handler) handleAddJobPhoto(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	var req addJobPhotoRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	requestID := idempotencyKey(r, req.RequestID)
	req.URL = strings.TrimSpace(req.URL)
	if parsed, err := url.Parse(req.URL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "url must be an absolute URL")
		return
	}

	photo, created, err := h.field.AddJobPhoto(r.Context(), store.AddJobPhotoInput{
		RequestID: requestID,
		JobID:     jobID,
		URL:       req.URL,
		Caption:   strings.TrimSpace(req.Caption),
		CreatedAt: h.now(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, createdStatus(created), photo)
}

func idempotencyKey(r *http.Request, bodyValue string) string {
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(bodyValue)
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
