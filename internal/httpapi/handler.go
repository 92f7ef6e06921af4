package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldops/internal/auth"
	"fieldops/internal/billing"
	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReminderSender delivers a reminder immediately; the worker implements it.
type ReminderSender interface {
	SendNow(ctx context.Context, reminderID string) (models.Reminder, error)
}

const (
	roleTechnician = "technician"
	roleOffice     = "office"
	roleAdmin      = "admin"
)

type TokenIssuer interface {
	GenerateToken(userID, role string, ttl time.Duration) (string, error)
}

type Options struct {
	Billing   store.BillingStore
	Field     store.FieldStore
	Reminders store.ReminderStore
	Users     store.UserStore
	Sender    ReminderSender
	Tokens    TokenIssuer
	TokenTTL  time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

type Handler struct {
	billing   store.BillingStore
	field     store.FieldStore
	reminders store.ReminderStore
	users     store.UserStore
	sender    ReminderSender
	tokens    TokenIssuer
	tokenTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := options.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		billing:   options.Billing,
		field:     options.Field,
		reminders: options.Reminders,
		users:     options.Users,
		sender:    options.Sender,
		tokens:    options.Tokens,
		tokenTTL:  ttl,
		logger:    logger,
		now:       now,
	}
}

// Routes registers every endpoint on a new router. realtime, when non-nil,
// is mounted under /realtime/.
func (h *Handler) Routes(realtime http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	if realtime != nil {
		r.PathPrefix("/realtime/").Handler(realtime)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/users", h.handleCreateUser).Methods(http.MethodPost)

	api.HandleFunc("/snapshots/{kind}", h.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/leads", h.handleCreateLead).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/photos", h.handleAddJobPhoto).Methods(http.MethodPost)

	api.HandleFunc("/estimates", h.handleCreateEstimate).Methods(http.MethodPost)
	api.HandleFunc("/estimates/{id}", h.handleGetEstimate).Methods(http.MethodGet)
	api.HandleFunc("/estimates/{id}/items", h.handleAddEstimateItem).Methods(http.MethodPost)
	api.HandleFunc("/estimates/{id}/convert", h.handleConvertEstimate).Methods(http.MethodPost)

	api.HandleFunc("/invoices", h.handleCreateInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}", h.handleGetInvoice).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}/payments", h.handleRecordPayment).Methods(http.MethodPost)

	api.HandleFunc("/reminders", h.handleCreateReminder).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}", h.handleGetReminder).Methods(http.MethodGet)
	api.HandleFunc("/reminders/{id}/cancel", h.handleCancelReminder).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}/send", h.handleSendReminder).Methods(http.MethodPost)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}
	user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.tokens.GenerateToken(user.UserID, user.RoleName, h.tokenTTL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: h.now().Add(h.tokenTTL), User: user})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), userIDFromRequest(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// handleCreateUser is limited to admins.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)
	if claims, ok := claimsFromContext(r.Context()); !ok || claims.Role != roleAdmin {
		writeError(w, requestID, http.StatusForbidden, "forbidden", "admin role required")
		return
	}
	var req createUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || !strings.Contains(req.Email, "@") {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "name and a valid email are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "password must be at least 8 characters")
		return
	}
	switch req.Role {
	case "":
		req.Role = roleTechnician
	case roleTechnician, roleOffice, roleAdmin:
	default:
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "role must be technician, office or admin")
		return
	}

	user, err := h.users.CreateUser(r.Context(), models.User{
		UserID:   uuid.NewString(),
		Name:     req.Name,
		Email:    req.Email,
		Phone:    strings.TrimSpace(req.Phone),
		RoleName: req.Role,
	}, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// fail maps err to a response and logs anything that becomes a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

// decodeJSON decodes the body into target and writes a 400 on failure. An
// empty body is accepted only when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}, allowEmpty bool) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// pathID returns the {id} route variable, writing a 400 unless it is a UUID.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := mux.Vars(r)["id"]
	if !isValidUUID(id) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", name+" must be a UUID")
		return "", false
	}
	return id, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrEstimateNotFound):
		return http.StatusNotFound, "estimate_not_found", "estimate not found"
	case errors.Is(err, store.ErrInvoiceNotFound):
		return http.StatusNotFound, "invoice_not_found", "invoice not found"
	case errors.Is(err, store.ErrReminderNotFound):
		return http.StatusNotFound, "reminder_not_found", "reminder not found"
	case errors.Is(err, store.ErrLeadNotFound):
		return http.StatusNotFound, "lead_not_found", "lead not found"
	case errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found", "job not found"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, billing.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "current state does not allow this action"
	case errors.Is(err, store.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email", "email already registered"
	case errors.Is(err, store.ErrDuplicateInvoiceNumber):
		return http.StatusConflict, "duplicate_invoice_number", "invoice number already exists"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "invalid token"
	case errors.Is(err, store.ErrUnknownKind):
		return http.StatusBadRequest, "unknown_kind", "unknown snapshot kind"
	case errors.Is(err, billing.ErrNegativeAmount):
		return http.StatusBadRequest, "invalid_amount", "amounts must not be negative"
	case errors.Is(err, billing.ErrNoItems):
		return http.StatusUnprocessableEntity, "no_items", "estimate has no items"
	case errors.Is(err, billing.ErrExhaustedRetries):
		return http.StatusServiceUnavailable, "numbering_unavailable", "could not allocate an invoice number, retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
