package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"fieldops/internal/models"
	"fieldops/internal/store"
)

type createReminderRequest struct {
	JobID        string          `json:"job_id"`
	UserID       string          `json:"user_id"`
	Channel      string          `json:"channel"`
	Template     string          `json:"template"`
	Payload      json.RawMessage `json:"payload"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
}

func (h *Handler) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var req createReminderRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	requestID := requestIDFromRequest(r)
	req.Channel = strings.ToUpper(strings.TrimSpace(req.Channel))
	if !models.ValidChannel(req.Channel) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "channel must be EMAIL, SMS or PUSH")
		return
	}
	if req.JobID == "" && req.UserID == "" && len(req.Payload) == 0 {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "job_id, user_id or a payload recipient is required")
		return
	}
	if (req.JobID != "" && !isValidUUID(req.JobID)) || (req.UserID != "" && !isValidUUID(req.UserID)) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "job_id and user_id must be UUIDs")
		return
	}
	if len(req.Payload) > 0 {
		var probe map[string]interface{}
		if err := json.Unmarshal(req.Payload, &probe); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "payload must be a JSON object")
			return
		}
	}

	input := store.CreateReminderInput{
		JobID:        req.JobID,
		UserID:       req.UserID,
		Channel:      req.Channel,
		Template:     strings.TrimSpace(req.Template),
		Payload:      req.Payload,
		ScheduledFor: h.now(),
	}
	if req.ScheduledFor != nil {
		input.ScheduledFor = req.ScheduledFor.UTC()
	}
	reminder, err := h.reminders.CreateReminder(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reminder)
}

func (h *Handler) handleGetReminder(w http.ResponseWriter, r *http.Request) {
	reminderID, ok := pathID(w, r, "reminder_id")
	if !ok {
		return
	}
	reminder, err := h.reminders.GetReminder(r.Context(), reminderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

func (h *Handler) handleCancelReminder(w http.ResponseWriter, r *http.Request) {
	reminderID, ok := pathID(w, r, "reminder_id")
	if !ok {
		return
	}
	reminder, err := h.reminders.CancelReminder(r.Context(), reminderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

// handleSendReminder reports the delivery outcome in the returned status;
// a failed delivery is still a 200.
func (h *Handler) handleSendReminder(w http.ResponseWriter, r *http.Request) {
	reminderID, ok := pathID(w, r, "reminder_id")
	if !ok {
		return
	}
	reminder, err := h.sender.SendNow(r.Context(), reminderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}
