package store

import "fieldops/internal/models"

const (
	ReminderActionDispatch = "dispatch"
	ReminderActionCancel   = "cancel"
	ReminderActionSendNow  = "send_now"
)

var reminderTransitions = map[string][]string{
	ReminderActionDispatch: {models.ReminderPending},
	ReminderActionCancel:   {models.ReminderPending, models.ReminderFailed},
	ReminderActionSendNow:  {models.ReminderPending, models.ReminderFailed, models.ReminderCancelled},
}

func ValidReminderTransition(action, fromStatus string) bool {
	allowed, ok := reminderTransitions[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
