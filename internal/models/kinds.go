package models

// Kind names a collection the mobile client mirrors. The value doubles as the
// URL segment of the snapshot endpoint.
type Kind string

const (
	KindLead          Kind = "leads"
	KindJob           Kind = "jobs"
	KindTask          Kind = "tasks"
	KindCalendarEvent Kind = "calendar_events"
	KindEstimate      Kind = "estimates"
	KindEstimateItem  Kind = "estimate_items"
	KindChangeOrder   Kind = "change_orders"
	KindUser          Kind = "users"
)

var Kinds = []Kind{
	KindLead,
	KindJob,
	KindTask,
	KindCalendarEvent,
	KindEstimate,
	KindEstimateItem,
	KindChangeOrder,
	KindUser,
}

func ParseKind(value string) (Kind, bool) {
	for _, kind := range Kinds {
		if string(kind) == value {
			return kind, true
		}
	}
	return "", false
}
