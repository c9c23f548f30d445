package kit

// EventMask selects which notification categories an endpoint receives.
//
// Bit positions are persisted in endpoint rows and must stay stable forever:
// new categories get a new bit, removed categories leave a hole. Bit 0 keeps
// its historical meaning of "all categories enabled" and is the default for
// newly created endpoints.
type EventMask uint32

const (
	EventAll EventMask = 1 << iota
	EventRequestSubmitted
	EventRequestApproved
	EventRequestDeclined
	EventRequestAutoApproved
	EventMediaAvailable
	EventMediaFailed
	EventIssueReported
	EventIssueCommented
	EventIssueResolved
	EventIssueReopened
	EventTest
	EventJobFailed
)

var eventNames = map[EventMask]string{
	EventAll:                 "all",
	EventRequestSubmitted:    "request_submitted",
	EventRequestApproved:     "request_approved",
	EventRequestDeclined:     "request_declined",
	EventRequestAutoApproved: "request_auto_approved",
	EventMediaAvailable:      "media_available",
	EventMediaFailed:         "media_failed",
	EventIssueReported:       "issue_reported",
	EventIssueCommented:      "issue_commented",
	EventIssueResolved:       "issue_resolved",
	EventIssueReopened:       "issue_reopened",
	EventTest:                "test",
	EventJobFailed:           "job_failed",
}

// Has reports whether events of type t should be delivered under mask m.
// A mask with the EventAll bit matches every category.
func (m EventMask) Has(t EventMask) bool {
	if m&EventAll != 0 {
		return true
	}
	return m&t != 0
}

// String returns the category name for a single-bit mask, or a pipe-joined
// list for combined masks. Unknown bits render as "unknown".
func (m EventMask) String() string {
	if name, ok := eventNames[m]; ok {
		return name
	}
	out := ""
	for bit := EventMask(1); bit != 0 && bit <= m; bit <<= 1 {
		if m&bit == 0 {
			continue
		}
		name, ok := eventNames[bit]
		if !ok {
			name = "unknown"
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	if out == "" {
		return "none"
	}
	return out
}

// Payload is the channel-agnostic body of one notification event.
// Adapters template it into their channel-specific request.
type Payload struct {
	Event   EventMask         `json:"event"`
	Subject string            `json:"subject"`
	Message string            `json:"message"`
	Image   string            `json:"image,omitempty"`
	URL     string            `json:"url,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Event is what domain producers push into the dispatcher.
// UserIDs, when non-empty, scopes delivery to endpoints assigned to those
// users; empty means a global event delivered to every matching endpoint.
type Event struct {
	Type    EventMask
	Payload Payload
	UserIDs []int64
}
