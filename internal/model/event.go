package model

import "time"

// EventType classifies what the tracking snippet observed.
type EventType string

const (
	EventPageVisit   EventType = "page_visit"
	EventHeartbeat   EventType = "heartbeat"
	EventSessionEnd  EventType = "session_end"
	EventCustom      EventType = "custom_event"
	EventPageUnload  EventType = "page_unload"
	defaultEventType           = EventPageVisit
)

// Valid reports whether t is one of the event types the snippet emits.
func (t EventType) Valid() bool {
	switch t {
	case EventPageVisit, EventHeartbeat, EventSessionEnd, EventCustom, EventPageUnload:
		return true
	default:
		return false
	}
}

// OrDefault returns page_visit for an empty event type.
func (t EventType) OrDefault() EventType {
	if t == "" {
		return defaultEventType
	}
	return t
}

// Behavior holds the optional behavioural counters reported by the snippet.
// Nil means the snippet did not report the counter.
type Behavior struct {
	MouseMovements *int     `json:"mouseMovements,omitempty"`
	Clicks         *int     `json:"clicks,omitempty"`
	LoadTimeMs     *float64 `json:"loadTimeMs,omitempty"`
	TimeOnPageMs   *int64   `json:"timeOnPage,omitempty"`
}

// VisitEvent represents the payload accepted by the public track API.
type VisitEvent struct {
	TrackingCode     string    `json:"trackingCode"`
	Website          string    `json:"website"`
	URL              string    `json:"url"`
	Referrer         string    `json:"referrer"`
	UserAgent        string    `json:"userAgent"`
	DeviceType       string    `json:"deviceType"`
	Browser          string    `json:"browser"`
	OS               string    `json:"os"`
	ScreenResolution string    `json:"screenResolution"`
	Language         string    `json:"language"`
	Timezone         string    `json:"timezone"`
	EventType        EventType `json:"eventType"`
	EventName        string    `json:"eventName"`
	SessionID        string    `json:"sessionId"`
	Fingerprint      string    `json:"fingerprint"`
	ComputerID       string    `json:"computerId"`
	Behavior
}

// RequestMeta carries server-side facts about the inbound request.
type RequestMeta struct {
	IP         string
	UserAgent  string
	ReceivedAt time.Time
}

// IdentitySignals is the subset of a VisitEvent used to pick a canonical identity.
type IdentitySignals struct {
	WebsiteID   string
	SessionID   string
	Fingerprint string
	ComputerID  string
	IP          string
}

// TrackResponse is returned to the tracking snippet.
type TrackResponse struct {
	Success         bool       `json:"success"`
	Tracked         bool       `json:"tracked"`
	SessionID       string     `json:"sessionId"`
	Message         string     `json:"message"`
	PreviousVisitAt *time.Time `json:"previousVisitAt,omitempty"`
}
