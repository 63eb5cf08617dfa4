package model

import "time"

// Accuracy is a coarse confidence label attached to a resolved location.
type Accuracy string

const (
	AccuracyHigh   Accuracy = "high"
	AccuracyMedium Accuracy = "medium"
	AccuracyLow    Accuracy = "low"
	AccuracyNone   Accuracy = "none"
)

// LocationResult is the resolved origin of an IP.
type LocationResult struct {
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	Region      string   `json:"region"`
	City        string   `json:"city"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Timezone    string   `json:"timezone"`
	ISP         string   `json:"isp"`
	Accuracy    Accuracy `json:"accuracy"`
	Provider    string   `json:"provider"`
}

// ThreatResult describes the network reputation of an IP.
type ThreatResult struct {
	IsVPN     bool   `json:"isVpn"`
	IsProxy   bool   `json:"isProxy"`
	IsTor     bool   `json:"isTor"`
	IsHosting bool   `json:"isHosting"`
	Provider  string `json:"provider"`
}

// Flagged reports whether any threat indicator is set.
func (t ThreatResult) Flagged() bool {
	return t.IsVPN || t.IsProxy || t.IsTor || t.IsHosting
}

// BotResult is the outcome of bot detection. Confidence is a display-only percentage.
type BotResult struct {
	IsBot      bool   `json:"isBot"`
	BotType    string `json:"botType,omitempty"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason,omitempty"`
}

// RiskFactor is one named, weighted contributor to a fraud score.
type RiskFactor struct {
	Name        string `json:"name"`
	Weight      int    `json:"weight"`
	Description string `json:"description"`
}

// FraudAssessment is a bounded 0-100 score with its itemized factors.
type FraudAssessment struct {
	Score   int          `json:"score"`
	Factors []RiskFactor `json:"factors"`
}

// SuspiciousActivity is an append-only annotation on a visit or identity.
type SuspiciousActivity struct {
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Session is one browsing session for one visitor on one website.
type Session struct {
	ID           string    `json:"id"`
	WebsiteID    string    `json:"websiteId"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	ComputerID   string    `json:"computerId,omitempty"`
	IP           string    `json:"ip,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	VisitCount   int       `json:"visitCount"`
}

// ExpiresAt returns when the session lapses given an inactivity timeout.
func (s *Session) ExpiresAt(idle time.Duration) time.Time {
	return s.LastActivity.Add(idle)
}

// Expired reports whether the session has been idle for longer than idle at now.
func (s *Session) Expired(now time.Time, idle time.Duration) bool {
	return !now.Before(s.ExpiresAt(idle))
}

// Visit is the denormalized record handed to the storage collaborator.
type Visit struct {
	ID               string               `json:"id"`
	WebsiteID        string               `json:"websiteId"`
	TenantID         string               `json:"tenantId"`
	Website          string               `json:"website"`
	URL              string               `json:"url"`
	Referrer         string               `json:"referrer"`
	EventType        EventType            `json:"eventType"`
	EventName        string               `json:"eventName,omitempty"`
	IP               string               `json:"ip"`
	UserAgent        string               `json:"userAgent"`
	DeviceType       string               `json:"deviceType"`
	Browser          string               `json:"browser"`
	OS               string               `json:"os"`
	ScreenResolution string               `json:"screenResolution,omitempty"`
	Language         string               `json:"language,omitempty"`
	Timezone         string               `json:"timezone,omitempty"`
	Fingerprint      string               `json:"fingerprint,omitempty"`
	ComputerID       string               `json:"computerId,omitempty"`
	SessionID        string               `json:"sessionId"`
	NewSession       bool                 `json:"newSession"`
	IdentityMethod   string               `json:"identityMethod"`
	Behavior         Behavior             `json:"behavior"`
	Location         LocationResult       `json:"location"`
	Threat           ThreatResult         `json:"threat"`
	Bot              BotResult            `json:"bot"`
	Fraud            FraudAssessment      `json:"fraud"`
	Suspicious       []SuspiciousActivity `json:"suspiciousActivities"`
	CreatedAt        time.Time            `json:"createdAt"`
}

// AddSuspicious appends an annotation. The list is never rewritten.
func (v *Visit) AddSuspicious(a SuspiciousActivity) {
	v.Suspicious = append(v.Suspicious, a)
}

// LiveSummary is published for live dashboards.
type LiveSummary struct {
	VisitID    string         `json:"visitId"`
	SessionID  string         `json:"sessionId"`
	IP         string         `json:"ip"`
	Website    string         `json:"website"`
	WebsiteID  string         `json:"websiteId"`
	EventType  EventType      `json:"eventType"`
	Location   LocationResult `json:"location"`
	Threat     ThreatResult   `json:"threat"`
	IsBot      bool           `json:"isBot"`
	FraudScore int            `json:"fraudScore"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Summary builds the live notification for a visit.
func (v *Visit) Summary() LiveSummary {
	return LiveSummary{
		VisitID:    v.ID,
		SessionID:  v.SessionID,
		IP:         v.IP,
		Website:    v.Website,
		WebsiteID:  v.WebsiteID,
		EventType:  v.EventType,
		Location:   v.Location,
		Threat:     v.Threat,
		IsBot:      v.Bot.IsBot,
		FraudScore: v.Fraud.Score,
		Timestamp:  v.CreatedAt,
	}
}
