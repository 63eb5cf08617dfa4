// Package dedup suppresses repeat recordings of the same event from the same visitor.
package dedup

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"visitguard/internal/cache"
	"visitguard/internal/model"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dedup_decisions_total",
	Help: "Dedup gate decisions by event type and outcome",
}, []string{"event_type", "outcome"})

const (
	MsgRecentVisit        = "Recent visit exists"
	MsgInternalNavigation = "Internal navigation"
	MsgNewSession         = "New session"
	MsgExternalReferrer   = "External traffic source"
	MsgDirectVisit        = "Direct visit"
	MsgHeartbeat          = "Heartbeat recorded"
	MsgSessionEnd         = "Session ended"
	MsgCustomEvent        = "Custom event recorded"
	MsgPageUnload         = "Page unload recorded"
)

// Windows maps event types to their suppression window. Zero disables
// suppression for the type; missing types fall back to Default.
type Windows struct {
	ByType  map[model.EventType]time.Duration
	Default time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		ByType: map[model.EventType]time.Duration{
			model.EventPageVisit:  2 * time.Minute,
			model.EventHeartbeat:  15 * time.Second,
			model.EventSessionEnd: 0,
		},
		Default: 2 * time.Minute,
	}
}

func (w Windows) For(t model.EventType) time.Duration {
	if d, ok := w.ByType[t]; ok {
		return d
	}
	return w.Default
}

type Input struct {
	WebsiteID    string
	IdentityKey  string
	EventType    model.EventType
	IsNewSession bool
	URL          string
	Referrer     string
	Now          time.Time
}

type Decision struct {
	Accept     bool
	Duplicate  bool
	Message    string
	PreviousAt *time.Time
}

type marker struct {
	At time.Time `json:"at"`
}

// Gate decides whether an event should be recorded. Markers live in the
// cache layer, so two workers racing on the same event may both accept it.
type Gate struct {
	cache   cache.Cache
	windows Windows
}

func NewGate(c cache.Cache, windows Windows) *Gate {
	return &Gate{cache: c, windows: windows}
}

func (g *Gate) Decide(ctx context.Context, in Input) Decision {
	eventType := in.EventType.OrDefault()
	d := g.decide(ctx, in, eventType)
	outcome := "accepted"
	if !d.Accept {
		outcome = "rejected"
	}
	decisions.WithLabelValues(string(eventType), outcome).Inc()
	return d
}

func (g *Gate) decide(ctx context.Context, in Input, eventType model.EventType) Decision {
	window := g.windows.For(eventType)
	if window <= 0 {
		return Decision{Accept: true, Message: acceptMessage(in, eventType)}
	}

	key := markerKey(in.WebsiteID, in.IdentityKey, eventType)
	var prev marker
	if g.cache.Get(ctx, cache.CategoryDedup, key, &prev) && in.Now.Sub(prev.At) < window {
		at := prev.At
		return Decision{Duplicate: true, Message: MsgRecentVisit, PreviousAt: &at}
	}

	if eventType == model.EventPageVisit && !in.IsNewSession {
		if ref := host(in.Referrer); ref != "" && ref == host(in.URL) {
			return Decision{Message: MsgInternalNavigation}
		}
	}

	g.cache.Set(ctx, cache.CategoryDedup, key, marker{At: in.Now}, window)
	return Decision{Accept: true, Message: acceptMessage(in, eventType)}
}

func acceptMessage(in Input, eventType model.EventType) string {
	switch eventType {
	case model.EventHeartbeat:
		return MsgHeartbeat
	case model.EventSessionEnd:
		return MsgSessionEnd
	case model.EventCustom:
		return MsgCustomEvent
	case model.EventPageUnload:
		return MsgPageUnload
	}
	switch {
	case in.IsNewSession:
		return MsgNewSession
	case host(in.Referrer) != "" && host(in.Referrer) != host(in.URL):
		return MsgExternalReferrer
	default:
		return MsgDirectVisit
	}
}

// markerKey scopes a marker to one event type as well as website and identity,
// so a heartbeat never suppresses a page visit of the same visitor.
func markerKey(websiteID, identity string, t model.EventType) string {
	return websiteID + "|" + identity + "|" + string(t)
}

// host returns the lowercased host of raw without a leading "www.".
func host(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	h := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(h, "www.")
}
