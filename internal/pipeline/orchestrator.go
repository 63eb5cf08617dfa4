// Package pipeline runs one visit event through identity, dedup and enrichment.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"visitguard/internal/dedup"
	"visitguard/internal/fraud"
	"visitguard/internal/identity"
	"visitguard/internal/model"
	"visitguard/internal/sites"
	"visitguard/internal/threat"
	"visitguard/internal/util"
)

// SiteDirectory resolves tracking codes.
type SiteDirectory interface {
	Lookup(trackingCode string) (sites.Website, bool)
}

type LocationResolver interface {
	Resolve(ctx context.Context, ip string) model.LocationResult
}

type ThreatResolver interface {
	Resolve(ctx context.Context, ip string, isp threat.ISPSource) model.ThreatResult
}

type BotDetector interface {
	Detect(userAgent string, b model.Behavior) model.BotResult
}

// Recorder is the storage collaborator.
type Recorder interface {
	Record(ctx context.Context, v *model.Visit) error
}

// Notifier is the live dashboard collaborator.
type Notifier interface {
	Publish(ctx context.Context, s model.LiveSummary) error
}

// Deps wires the orchestrator to its collaborators.
type Deps struct {
	Sites    SiteDirectory
	Identity *identity.Resolver
	Dedup    *dedup.Gate
	Location LocationResolver
	Threat   ThreatResolver
	Bots     BotDetector
	Scorer   *fraud.Scorer
	History  *fraud.History
	Recorder Recorder
	Notifier Notifier
	Logger   *zap.Logger
}

type Config struct {
	// EnrichTimeout bounds the background work for one accepted event.
	EnrichTimeout time.Duration
	// RetryDelay is the pause before the single storage retry.
	RetryDelay time.Duration
	Now        func() time.Time
}

func DefaultConfig() Config {
	return Config{EnrichTimeout: 10 * time.Second, RetryDelay: 200 * time.Millisecond, Now: time.Now}
}

// LookupResult is the diagnostic view of an address.
type LookupResult struct {
	IP       string               `json:"ip"`
	Location model.LocationResult `json:"location"`
	Threat   model.ThreatResult   `json:"threat"`
}

// Orchestrator answers the tracking snippet quickly and finishes enrichment,
// storage and notification in the background.
type Orchestrator struct {
	d   Deps
	cfg Config
	log *zap.Logger
	wg  sync.WaitGroup
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{d: d, cfg: cfg, log: log.Named("pipeline")}
}

// accepted carries the synchronous results into the background stage.
type accepted struct {
	event    model.VisitEvent
	site     sites.Website
	ident    identity.Identity
	ip       string
	ua       string
	received time.Time
}

// Track validates and classifies one event. The returned response never
// depends on enrichment or storage.
func (o *Orchestrator) Track(ctx context.Context, ev model.VisitEvent, meta model.RequestMeta) (model.TrackResponse, error) {
	site, err := o.validate(&ev)
	if err != nil {
		trackedEvents.WithLabelValues("invalid").Inc()
		return model.TrackResponse{}, err
	}
	now := meta.ReceivedAt
	if now.IsZero() {
		now = o.cfg.Now()
	}
	ip := util.NormalizeIP(meta.IP)

	ident, err := o.d.Identity.Resolve(ctx, model.IdentitySignals{
		WebsiteID:   site.ID,
		SessionID:   ev.SessionID,
		Fingerprint: ev.Fingerprint,
		ComputerID:  ev.ComputerID,
		IP:          ip,
	}, now)
	if err != nil {
		trackedEvents.WithLabelValues("invalid").Inc()
		return model.TrackResponse{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	decision := o.d.Dedup.Decide(ctx, dedup.Input{
		WebsiteID:    site.ID,
		IdentityKey:  ident.Key(),
		EventType:    ev.EventType,
		IsNewSession: ident.IsNewSession,
		URL:          ev.URL,
		Referrer:     ev.Referrer,
		Now:          now,
	})
	resp := model.TrackResponse{
		Success:         true,
		Tracked:         decision.Accept,
		SessionID:       ident.Session.ID,
		Message:         decision.Message,
		PreviousVisitAt: decision.PreviousAt,
	}
	if !decision.Accept {
		trackedEvents.WithLabelValues("suppressed").Inc()
		return resp, nil
	}
	trackedEvents.WithLabelValues("accepted").Inc()

	job := accepted{
		event:    ev,
		site:     site,
		ident:    ident,
		ip:       ip,
		ua:       util.FirstNonEmpty(ev.UserAgent, meta.UserAgent),
		received: now,
	}
	o.wg.Add(1)
	inFlightEnrichments.Inc()
	go func() {
		defer o.wg.Done()
		defer inFlightEnrichments.Dec()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.EnrichTimeout)
		defer cancel()
		o.enrich(bg, job)
	}()
	return resp, nil
}

func (o *Orchestrator) validate(ev *model.VisitEvent) (sites.Website, error) {
	ev.TrackingCode = strings.TrimSpace(ev.TrackingCode)
	ev.Website = strings.TrimSpace(ev.Website)
	if ev.TrackingCode == "" {
		return sites.Website{}, fmt.Errorf("%w: trackingCode is required", ErrInvalidInput)
	}
	if ev.Website == "" {
		return sites.Website{}, fmt.Errorf("%w: website is required", ErrInvalidInput)
	}
	ev.EventType = ev.EventType.OrDefault()
	if !ev.EventType.Valid() {
		return sites.Website{}, fmt.Errorf("%w: unknown eventType %q", ErrInvalidInput, ev.EventType)
	}
	site, ok := o.d.Sites.Lookup(ev.TrackingCode)
	if !ok || !site.IsActive() {
		return sites.Website{}, fmt.Errorf("%w: %s", ErrUnknownTrackingCode, ev.TrackingCode)
	}
	if !site.AllowsHost(ev.Website) {
		return sites.Website{}, fmt.Errorf("%w: website %q is not registered for this tracking code", ErrInvalidInput, ev.Website)
	}
	return site, nil
}

func (o *Orchestrator) enrich(ctx context.Context, job accepted) {
	start := time.Now()
	defer func() { enrichDuration.Observe(time.Since(start).Seconds()) }()

	current := *job.ident.Session
	if job.ip != "" {
		current.IP = job.ip
	}
	session := o.d.Identity.Touch(ctx, &current, job.received)
	loc, th := o.resolveAddress(ctx, job.ip)
	bot := o.d.Bots.Detect(job.ua, job.event.Behavior)
	key := job.ident.Key()
	prior := o.d.History.Get(ctx, job.site.ID, key)

	v := o.buildVisit(job, session)
	v.Location = loc
	v.Threat = th
	v.Bot = bot
	v.Fraud = o.d.Scorer.Score(th, bot, prior)
	fraudScores.Observe(float64(v.Fraud.Score))
	if added := fraud.Annotate(v, job.received); len(added) > 0 {
		o.d.History.Record(ctx, job.site.ID, key, added...)
	}

	if err := o.store(ctx, v); err != nil {
		o.log.Error("visit dropped",
			zap.String("visit_id", v.ID),
			zap.String("website_id", v.WebsiteID),
			zap.Error(err))
	}
	if err := o.d.Notifier.Publish(ctx, v.Summary()); err != nil {
		o.log.Warn("live notification failed", zap.String("visit_id", v.ID), zap.Error(err))
	}
}

// store makes one retry before giving up on the visit.
func (o *Orchestrator) store(ctx context.Context, v *model.Visit) error {
	err := o.d.Recorder.Record(ctx, v)
	if err == nil {
		storageWrites.WithLabelValues("ok").Inc()
		return nil
	}
	o.log.Warn("storage write failed, retrying", zap.String("visit_id", v.ID), zap.Error(err))
	select {
	case <-time.After(o.cfg.RetryDelay):
	case <-ctx.Done():
		storageWrites.WithLabelValues("dropped").Inc()
		return fmt.Errorf("%w: %v", ErrPersistence, ctx.Err())
	}
	if err := o.d.Recorder.Record(ctx, v); err != nil {
		storageWrites.WithLabelValues("dropped").Inc()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	storageWrites.WithLabelValues("retried").Inc()
	return nil
}

// resolveAddress runs location and threat lookups concurrently. The threat
// heuristic reads the ISP from the location lookup as soon as it lands.
func (o *Orchestrator) resolveAddress(ctx context.Context, ip string) (model.LocationResult, model.ThreatResult) {
	var loc model.LocationResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		loc = o.d.Location.Resolve(ctx, ip)
	}()
	isp := func(ctx context.Context) (string, error) {
		select {
		case <-done:
			return loc.ISP, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	th := o.d.Threat.Resolve(ctx, ip, isp)
	<-done
	return loc, th
}

func (o *Orchestrator) buildVisit(job accepted, session *model.Session) *model.Visit {
	ev := job.event
	return &model.Visit{
		ID:               uuid.NewString(),
		WebsiteID:        job.site.ID,
		TenantID:         job.site.TenantID,
		Website:          ev.Website,
		URL:              ev.URL,
		Referrer:         ev.Referrer,
		EventType:        ev.EventType,
		EventName:        ev.EventName,
		IP:               job.ip,
		UserAgent:        job.ua,
		DeviceType:       util.FirstNonEmpty(ev.DeviceType, util.ParseDeviceType(job.ua)),
		Browser:          util.FirstNonEmpty(ev.Browser, util.ParseBrowser(job.ua)),
		OS:               util.FirstNonEmpty(ev.OS, util.ParseOS(job.ua)),
		ScreenResolution: ev.ScreenResolution,
		Language:         ev.Language,
		Timezone:         ev.Timezone,
		Fingerprint:      ev.Fingerprint,
		ComputerID:       ev.ComputerID,
		SessionID:        session.ID,
		NewSession:       job.ident.IsNewSession,
		IdentityMethod:   string(job.ident.Method),
		Behavior:         ev.Behavior,
		CreatedAt:        job.received.UTC(),
	}
}

// Lookup resolves location and threat for an address without recording anything.
func (o *Orchestrator) Lookup(ctx context.Context, ip string) (LookupResult, error) {
	if util.ClassifyIP(ip) == util.IPInvalid {
		return LookupResult{}, fmt.Errorf("%w: %q is not an IP address", ErrInvalidInput, ip)
	}
	ip = util.NormalizeIP(ip)
	loc, th := o.resolveAddress(ctx, ip)
	return LookupResult{IP: ip, Location: loc, Threat: th}, nil
}

// Wait blocks until every background enrichment has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
