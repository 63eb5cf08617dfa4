package fraud

import (
	"context"
	"time"

	"visitguard/internal/cache"
	"visitguard/internal/model"
)

const (
	DefaultHistoryTTL = 24 * time.Hour
	DefaultHistoryCap = 20
)

// History is the rolling list of suspicious activity per website and identity.
type History struct {
	cache cache.Cache
	ttl   time.Duration
	cap   int
}

func NewHistory(c cache.Cache, ttl time.Duration, capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{cache: c, ttl: ttl, cap: capacity}
}

func (h *History) Get(ctx context.Context, websiteID, identity string) []model.SuspiciousActivity {
	var list []model.SuspiciousActivity
	h.cache.Get(ctx, cache.CategorySuspicious, historyKey(websiteID, identity), &list)
	return list
}

// Record appends entries, keeping only the newest cap entries.
func (h *History) Record(ctx context.Context, websiteID, identity string, entries ...model.SuspiciousActivity) {
	if len(entries) == 0 {
		return
	}
	list := append(h.Get(ctx, websiteID, identity), entries...)
	if len(list) > h.cap {
		list = list[len(list)-h.cap:]
	}
	h.cache.Set(ctx, cache.CategorySuspicious, historyKey(websiteID, identity), list, h.ttl)
}

func historyKey(websiteID, identity string) string {
	return websiteID + "|" + identity
}
