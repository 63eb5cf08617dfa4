// Package bot flags automated traffic from the user agent and behavioural counters.
package bot

import (
	"fmt"

	"visitguard/internal/model"
	"visitguard/internal/util"
)

const (
	TypeCrawler    = "crawler"
	TypeAutomation = "automation"
	TypeBehavioral = "behavioral"

	crawlerConfidence    = 95
	automationConfidence = 90
	behavioralConfidence = 60

	// DefaultMinLoadTimeMs is the page load time below which a visit with no
	// interaction counts as scripted.
	DefaultMinLoadTimeMs = 50
)

var crawlerTokens = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider", "yandexbot",
	"facebookexternalhit", "ahrefsbot", "semrushbot", "applebot", "petalbot",
	// Generic "bot" only as a product token, so device names like CUBOT pass.
	"bot/", "bot;", "crawler", "spider", "scraper",
}

var automationTokens = []string{
	"headlesschrome", "headless", "phantomjs", "selenium", "webdriver", "puppeteer",
	"playwright", "cypress", "nightwatch", "slimerjs", "htmlunit",
	"curl/", "wget/", "python-requests", "python-urllib", "go-http-client",
	"axios/", "node-fetch", "okhttp", "java/", "libwww-perl",
}

// Detector applies the rules in order; the first match wins.
type Detector struct {
	MinLoadTimeMs float64
}

func New(minLoadTimeMs float64) *Detector {
	if minLoadTimeMs <= 0 {
		minLoadTimeMs = DefaultMinLoadTimeMs
	}
	return &Detector{MinLoadTimeMs: minLoadTimeMs}
}

func (d *Detector) Detect(userAgent string, b model.Behavior) model.BotResult {
	if token, ok := util.ContainsAnyFold(userAgent, crawlerTokens); ok {
		return model.BotResult{
			IsBot:      true,
			BotType:    TypeCrawler,
			Confidence: crawlerConfidence,
			Reason:     fmt.Sprintf("user agent matches crawler token %q", token),
		}
	}
	if token, ok := util.ContainsAnyFold(userAgent, automationTokens); ok {
		return model.BotResult{
			IsBot:      true,
			BotType:    TypeAutomation,
			Confidence: automationConfidence,
			Reason:     fmt.Sprintf("user agent matches automation token %q", token),
		}
	}
	if b.MouseMovements != nil && b.Clicks != nil && b.LoadTimeMs != nil &&
		*b.MouseMovements == 0 && *b.Clicks == 0 && *b.LoadTimeMs < d.MinLoadTimeMs {
		return model.BotResult{
			IsBot:      true,
			BotType:    TypeBehavioral,
			Confidence: behavioralConfidence,
			Reason:     fmt.Sprintf("no interaction and page loaded in %.0fms", *b.LoadTimeMs),
		}
	}
	return model.BotResult{}
}
