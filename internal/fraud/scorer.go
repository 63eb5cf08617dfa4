// Package fraud turns threat, bot and history signals into a bounded risk score.
package fraud

import (
	"fmt"
	"time"

	"visitguard/internal/model"
)

const (
	MaxScore      = 100
	HighThreshold = 50

	ActivityHighFraudScore = "high_fraud_score"
	ActivityBotDetected    = "bot_detected"
)

// Weights are the score contributions of each signal.
type Weights struct {
	Tor        int
	VPN        int
	Proxy      int
	Bot        int
	Hosting    int
	Suspicious int
}

func DefaultWeights() Weights {
	return Weights{Tor: 40, VPN: 30, Proxy: 25, Bot: 35, Hosting: 15, Suspicious: 10}
}

// Scorer is stateless; prior activity is passed in by the caller.
type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score sums the weights of every present signal and clamps the total to MaxScore.
// Factors are listed in a fixed order: tor, vpn, proxy, bot, hosting, history.
func (s *Scorer) Score(threat model.ThreatResult, bot model.BotResult, prior []model.SuspiciousActivity) model.FraudAssessment {
	factors := make([]model.RiskFactor, 0, 6)
	add := func(present bool, name string, weight int, desc string) {
		if present && weight > 0 {
			factors = append(factors, model.RiskFactor{Name: name, Weight: weight, Description: desc})
		}
	}
	add(threat.IsTor, "tor", s.w.Tor, "traffic from a Tor exit node")
	add(threat.IsVPN, "vpn", s.w.VPN, "traffic from a VPN provider")
	add(threat.IsProxy, "proxy", s.w.Proxy, "traffic through a proxy")
	add(bot.IsBot, "bot", s.w.Bot, fmt.Sprintf("automated traffic (%s)", bot.BotType))
	add(threat.IsHosting, "hosting", s.w.Hosting, "traffic from a hosting or cloud network")
	if n := len(prior); n > 0 {
		add(true, "suspicious_history", s.w.Suspicious*n, fmt.Sprintf("%d prior suspicious activities", n))
	}

	total := 0
	for _, f := range factors {
		total += f.Weight
	}
	if total > MaxScore {
		total = MaxScore
	}
	return model.FraudAssessment{Score: total, Factors: factors}
}

// Annotate appends the suspicious activities implied by an already scored
// visit. It never changes the score. It returns what was appended.
func Annotate(v *model.Visit, at time.Time) []model.SuspiciousActivity {
	var added []model.SuspiciousActivity
	if v.Fraud.Score > HighThreshold {
		a := model.SuspiciousActivity{Type: ActivityHighFraudScore, Detail: fmt.Sprintf("score %d", v.Fraud.Score), At: at}
		v.AddSuspicious(a)
		added = append(added, a)
	}
	if v.Bot.IsBot {
		a := model.SuspiciousActivity{Type: ActivityBotDetected, Detail: v.Bot.Reason, At: at}
		v.AddSuspicious(a)
		added = append(added, a)
	}
	return added
}
