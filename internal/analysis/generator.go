package analysis

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/aegis-trader/paper-engine/internal/model"
	"github.com/aegis-trader/paper-engine/internal/quote"
)

// Generator produces the scripted debate content for a run. Everything
// here is templated strings and seeded randomness — no inference. The
// quote gateway is consulted only so the narrative can mention a real
// price.
type Generator struct {
	source quote.Source
}

// NewGenerator creates a generator backed by the given quote source.
func NewGenerator(source quote.Source) *Generator {
	return &Generator{source: source}
}

type persona struct {
	name     string
	role     string
	scoreLo  float64
	scoreHi  float64
	confLo   int
	confHi   int
	template string
	bull     string
	bear     string
}

var personas = []persona{
	{
		name: "Long-Term Value Investor", role: "value_investor",
		scoreLo: 0.2, scoreHi: 0.7, confLo: 60, confHi: 80,
		template: "Fundamentals for %s look stable at %s; the multiple leaves room if earnings hold.",
		bull:     "Durable cash flow supports a higher fair value.",
		bear:     "A compressed margin cycle would cap the upside.",
	},
	{
		name: "Momentum Swing Trader", role: "momentum_trader",
		scoreLo: 0.3, scoreHi: 0.8, confLo: 65, confHi: 85,
		template: "%s is holding above its short-term averages near %s; the tape favors continuation.",
		bull:     "Breakout volume confirms the trend.",
		bear:     "A close below the 20-day average invalidates the setup.",
	},
	{
		name: "Contrarian Risk Strategist", role: "contrarian",
		scoreLo: -0.3, scoreHi: 0.5, confLo: 55, confHi: 75,
		template: "Crowded positioning in %s at %s is a warning; consensus optimism is itself the risk.",
		bull:     "A washout would create a genuine entry.",
		bear:     "Sentiment extremes resolve violently.",
	},
}

// Agents generates the three analyst opinions plus a debate moderator
// summary for a ticker.
func (g *Generator) Agents(ctx context.Context, rng *rand.Rand, ticker string) []model.AgentOpinion {
	price := "the current price"
	if q, err := g.source.Quote(ctx, ticker); err == nil && q.Current.IsPositive() {
		price = q.Current.StringFixed(2)
	}

	opinions := make([]model.AgentOpinion, 0, len(personas)+1)
	for _, p := range personas {
		opinions = append(opinions, model.AgentOpinion{
			Name:       p.name,
			Role:       p.role,
			Score:      roundScore(p.scoreLo + rng.Float64()*(p.scoreHi-p.scoreLo)),
			Confidence: p.confLo + rng.Intn(p.confHi-p.confLo+1),
			Reasoning:  fmt.Sprintf(p.template, ticker, price),
			KeyData:    fmt.Sprintf("%s last traded at %s", ticker, price),
			BullCase:   p.bull,
			BearCase:   p.bear,
		})
	}

	opinions = append(opinions, model.AgentOpinion{
		Name:       "Debate Moderator",
		Role:       "debate",
		Score:      roundScore(rng.Float64()),
		Confidence: 70,
		Reasoning:  fmt.Sprintf("Analysts agree %s's direction hinges on the next earnings print.", ticker),
		KeyData:    "Value and momentum diverge on time horizon",
	})

	return opinions
}

// Consensus derives the chief analyst's final call from the individual
// opinions: a simple average mapped onto BUY/SELL/HOLD.
func (g *Generator) Consensus(rng *rand.Rand, ticker string, agents []model.AgentOpinion) *model.Consensus {
	var sum float64
	var analysts int
	for _, a := range agents {
		if a.Role == "debate" {
			continue
		}
		sum += a.Score
		analysts++
	}
	score := 0.0
	if analysts > 0 {
		score = roundScore(sum / float64(analysts))
	}

	action := "HOLD"
	risk := "MODERATE"
	switch {
	case score > 0.3:
		action = "BUY"
		risk = "LOW"
	case score < -0.1:
		action = "SELL"
		risk = "HIGH"
	}

	return &model.Consensus{
		Score:       score,
		Action:      action,
		Confidence:  55 + rng.Intn(31),
		Allocation:  5 + rng.Intn(21),
		RiskLevel:   risk,
		Reasoning:   fmt.Sprintf("Weighted debate outcome for %s across value, momentum, and contrarian lenses.", ticker),
		TimeHorizon: "30d",
		KeyRisks: []string{
			"Macro surprises around upcoming data releases",
			fmt.Sprintf("Earnings guidance risk specific to %s", ticker),
		},
	}
}

func roundScore(f float64) float64 {
	return float64(int(f*100)) / 100
}
