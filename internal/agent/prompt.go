package agent

import (
	"fmt"
	"strings"

	"quorum/internal/marketctx"
	"quorum/internal/store"
)

const defaultSystemTemplate = `You are %s, an autonomous trading agent with a %s risk profile.
Decide on at most one action for this cycle.
Respond with a single JSON object and nothing else:
{"action": "BUY"|"SELL"|"HOLD", "symbol": "...", "quantity": <number>, "confidence": <0-100>, "reasoning": "..."}
Rules:
- Only SELL symbols you actually hold, never more than the open quantity.
- Never spend more cash than you have.
- If nothing is clearly actionable, HOLD with low confidence.`

// Cycle is the per-cycle input handed to every agent unit.
type Cycle struct {
	ID        string
	Market    *marketctx.MarketContext
	Positions []store.PositionRecord
	Cash      float64
}

func buildSystemPrompt(p StrategyProfile) string {
	if strings.TrimSpace(p.PromptTemplate) != "" {
		return p.PromptTemplate
	}
	risk := p.RiskProfile
	if risk == "" {
		risk = "balanced"
	}
	return fmt.Sprintf(defaultSystemTemplate, p.Name, risk)
}

func buildUserPrompt(cycle Cycle, critique string, feePerTrade float64) string {
	var b strings.Builder
	b.WriteString(cycle.Market.Summary())
	b.WriteString("\n")

	fmt.Fprintf(&b, "Available cash: $%.2f\n", cycle.Cash)
	fmt.Fprintf(&b, "Every executed trade costs a flat $%.2f fee; factor it into small trades.\n", feePerTrade)

	if len(cycle.Positions) == 0 {
		b.WriteString("Open positions: none\n")
	} else {
		b.WriteString("Open positions:\n")
		for _, pos := range cycle.Positions {
			fmt.Fprintf(&b, "- %s: %.4f @ avg $%.2f\n", pos.Symbol, pos.Quantity, pos.AvgEntryPrice)
		}
	}

	if critique != "" {
		b.WriteString("\n")
		b.WriteString(critique)
		b.WriteString("\n")
	}

	b.WriteString("\nRespond with the JSON object only.")
	return b.String()
}
