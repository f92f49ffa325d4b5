package agent

import (
	"context"
	"fmt"
	"strings"

	"quorum/internal/logger"
	"quorum/internal/store"
)

// HistoryReader is the slice of the store the critique builder needs.
type HistoryReader interface {
	GetAgent(ctx context.Context, name string) (store.AgentRecord, bool, error)
	RecentTrades(ctx context.Context, agent string, limit int) ([]store.TradeRecord, error)
}

const critiqueTradeWindow = 10

// buildCritique assembles a self-critique block from recorded history.
// It is a pure store read, no inference spend. Returns "" when it is not
// yet the agent's critique turn.
func buildCritique(ctx context.Context, history HistoryReader, p StrategyProfile) string {
	agent, ok, err := history.GetAgent(ctx, p.Name)
	if err != nil {
		logger.Warnf("agent %s: critique history read failed: %v", p.Name, err)
		return ""
	}
	if !ok || agent.Trades == 0 || agent.Trades%p.CritiqueEvery != 0 {
		return ""
	}

	trades, err := history.RecentTrades(ctx, p.Name, critiqueTradeWindow)
	if err != nil {
		logger.Warnf("agent %s: critique trade read failed: %v", p.Name, err)
		return ""
	}

	var b strings.Builder
	b.WriteString("Self-critique checkpoint.\n")
	fmt.Fprintf(&b, "Lifetime: %d trades, %d wins, %d losses, realized P&L $%.2f, fees paid $%.2f.\n",
		agent.Trades, agent.Wins, agent.Losses, agent.RealizedPnL, agent.FeesPaid)
	if len(trades) > 0 {
		b.WriteString("Recent trades, newest first:\n")
		for _, tr := range trades {
			line := fmt.Sprintf("- %s %s %.4f @ $%.2f (%s", tr.Action, tr.Symbol, tr.Quantity, tr.Price, tr.Status)
			if tr.Status == store.TradeStatusExecuted && tr.Action == "SELL" {
				line += fmt.Sprintf(", pnl $%.2f", tr.RealizedPnL)
			}
			line += ")\n"
			b.WriteString(line)
		}
	}
	b.WriteString("Review what worked and what did not before deciding; adjust sizing or direction accordingly.")
	return b.String()
}
