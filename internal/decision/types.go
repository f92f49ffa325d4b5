package decision

import (
	"errors"
	"time"
)

// Action is the closed set of things an agent can ask the executor to do.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Source records how a decision was produced.
type Source string

const (
	SourceInference  Source = "inference"
	SourceAggregated Source = "aggregated"
	SourceReview     Source = "review"
)

// ErrParseFailure marks a model response that could not be turned into a
// usable decision. Callers downgrade to HOLD instead of retrying.
var ErrParseFailure = errors.New("decision response parse failure")

// Decision is one agent's verdict for one cycle. ID is assigned by the
// caller before inference so the executor can dedupe replays.
type Decision struct {
	ID         string
	AgentName  string
	CycleID    string
	Symbol     string
	Action     Action
	Quantity   float64
	Confidence float64
	Reasoning  string
	Source     Source
	CreatedAt  time.Time
}

// Hold builds the safe fallback decision used when inference output is
// unusable or an aggregation cannot pick a side.
func Hold(id, agentName, cycleID string, source Source, reason string) Decision {
	return Decision{
		ID:         id,
		AgentName:  agentName,
		CycleID:    cycleID,
		Action:     ActionHold,
		Confidence: 0,
		Reasoning:  reason,
		Source:     source,
		CreatedAt:  time.Now(),
	}
}
