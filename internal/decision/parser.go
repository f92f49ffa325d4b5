package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quorum/internal/pkg/jsonutil"
	"quorum/internal/pkg/symbol"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// responseSchema is what we ask every model to emit. Validation is a
// structural gate only; field coercion below stays tolerant about types.
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string"},
    "symbol": {"type": "string"},
    "quantity": {"type": ["number", "string", "integer"]},
    "confidence": {"type": ["number", "string", "integer"]},
    "reasoning": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("decision_response.json", responseSchema)

// Parse turns raw model output into a Decision. Any failure returns a HOLD
// with confidence 0 and a wrapped ErrParseFailure; the caller records the
// hold and moves on, it never retries inside the cycle.
func Parse(id, agentName, cycleID, raw string) (Decision, error) {
	doc, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return parseHold(id, agentName, cycleID, "no JSON document in response"),
			fmt.Errorf("%w: no JSON document", ErrParseFailure)
	}
	if !gjson.Valid(doc) {
		return parseHold(id, agentName, cycleID, "extracted block is not valid JSON"),
			fmt.Errorf("%w: invalid JSON", ErrParseFailure)
	}
	if err := validateSchema(doc); err != nil {
		return parseHold(id, agentName, cycleID, "response failed schema validation"),
			fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	parsed := gjson.Parse(doc)
	rawAction := parsed.Get("action").String()
	action := Action(strings.ToUpper(strings.TrimSpace(rawAction)))
	if !action.Valid() {
		return parseHold(id, agentName, cycleID, fmt.Sprintf("unknown action %q", rawAction)),
			fmt.Errorf("%w: unknown action %q", ErrParseFailure, rawAction)
	}
	ticker := symbol.Normalize(parsed.Get("symbol").String())
	if ticker == "" && action != ActionHold {
		return parseHold(id, agentName, cycleID, "missing or malformed symbol"),
			fmt.Errorf("%w: missing or malformed symbol", ErrParseFailure)
	}

	qty := parsed.Get("quantity").Float()
	if qty < 0 {
		return parseHold(id, agentName, cycleID, "negative quantity"),
			fmt.Errorf("%w: negative quantity", ErrParseFailure)
	}
	if action != ActionHold && qty == 0 {
		return parseHold(id, agentName, cycleID, fmt.Sprintf("%s without quantity", action)),
			fmt.Errorf("%w: %s without quantity", ErrParseFailure, action)
	}

	conf := parsed.Get("confidence").Float()
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}

	return Decision{
		ID:         id,
		AgentName:  agentName,
		CycleID:    cycleID,
		Symbol:     ticker,
		Action:     action,
		Quantity:   qty,
		Confidence: conf,
		Reasoning:  strings.TrimSpace(parsed.Get("reasoning").String()),
		Source:     SourceInference,
		CreatedAt:  time.Now(),
	}, nil
}

func validateSchema(doc string) error {
	var v interface{}
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return err
	}
	return compiledSchema.Validate(v)
}

func parseHold(id, agentName, cycleID, reason string) Decision {
	return Hold(id, agentName, cycleID, SourceInference, "parse failure: "+reason)
}
