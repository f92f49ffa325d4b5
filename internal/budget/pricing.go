package budget

// Pricing is the per-million-token price of a model, input and output
// billed separately.
type Pricing struct {
	InputPerMTokens  float64
	OutputPerMTokens float64
}

// Usage is the billed token count reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// approximate bytes per token for English prose prompts
const charsPerToken = 4

// Estimate sizes a reservation before the call: prompt tokens from the
// character count plus the full output allowance, since the provider may
// bill up to max_tokens of completion.
func Estimate(promptChars, maxOutputTokens int, p Pricing) Cost {
	promptTokens := promptChars / charsPerToken
	if promptTokens < 1 {
		promptTokens = 1
	}
	usd := float64(promptTokens)/1e6*p.InputPerMTokens +
		float64(maxOutputTokens)/1e6*p.OutputPerMTokens
	return Cost{Tokens: promptTokens + maxOutputTokens, USD: usd}
}

// Actual converts billed usage into a Cost for Grant.Commit.
func Actual(u Usage, p Pricing) Cost {
	usd := float64(u.PromptTokens)/1e6*p.InputPerMTokens +
		float64(u.CompletionTokens)/1e6*p.OutputPerMTokens
	return Cost{Tokens: u.PromptTokens + u.CompletionTokens, USD: usd}
}
