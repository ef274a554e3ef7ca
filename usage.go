package relay

// Usage tracks token consumption as reported by the vendor.
//
// Invariant across all adapters:
//
//	InputTokens      = non-cached input tokens
//	CacheReadTokens  = tokens served from cache (cache hit)
//	CacheWriteTokens = tokens written to cache (cache creation)
//
// Total input tokens = InputTokens + CacheReadTokens + CacheWriteTokens.
// Adapters normalize their API-specific fields to this invariant (e.g.,
// OpenAI subtracts cached_tokens from input_tokens to produce InputTokens)
// and clamp to zero when subtracting.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	ReasoningTokens  int
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheReadTokens += o.CacheReadTokens
	u.CacheWriteTokens += o.CacheWriteTokens
	u.ReasoningTokens += o.ReasoningTokens
}
