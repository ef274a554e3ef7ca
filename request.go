package relay

// Request carries model selection, conversation history and generation
// parameters. Adapters use their own defaults when fields are zero/nil.
type Request struct {
	Model        string // vendor model ID; empty = adapter default
	SystemPrompt string
	Events       []Event
	Tools        []Tool
	MaxTokens    int      // 0 = adapter default
	Temperature  *float64 // nil = adapter default

	// ReasoningEffort is "low", "medium" or "high"; empty = vendor default.
	ReasoningEffort string
	// ReasoningSummary is "auto", "concise" or "detailed"; empty = "auto".
	ReasoningSummary string
}

// Workspace is read-only per-workspace context consumed when building a turn.
type Workspace struct {
	ModelOverride    string
	SystemPrompt     string
	EnabledTools     []string
	ReasoningEffort  string
	ReasoningSummary string
}

// FilterTools returns the subset of tools enabled by the workspace. A
// workspace without an explicit list enables every tool.
func (w Workspace) FilterTools(tools []Tool) []Tool {
	if len(w.EnabledTools) == 0 {
		return tools
	}
	enabled := make(map[string]bool, len(w.EnabledTools))
	for _, name := range w.EnabledTools {
		enabled[name] = true
	}
	var out []Tool
	for _, t := range tools {
		if enabled[t.Name] {
			out = append(out, t)
		}
	}
	return out
}
