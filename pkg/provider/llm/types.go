package llm

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsJSONMode reports whether the backend honours
	// CompletionRequest.JSONOutput natively.
	SupportsJSONMode bool
}

// InputBudget returns how many tokens are left for the prompt once room for a
// full reply is reserved. A reply to a correction request repeats the whole
// text, so input and output compete for the same window. Zero means unknown.
func (c ModelCapabilities) InputBudget() int {
	if c.ContextWindow <= 0 {
		return 0
	}
	budget := c.ContextWindow - c.MaxOutputTokens
	if budget < 0 {
		return 0
	}
	return budget
}
