package domain

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a turn authored by a human channel member.
	RoleUser Role = "user"
	// RoleAssistant is a turn authored by the assistant.
	RoleAssistant Role = "assistant"
)

// ChatTurn is one unit of dialogue in a model conversation. Exactly one of
// Text, ToolCall or ToolResult is set.
type ChatTurn struct {
	Role       Role
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolCall is a structured request from the model to invoke a declared tool.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResult carries a tool's output back into the conversation.
type ToolResult struct {
	Name    string
	Content any
}

// ModelReply is a single model response: natural-language text, a tool call,
// or both.
type ModelReply struct {
	Text     string
	ToolCall *ToolCall
}

// ToolDeclaration is the machine-readable description of a callable tool
// advertised to the model.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Schema is a JSON-schema-style parameter description. Only the subset the
// declared tools need is modeled.
type Schema struct {
	Type        string
	Description string
	Properties  map[string]*Schema
}

// ConverseRequest is the provider-agnostic shape of one conversational model
// call. Turns are ordered oldest first and end with the turn awaiting a reply.
type ConverseRequest struct {
	Model        string
	SystemPrompt string
	Tools        []ToolDeclaration
	Turns        []ChatTurn
}
