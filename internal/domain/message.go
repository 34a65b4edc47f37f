package domain

// Role tags the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the generation model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is the provider-agnostic message shape threaded through a turn.
// ToolCalls is only set on assistant messages and ToolCallID only on tool
// messages.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// HasToolCalls reports whether the message requests at least one tool.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolSpec describes a tool offered to the generation model. Every tool
// takes a single free-text argument.
type ToolSpec struct {
	Name        string
	Description string
}
