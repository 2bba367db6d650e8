// Package message defines the session message log's typed content model.
package message

// Role identifies who a message came from.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType tags the closed union of content parts a message may carry.
type PartType string

const (
	PartText       PartType = "text"
	PartThinking   PartType = "thinking"
	PartImage      PartType = "image"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// ImageSourceKind tags an Image part's source.
type ImageSourceKind string

const (
	ImageSourceBase64 ImageSourceKind = "base64"
	ImageSourceURL    ImageSourceKind = "url"
)

// ImageSource is either inline base64 bytes or a URL reference.
type ImageSource struct {
	Kind      ImageSourceKind
	MediaType string // set when Kind == ImageSourceBase64
	Data      string // base64 payload, set when Kind == ImageSourceBase64
	URL       string // set when Kind == ImageSourceURL
}

// Part is one element of a message's content. Exactly one of the
// type-specific fields is populated, selected by Type.
type Part struct {
	Type PartType

	Text string // PartText, PartThinking

	Image *ImageSource // PartImage

	ToolUse *ToolUse // PartToolUse, assistant-only

	ToolResult *ToolResult // PartToolResult, tool-only
}

// ToolUse is the model's request to invoke a named tool. ID is unique
// within a turn.
type ToolUse struct {
	ID    string
	Name  string
	Input []byte // raw JSON arguments
}

// ToolResult is the outcome of executing a paired ToolUse.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Message is one role-tagged entry in a session's ordered log.
type Message struct {
	Role  Role
	Parts []Part
}

func Text(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Type: PartText, Text: text}}}
}

func UserText(text string) Message { return Text(RoleUser, text) }

func AssistantText(text string) Message { return Text(RoleAssistant, text) }

func SystemText(text string) Message { return Text(RoleSystem, text) }

// AssistantToolUse builds an assistant message containing a single tool
// invocation part.
func AssistantToolUse(id, name string, input []byte) Message {
	return Message{
		Role: RoleAssistant,
		Parts: []Part{{
			Type:    PartToolUse,
			ToolUse: &ToolUse{ID: id, Name: name, Input: input},
		}},
	}
}

// ToolResultMessage builds a tool-role message carrying the paired result.
func ToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type:       PartToolResult,
			ToolResult: &ToolResult{ToolUseID: toolUseID, Content: content, IsError: isError},
		}},
	}
}

// TextContent concatenates every Text part in the message, ignoring
// thinking/tool parts. Used for transcript replay and summarization.
func (m Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// ToolUses returns every ToolUse part in the message, in order.
func (m Message) ToolUses() []*ToolUse {
	var out []*ToolUse
	for i := range m.Parts {
		if m.Parts[i].Type == PartToolUse {
			out = append(out, m.Parts[i].ToolUse)
		}
	}
	return out
}

// FindToolResult returns the ToolResult part paired to toolUseID, if any
// exists anywhere in messages at or after start.
func FindToolResult(messages []Message, start int, toolUseID string) (*ToolResult, bool) {
	for i := start; i < len(messages); i++ {
		for _, p := range messages[i].Parts {
			if p.Type == PartToolResult && p.ToolResult.ToolUseID == toolUseID {
				return p.ToolResult, true
			}
		}
	}
	return nil, false
}
