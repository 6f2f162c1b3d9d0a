// Package chat defines the inbound chat request envelope, its validation,
// and the response returned to clients.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/petal-labs/finagent/tool"
)

// Role is the author of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Roles lists every recognized role.
var Roles = []Role{RoleUser, RoleSystem, RoleAssistant, RoleTool}

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSystem, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Prompt is one message sent by the client.
type Prompt struct {
	Content string `json:"content"`
	ID      string `json:"id"`
	Role    Role   `json:"role"`
}

// Request is the envelope for one chat turn. ThreadID groups turns into a
// conversation; ResponseID is echoed back untouched.
type Request struct {
	Prompt     Prompt `json:"prompt"`
	ThreadID   string `json:"threadId"`
	ResponseID string `json:"responseId"`
}

// Field names as they appear in validation errors.
const (
	FieldBody          = "body"
	FieldPrompt        = "prompt"
	FieldPromptContent = "prompt.content"
	FieldPromptID      = "prompt.id"
	FieldPromptRole    = "prompt.role"
	FieldThreadID      = "threadId"
	FieldResponseID    = "responseId"
)

// Validate checks that every field is a non-blank string and that the role
// is recognized. All violations are reported in one ValidationError.
func Validate(req Request) error {
	diags := make([]tool.Diagnostic, 0)
	diags = appendStringDiag(diags, FieldPromptContent, req.Prompt.Content)
	diags = appendStringDiag(diags, FieldPromptID, req.Prompt.ID)
	diags = appendRoleDiag(diags, string(req.Prompt.Role))
	diags = appendStringDiag(diags, FieldThreadID, req.ThreadID)
	diags = appendStringDiag(diags, FieldResponseID, req.ResponseID)
	if err := tool.DiagnosticsError(tool.KindValidation, "invalid chat request", diags); err != nil {
		return err
	}
	return nil
}

func appendStringDiag(diags []tool.Diagnostic, field, value string) []tool.Diagnostic {
	if strings.TrimSpace(value) == "" {
		return append(diags, tool.ErrorDiag(field, tool.CodeMissingRequired, field+" must be a non-empty string"))
	}
	return diags
}

func appendRoleDiag(diags []tool.Diagnostic, role string) []tool.Diagnostic {
	if strings.TrimSpace(role) == "" {
		return append(diags, tool.ErrorDiag(FieldPromptRole, tool.CodeMissingRequired, FieldPromptRole+" must be a non-empty string"))
	}
	if !Role(role).Valid() {
		return append(diags, tool.ErrorDiag(FieldPromptRole, tool.CodeInvalidValue,
			fmt.Sprintf("%s %q is not one of %s", FieldPromptRole, role, roleList())))
	}
	return diags
}

func roleList() string {
	names := make([]string, 0, len(Roles))
	for _, r := range Roles {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}

// ToolCall summarizes one tool invocation made while answering.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    tool.Result     `json:"result"`
}

// Response is the answer to one chat request.
type Response struct {
	ResponseID string     `json:"responseId"`
	ThreadID   string     `json:"threadId"`
	MessageID  string     `json:"messageId"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}
