package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/petal-labs/finagent/tool"
)

// Decode parses and validates a request body. Absent, null, non-string and
// blank fields are all reported together; a body that is not a JSON object
// fails on FieldBody alone.
func Decode(r io.Reader) (Request, error) {
	var root map[string]json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&root); err != nil || root == nil {
		msg := "request body must be a JSON object"
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		return Request{}, tool.Wrap(tool.KindValidation, err, msg).
			WithDetails(map[string]any{"fields": []string{FieldBody}})
	}

	var req Request
	diags := make([]tool.Diagnostic, 0)

	prompt, diag := objectField(root, FieldPrompt)
	if diag != nil {
		diags = append(diags, *diag)
	} else {
		var content, id, role string
		content, diags = stringField(prompt, "content", FieldPromptContent, diags)
		id, diags = stringField(prompt, "id", FieldPromptID, diags)
		var roleDiags []tool.Diagnostic
		role, roleDiags = stringField(prompt, "role", FieldPromptRole, nil)
		if len(roleDiags) > 0 {
			diags = append(diags, roleDiags...)
		} else {
			diags = appendRoleDiag(diags, role)
		}
		req.Prompt = Prompt{Content: content, ID: id, Role: Role(role)}
	}
	req.ThreadID, diags = stringField(root, "threadId", FieldThreadID, diags)
	req.ResponseID, diags = stringField(root, "responseId", FieldResponseID, diags)

	if err := tool.DiagnosticsError(tool.KindValidation, "invalid chat request", diags); err != nil {
		return Request{}, err
	}
	return req, nil
}

func objectField(obj map[string]json.RawMessage, field string) (map[string]json.RawMessage, *tool.Diagnostic) {
	raw, ok := obj[field]
	if !ok || isNull(raw) {
		d := tool.ErrorDiag(field, tool.CodeMissingRequired, field+" is required")
		return nil, &d
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		d := tool.ErrorDiag(field, tool.CodeInvalidType, field+" must be an object")
		return nil, &d
	}
	return out, nil
}

func stringField(obj map[string]json.RawMessage, key, field string, diags []tool.Diagnostic) (string, []tool.Diagnostic) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", append(diags, tool.ErrorDiag(field, tool.CodeMissingRequired, field+" is required"))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", append(diags, tool.ErrorDiag(field, tool.CodeInvalidType, field+" must be a string"))
	}
	return s, appendStringDiag(diags, field, s)
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
