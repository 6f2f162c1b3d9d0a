package tool

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Severity defines diagnostic severity produced by validators.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic codes.
const (
	CodeMissingRequired = "MISSING_REQUIRED"
	CodeInvalidType     = "INVALID_TYPE"
	CodeInvalidValue    = "INVALID_VALUE"
	CodeUnknownField    = "UNKNOWN_FIELD"
	CodeDuplicateName   = "DUPLICATE_NAME"
	CodeInvalidName     = "INVALID_NAME"
)

// Diagnostic is a structured validation finding.
type Diagnostic struct {
	Field    string   `json:"field,omitempty"`
	Code     string   `json:"code,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// HasErrors returns true when at least one error-severity diagnostic exists.
func HasErrors(diags []Diagnostic) bool {
	return slices.ContainsFunc(diags, func(d Diagnostic) bool {
		return d.Severity == SeverityError
	})
}

// ErrorDiag builds an error-severity diagnostic.
func ErrorDiag(field, code, message string) Diagnostic {
	return Diagnostic{Field: field, Code: code, Severity: SeverityError, Message: message}
}

// toolNamePattern matches the identifiers model APIs accept for functions.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateDescriptor checks the descriptor invariants: a usable name, a
// non-empty description, and unique, typed input names.
func ValidateDescriptor(d Descriptor) []Diagnostic {
	diags := make([]Diagnostic, 0)

	if strings.TrimSpace(d.Name) == "" {
		diags = append(diags, ErrorDiag("name", CodeMissingRequired, "tool name is required"))
	} else if !toolNamePattern.MatchString(d.Name) {
		diags = append(diags, ErrorDiag("name", CodeInvalidName,
			fmt.Sprintf("tool name %q must match %s", d.Name, toolNamePattern.String())))
	}
	if strings.TrimSpace(d.Description) == "" {
		diags = append(diags, ErrorDiag("description", CodeMissingRequired,
			fmt.Sprintf("tool %q needs a description for tool selection", d.Name)))
	}

	seen := make(map[string]struct{}, len(d.Inputs))
	for i, p := range d.Inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			diags = append(diags, ErrorDiag(field+".name", CodeMissingRequired, "input name is required"))
			continue
		}
		if _, dup := seen[p.Name]; dup {
			diags = append(diags, ErrorDiag(field+".name", CodeDuplicateName,
				fmt.Sprintf("input %q is declared more than once", p.Name)))
		}
		seen[p.Name] = struct{}{}
		if _, ok := knownParamTypes[p.Type]; !ok {
			diags = append(diags, ErrorDiag(field+".type", CodeInvalidType,
				fmt.Sprintf("input %q has unknown type %q", p.Name, p.Type)))
		}
	}

	return diags
}

// ValidateInputs checks args against the descriptor. Missing required inputs,
// null values and type mismatches are errors; undeclared inputs are warnings
// since models occasionally add harmless extras.
func ValidateInputs(d Descriptor, args map[string]any) []Diagnostic {
	diags := make([]Diagnostic, 0)

	for _, p := range d.Inputs {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				diags = append(diags, ErrorDiag(p.Name, CodeMissingRequired,
					fmt.Sprintf("%s is required", p.Name)))
			}
			continue
		}
		if reason := checkValue(p.Type, value); reason != "" {
			diags = append(diags, ErrorDiag(p.Name, CodeInvalidType,
				fmt.Sprintf("%s %s", p.Name, reason)))
		}
	}

	extras := make([]string, 0)
	for name := range args {
		if _, ok := d.Param(name); !ok {
			extras = append(extras, name)
		}
	}
	slices.Sort(extras)
	for _, name := range extras {
		diags = append(diags, Diagnostic{
			Field:    name,
			Code:     CodeUnknownField,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s is not an input of %s and is ignored", name, d.Name),
		})
	}

	return diags
}

// CheckInputs validates args and returns a ValidationError naming every
// offending field, or nil.
func CheckInputs(d Descriptor, args map[string]any) error {
	if err := DiagnosticsError(KindValidation, "invalid arguments for "+d.Name, ValidateInputs(d, args)); err != nil {
		return err
	}
	return nil
}

// DiagnosticsError folds error-severity diagnostics into one *Error of the
// given kind. Every offending field is listed in Details["fields"]. Returns
// nil when no errors are present.
func DiagnosticsError(kind Kind, summary string, diags []Diagnostic) *Error {
	if !HasErrors(diags) {
		return nil
	}
	fields := make([]string, 0, len(diags))
	messages := make([]string, 0, len(diags))
	errs := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Severity != SeverityError {
			continue
		}
		errs = append(errs, d)
		messages = append(messages, d.Message)
		if d.Field != "" && !slices.Contains(fields, d.Field) {
			fields = append(fields, d.Field)
		}
	}
	message := strings.Join(messages, "; ")
	if summary != "" {
		message = summary + ": " + message
	}
	return NewError(kind, message).WithDetails(map[string]any{
		"fields":      fields,
		"diagnostics": errs,
	})
}
